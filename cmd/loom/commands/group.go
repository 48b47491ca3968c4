package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
)

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Sender-key group sessions",
	}
	cmd.AddCommand(
		groupCreateCmd(),
		groupSendCmd(),
		groupRecvCmd(),
		groupShareCmd(),
		groupImportCmd(),
	)
	return cmd
}

func groupCreateCmd() *cobra.Command {
	var (
		maxMessages uint32
		maxAge      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <conversation>",
		Short: "Mint a fresh outbound session for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			policy := domain.DefaultRotationPolicy()
			if maxMessages > 0 {
				policy.MaxMessages = maxMessages
			}
			if maxAge > 0 {
				policy.MaxAge = maxAge
			}
			out, err := wire.Groups.CreateOutboundSession(passphrase, domain.ConversationID(args[0]), policy)
			if err != nil {
				return err
			}
			fmt.Printf("session: %s\n", out.ID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&maxMessages, "max-messages", 0, "rotate after this many messages")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "rotate after this long")
	return cmd
}

func groupSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <message>",
		Short: "Encrypt a group message, printing it as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			msg, err := wire.Groups.EncryptGroup(passphrase, domain.ConversationID(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			return printJSON(msg)
		},
	}
}

func groupRecvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv",
		Short: "Decrypt a group message read as JSON from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg domain.GroupMessage
			if err := readJSONStdin(&msg); err != nil {
				return fmt.Errorf("read group message: %w", err)
			}
			plaintext, err := wire.Groups.DecryptGroup(msg)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", plaintext)
			return nil
		},
	}
}

func groupShareCmd() *cobra.Command {
	var atIndex uint32
	var fromStart bool
	cmd := &cobra.Command{
		Use:   "share <conversation> <user> <device> [<user> <device> ...]",
		Short: "Wrap the session key for members, printing envelopes as JSON",
		Long: `Export the conversation's session key for each named member,
wrapped by that member's pairwise session. By default the export starts
at the current message index so new members cannot read history; pass
--from-start to include everything this device can itself decrypt.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || len(args)%2 != 1 {
				return fmt.Errorf("expected a conversation followed by user/device pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			conv := domain.ConversationID(args[0])

			var recipients []domain.X25519Public
			for i := 1; i < len(args); i += 2 {
				sess, err := findSession(domain.UserID(args[i]), domain.DeviceID(args[i+1]))
				if err != nil {
					return err
				}
				recipients = append(recipients, sess.Peer.IdentityKey)
			}

			at := atIndex
			if !cmd.Flags().Changed("at") && !fromStart {
				out, ok, err := wire.Groups.OutboundSession(conv)
				if err != nil {
					return err
				}
				if !ok {
					return domain.ErrSessionNotFound
				}
				at = out.MessageIndex
			}

			envs, err := wire.Groups.ShareSessionKey(passphrase, conv, at, recipients)
			if err != nil {
				return err
			}
			return printJSON(envs)
		},
	}
	cmd.Flags().Uint32Var(&atIndex, "at", 0, "message index the export starts at")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "share from the earliest index this device knows")
	return cmd
}

func groupImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import a shared session key read as an envelope from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			var env domain.Envelope
			if err := readJSONStdin(&env); err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}
			in, err := wire.Groups.ImportSharedKey(passphrase, env)
			if err != nil {
				return err
			}
			fmt.Printf("imported session %s for %s from index %d\n",
				in.ID, in.ConversationID, in.FirstKnownIndex)
			return nil
		},
	}
}
