package commands

import (
	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user> <device> <message>",
		Short: "Encrypt a message for a peer, printing the envelope as JSON",
		Long: `Encrypt a message for a peer device. The envelope is printed to
stdout as JSON; delivering it is up to whatever transport the
application uses.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			sess, err := findSession(domain.UserID(args[0]), domain.DeviceID(args[1]))
			if err != nil {
				return err
			}
			env, err := wire.Sessions.Encrypt(passphrase, sess.Peer.IdentityKey, []byte(args[2]))
			if err != nil {
				return err
			}
			return printJSON(env)
		},
	}
}
