package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
)

func startSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start-session <user> <device>",
		Short: "Claim a peer's prekey bundle and establish a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireDirectory(); err != nil {
				return err
			}
			sess, err := wire.Sessions.EstablishOutbound(
				cmd.Context(), passphrase, domain.UserID(args[0]), domain.DeviceID(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("session established with %s/%s\n", sess.Peer.UserID, sess.Peer.DeviceID)
			fmt.Printf("peer identity: %s\n", sess.Peer.IdentityKey.Hex())
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List pairwise sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := wire.Sessions.Sessions()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tDEVICE\tSTATE\tIDENTITY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.Peer.UserID, s.Peer.DeviceID, s.State, s.Peer.IdentityKey.Hex())
			}
			return w.Flush()
		},
	}
}
