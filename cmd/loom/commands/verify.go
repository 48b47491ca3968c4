package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/services/verify"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Out-of-band device verification",
	}
	cmd.AddCommand(verifyMarkCmd(), verifyListCmd())
	return cmd
}

func verifyMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <user> <device>",
		Short: "Record that fingerprints were compared out-of-band",
		Long: `Print the peer's fingerprint and record the device as verified.
Compare the printed value with what the peer's screen shows before
trusting the session.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := findSession(domain.UserID(args[0]), domain.DeviceID(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("peer fingerprint: %s\n", verify.Fingerprint(sess.Peer.IdentityKey))
			if err := wire.Verify.MarkVerified(sess.Peer); err != nil {
				return err
			}
			fmt.Printf("marked %s/%s verified\n", sess.Peer.UserID, sess.Peer.DeviceID)
			return nil
		},
	}
}

func verifyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's verified devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := wire.Verify.GetVerifiedDevices(domain.UserID(args[0]))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tFINGERPRINT\tVERIFIED")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					d.DeviceID, d.Fingerprint, time.Unix(d.VerifiedUTC, 0).UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}
