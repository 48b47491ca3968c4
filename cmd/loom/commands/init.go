package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
)

func initCmd() *cobra.Command {
	var (
		user    string
		prekeys int
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the device identity and publish its prekey bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			id, fp, err := wire.Identity.GenerateIdentity(cmd.Context(), passphrase, domain.UserID(user), prekeys)
			if err != nil {
				return err
			}
			fmt.Printf("device:      %s\n", id.DeviceID)
			fmt.Printf("fingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account this device belongs to")
	cmd.Flags().IntVar(&prekeys, "prekeys", 0, "one-time prekeys to publish (default 20)")
	return cmd
}
