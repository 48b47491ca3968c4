package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func replenishCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "replenish",
		Short: "Top up the published one-time prekey pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			n, err := wire.Identity.ReplenishOneTimePrekeys(cmd.Context(), passphrase, count)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Println("pool is healthy, nothing published")
			} else {
				fmt.Printf("published %d one-time prekeys\n", n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "prekeys to generate (default tops up to 20)")
	return cmd
}

func rotatePrekeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-prekey",
		Short: "Rotate the signed prekey and republish the bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			id, err := wire.Identity.RotateSignedPrekey(cmd.Context(), passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("current signed prekey: %s\n", id)
			return nil
		},
	}
}
