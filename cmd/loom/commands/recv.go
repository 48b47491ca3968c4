package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
)

func recvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv",
		Short: "Decrypt an envelope read as JSON from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			var env domain.Envelope
			if err := readJSONStdin(&env); err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}
			plaintext, err := wire.Sessions.Decrypt(passphrase, env)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", plaintext)
			return nil
		},
	}
}
