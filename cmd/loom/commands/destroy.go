package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func destroyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Wipe the device identity and all local key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to wipe without --yes")
			}
			if err := wire.Identity.DestroyIdentity(); err != nil {
				return err
			}
			fmt.Println("identity destroyed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}
