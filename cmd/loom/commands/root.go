package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/app"
)

var (
	home         string
	passphrase   string
	directoryURL string
	verbose      bool

	wire *app.Wire
)

// Execute runs the loom CLI.
func Execute() error {
	root := &cobra.Command{
		Use:           "loom",
		Short:         "End-to-end encrypted messaging keystore and engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".loom")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			log := logrus.New()
			log.SetOutput(os.Stderr)
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.WarnLevel)
			}

			var err error
			wire, err = app.NewWire(app.Config{
				Home:         home,
				DirectoryURL: directoryURL,
				Log:          log,
			})
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.loom)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local keys")
	root.PersistentFlags().StringVar(&directoryURL, "directory", "", "key directory base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		replenishCmd(),
		rotatePrekeyCmd(),
		destroyCmd(),
		startSessionCmd(),
		sessionsCmd(),
		sendCmd(),
		recvCmd(),
		groupCmd(),
		backupCmd(),
		verifyCmd(),
	)
	return root.Execute()
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

func requireDirectory() error {
	if directoryURL == "" {
		return fmt.Errorf("no key directory configured, use --directory")
	}
	return nil
}
