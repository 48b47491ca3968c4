package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomchat/loom/internal/domain"
	"github.com/loomchat/loom/internal/services/backup"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypted key backups",
	}
	cmd.AddCommand(
		backupCreateCmd(),
		backupRestoreCmd(),
		backupDeleteCmd(),
	)
	return cmd
}

func backupCreateCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Encrypt all local state under a password and upload it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireDirectory(); err != nil {
				return err
			}
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			if _, err := wire.Backups.CreateBackup(cmd.Context(), passphrase, password); err != nil {
				if err == domain.ErrWeakPassword {
					return fmt.Errorf("password too weak (score %d, need 3 or better)",
						backup.PasswordStrength(password))
				}
				return err
			}
			fmt.Println("backup uploaded")
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "backup password, independent of the passphrase")
	return cmd
}

func backupRestoreCmd() *cobra.Command {
	var (
		user     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Download a backup and replace all local state with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireDirectory(); err != nil {
				return err
			}
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			if err := wire.Backups.RestoreBackup(cmd.Context(), passphrase, domain.UserID(user), password); err != nil {
				return err
			}
			fmt.Println("backup restored")
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account the backup belongs to")
	cmd.Flags().StringVar(&password, "password", "", "backup password")
	return cmd
}

func backupDeleteCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the uploaded backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDirectory(); err != nil {
				return err
			}
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if err := wire.Backups.DeleteBackup(cmd.Context(), domain.UserID(user)); err != nil {
				return err
			}
			fmt.Println("backup deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account the backup belongs to")
	return cmd
}
