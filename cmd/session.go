package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wagate/wagate/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect persisted WhatsApp auth material",
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionWipeCmd)
}

func authStore() (*session.AuthStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.NewAuthStore(cfg.AuthPath()), nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants with persisted credentials",
	RunE: func(_ *cobra.Command, _ []string) error {
		auth, err := authStore()
		if err != nil {
			return err
		}
		tenants, err := auth.Tenants()
		if err != nil {
			return err
		}
		if len(tenants) == 0 {
			fmt.Println("No paired sessions.")
			return nil
		}
		for _, t := range tenants {
			fmt.Println(t)
		}
		return nil
	},
}

var sessionWipeCmd = &cobra.Command{
	Use:   "wipe <tenant>",
	Short: "Delete a tenant's credentials; the next connect shows a new QR code",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		auth, err := authStore()
		if err != nil {
			return err
		}
		if !auth.Exists(args[0]) {
			fmt.Printf("No credentials for %s\n", args[0])
			return nil
		}
		if err := auth.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Wiped credentials for %s\n", args[0])
		return nil
	},
}
