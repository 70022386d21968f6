package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wagate/wagate/internal/store"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage tenant API keys",
}

func init() {
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyListCmd)
}

var (
	apikeyTenant string
	apikeyName   string
)

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key for a tenant; the key is printed once",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		plaintext, err := store.GenerateAPIKey()
		if err != nil {
			return err
		}
		k, err := db.CreateAPIKey(ctx, apikeyTenant, apikeyName, plaintext)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Created key %d for tenant %s\n\n  %s\n\nStore it now; it cannot be shown again.\n", k.ID, k.TenantID, plaintext)
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's API keys",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		keys, err := db.ListAPIKeys(ctx, apikeyTenant)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No API keys.")
			return nil
		}
		fmt.Printf("%-6s %-24s %-20s\n", "ID", "Name", "Created")
		fmt.Println(repeatStr("-", 52))
		for _, k := range keys {
			fmt.Printf("%-6d %-24s %-20s\n", k.ID, truncStr(k.Name, 23), k.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{apikeyCreateCmd, apikeyListCmd} {
		c.Flags().StringVarP(&apikeyTenant, "tenant", "t", "", "Tenant id (required)")
		c.MarkFlagRequired("tenant")
	}
	apikeyCreateCmd.Flags().StringVarP(&apikeyName, "name", "n", "default", "Key label")
}
