package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagate/wagate/internal/session"
	"github.com/wagate/wagate/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wagate status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := configPath()

	fmt.Print("wagate Status\n\n")

	_, statErr := os.Stat(cfgPath)
	fmt.Printf("Config:    %s %s\n", cfgPath, mark(statErr == nil))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	fmt.Printf("Listen:    %s\n", cfg.HTTP.Addr)
	fmt.Printf("Bridge:    %s\n", cfg.WhatsApp.BridgeURL)
	fmt.Printf("Webhook:   %s\n", orNotSet(cfg.Webhook.URL))
	fmt.Printf("AMQP:      %s\n\n", orNotSet(redactURL(cfg.Events.AMQPURL)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		fmt.Printf("Datastore: %s ✗ (%v)\n", cfg.Database.Driver, err)
	} else {
		defer db.Close()
		fmt.Printf("Datastore: %s ✓\n", cfg.Database.Driver)
		if tenants, err := db.Tenants(ctx); err == nil {
			fmt.Printf("Tenants:   %d with API keys\n", len(tenants))
		}
	}

	auth := session.NewAuthStore(cfg.AuthPath())
	tenants, err := auth.Tenants()
	if err != nil {
		fmt.Printf("Sessions:  %s ✗ (%v)\n", auth.Root(), err)
		return nil
	}
	fmt.Printf("Sessions:  %d paired under %s\n", len(tenants), auth.Root())
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
