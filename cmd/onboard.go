package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wagate/wagate/internal/config"
	"github.com/wagate/wagate/internal/store"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration, data directories and the datastore",
	RunE:  runOnboard,
}

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := configPath()

	if _, err := os.Stat(cfgPath); err == nil {
		existing, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			def := config.DefaultConfig()
			existing = &def
		}
		if err := config.Save(existing, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Config refreshed at %s\n", cfgPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.AuthPath(), 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	fmt.Printf("✓ Auth material at %s\n", cfg.AuthPath())

	db, err := store.Open(context.Background(), cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	db.Close()
	fmt.Printf("✓ Datastore ready (%s)\n", cfg.Database.Driver)

	fmt.Print("\nwagate is ready!\n\n")
	fmt.Println("Next steps:")
	fmt.Printf("  1. Point whatsapp.bridgeUrl in %s at your bridge\n", cfgPath)
	fmt.Println("  2. Create a key:  wagate apikey create --tenant <id>")
	fmt.Println("  3. Run:           wagate serve")
	return nil
}
