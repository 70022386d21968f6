package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagate/wagate/internal/store"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage scheduled bulk campaigns",
}

func init() {
	campaignCmd.AddCommand(campaignListCmd)
	campaignCmd.AddCommand(campaignAddCmd)
}

// openStore loads config and opens the datastore for one-shot commands.
func openStore(ctx context.Context) (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
}

// ---- list ------------------------------------------------------------------

var campaignListTenant string

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		list, err := db.ListCampaigns(ctx, campaignListTenant)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No campaigns.")
			return nil
		}
		fmt.Printf("%-6s %-24s %-10s %-11s %-12s %-17s\n", "ID", "Name", "Status", "Recipients", "Throttle", "Start")
		fmt.Println(repeatStr("-", 85))
		for _, c := range list {
			throttle := fmt.Sprintf("%d-%dms", c.ThrottleMinMs, c.ThrottleMaxMs)
			fmt.Printf("%-6d %-24s %-10s %-11d %-12s %-17s\n",
				c.ID, truncStr(c.Name, 23), c.Status, len(c.Recipients), throttle,
				c.ScheduledAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	campaignListCmd.Flags().StringVarP(&campaignListTenant, "tenant", "t", "", "Tenant id (required)")
	campaignListCmd.MarkFlagRequired("tenant")
}

// ---- add -------------------------------------------------------------------

var (
	campaignAddTenant   string
	campaignAddName     string
	campaignAddMsg      string
	campaignAddTemplate int64
	campaignAddNumbers  string
	campaignAddFile     string
	campaignAddAt       string
	campaignAddMin      int
	campaignAddMax      int
)

var campaignAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a campaign",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw := strings.ReplaceAll(campaignAddNumbers, ",", "\n")
		if campaignAddFile != "" {
			data, err := os.ReadFile(campaignAddFile)
			if err != nil {
				return fmt.Errorf("read numbers file: %w", err)
			}
			raw += "\n" + string(data)
		}
		numbers := store.ParseRecipients(raw)
		if len(numbers) == 0 {
			return fmt.Errorf("no recipients: use --numbers or --file")
		}
		if campaignAddMsg == "" && campaignAddTemplate == 0 {
			return fmt.Errorf("must specify --message or --template")
		}
		if campaignAddMin < 0 || campaignAddMax < campaignAddMin {
			return fmt.Errorf("throttle bounds must satisfy 0 <= min <= max")
		}

		c := &store.Campaign{
			TenantID:      campaignAddTenant,
			Name:          campaignAddName,
			MessageBody:   campaignAddMsg,
			Recipients:    numbers,
			ThrottleMinMs: campaignAddMin,
			ThrottleMaxMs: campaignAddMax,
		}
		if campaignAddTemplate > 0 {
			c.TemplateID = &campaignAddTemplate
		}
		if campaignAddAt != "" {
			at, err := time.ParseInLocation("2006-01-02T15:04:05", campaignAddAt, time.Local)
			if err != nil {
				at, err = time.Parse(time.RFC3339, campaignAddAt)
				if err != nil {
					return fmt.Errorf("invalid --at value %q: %w", campaignAddAt, err)
				}
			}
			c.ScheduledAt = at
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CreateCampaign(ctx, c); err != nil {
			return err
		}
		fmt.Printf("✓ Scheduled campaign '%s' (%d) for %d recipients at %s\n",
			c.Name, c.ID, len(c.Recipients), c.ScheduledAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	campaignAddCmd.Flags().StringVarP(&campaignAddTenant, "tenant", "t", "", "Tenant id (required)")
	campaignAddCmd.Flags().StringVarP(&campaignAddName, "name", "n", "", "Campaign name")
	campaignAddCmd.Flags().StringVarP(&campaignAddMsg, "message", "m", "", "Message body ({name} and {phone} are substituted)")
	campaignAddCmd.Flags().Int64Var(&campaignAddTemplate, "template", 0, "Template id to use instead of --message")
	campaignAddCmd.Flags().StringVar(&campaignAddNumbers, "numbers", "", "Comma-separated recipients")
	campaignAddCmd.Flags().StringVarP(&campaignAddFile, "file", "f", "", "File with one recipient per line")
	campaignAddCmd.Flags().StringVar(&campaignAddAt, "at", "", "Start time (2006-01-02T15:04:05 local or RFC 3339); default now")
	campaignAddCmd.Flags().IntVar(&campaignAddMin, "throttle-min", 2000, "Minimum delay between recipients (ms)")
	campaignAddCmd.Flags().IntVar(&campaignAddMax, "throttle-max", 7000, "Maximum delay between recipients (ms)")
	campaignAddCmd.MarkFlagRequired("tenant")
}
