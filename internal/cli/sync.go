package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"emi-offers/internal/app"
)

var (
	syncLookbackDays int
	syncDryRun       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch and reconcile new or revised offers files once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncLookbackDays < 0 {
			return fmt.Errorf("--lookback-days cannot be negative")
		}
		return getApp().Sync(cmd.Context(), app.SyncOptions{
			LookbackDays: syncLookbackDays,
			DryRun:       syncDryRun,
		})
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncLookbackDays, "lookback-days", 0, "Days of published files to re-check (defaults to config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "List stale files without fetching")
}
