package cli

import (
	"github.com/spf13/cobra"
)

var (
	simulateStage string
	simulateDate  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-abort",
	Short: "Send a synthetic aborted-run notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateDate != "" {
			if _, err := parseDateFlag("--date", simulateDate); err != nil {
				return err
			}
		}
		return getApp().SimulateAbort(cmd.Context(), simulateStage, simulateDate)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateStage, "stage", "fetching", "Stage reported as failed")
	simulateCmd.Flags().StringVar(&simulateDate, "date", "", "Trading date reported as failed (YYYY-MM-DD)")
}
