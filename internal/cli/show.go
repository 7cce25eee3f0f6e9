package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"emi-offers/internal/app"
	"emi-offers/internal/offers"
)

var (
	showDate   string
	showPeriod int
	showUnit   string
	showPOC    string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display ingested files or stored offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			Period: showPeriod,
			Unit:   showUnit,
			POC:    showPOC,
			Limit:  showLimit,
		}
		if showDate != "" {
			date, err := parseDateFlag("--date", showDate)
			if err != nil {
				return err
			}
			opts.Date = &date
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showDate, "date", "", "Trading date (YYYY-MM-DD)")
	showCmd.Flags().IntVar(&showPeriod, "period", 0, "Trading period 1-50 (requires --date)")
	showCmd.Flags().StringVar(&showUnit, "unit", "", "Generating unit code")
	showCmd.Flags().StringVar(&showPOC, "poc", "", "Point of connection code")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Maximum rows to display (0 for all)")
}

func parseDateFlag(name, value string) (time.Time, error) {
	date, err := offers.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return date, nil
}
