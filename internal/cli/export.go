package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"emi-offers/internal/app"
)

var (
	exportDate    string
	exportPeriod  int
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored offers as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportDate == "" {
			return fmt.Errorf("--date must be provided")
		}
		date, err := parseDateFlag("--date", exportDate)
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			Date:    date,
			Period:  exportPeriod,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDate, "date", "", "Trading date (YYYY-MM-DD)")
	exportCmd.Flags().IntVar(&exportPeriod, "period", 0, "Trading period; the chart becomes the offer stack")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
