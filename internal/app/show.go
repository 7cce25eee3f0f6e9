package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"emi-offers/internal/offers"
	"emi-offers/internal/storage"
)

// Show prints ingested files or the offers matching one filter.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Period > 0 && opts.Date == nil {
		return errors.New("--period requires --date")
	}

	var rows []offers.Offer
	switch {
	case opts.Date != nil && opts.Period > 0:
		rows, err = store.ListByTradingPeriod(ctx, *opts.Date, opts.Period)
	case opts.Date != nil:
		rows, err = store.ListByDate(ctx, *opts.Date)
	case opts.Unit != "":
		rows, err = store.ListByUnit(ctx, opts.Unit)
	case opts.POC != "":
		rows, err = store.ListByPointOfConnection(ctx, opts.POC)
	default:
		return a.showFiles(ctx, store, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no offers found")
		return nil
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tTP\tStart\tSite\tPOC\tUnit\tTranche\tMW\t$/MWh\tMax MW\tModified (UTC)")
	for _, o := range rows {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			o.TradingDate.Format(offers.DateLayout),
			o.TradingPeriod,
			offers.PeriodStart(o.TradingDate, o.TradingPeriod).Format("15:04"),
			o.Site,
			o.PointOfConnection,
			o.Unit,
			o.Tranche,
			formatNullDecimal(o.Megawatts, 3),
			formatNullDecimal(o.DollarsPerMegawattHour, 2),
			formatNullDecimal(o.MaximumOutputMegawatts, 3),
			o.FileLastModified.Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func (a *App) showFiles(ctx context.Context, store storage.FileLister, limit int) error {
	files, err := store.ListFiles(ctx, limit)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(a.Out, "no offers files ingested")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tFile\tModified (UTC)\tRows\tHash\tRun\tIngested (UTC)")
	for _, f := range files {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			f.TradingDate.Format(offers.DateLayout),
			f.RemoteName,
			f.FileLastModified.Format(time.RFC3339),
			f.RecordCount,
			f.ContentHash,
			f.RunID,
			f.IngestedAt.Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}
