package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"emi-offers/internal/offers"
)

// Export writes the offers of a trading date (or one period of it) as CSV
// and/or a PNG chart. With a period the chart is the offer stack; without,
// it is the offered volume per period.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Date.IsZero() {
		return errors.New("--date is required")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var rows []offers.Offer
	if opts.Period > 0 {
		rows, err = store.ListByTradingPeriod(ctx, opts.Date, opts.Period)
	} else {
		rows, err = store.ListByDate(ctx, opts.Date)
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("date", opts.Date.Format(offers.DateLayout)).Int("period", opts.Period).Msg("no offers found for export")
		return nil
	}
	a.Logger.Info().Int("rows", len(rows)).Msg("exporting offers")

	if opts.CSVPath != "" {
		if err := writeOffersCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		size := newChartSize(a.Config.Export.ChartWidth, a.Config.Export.ChartHeight)
		if opts.Period > 0 {
			err = writeOfferStackPNG(opts.PNGPath, rows, size)
		} else {
			err = writeDailyVolumePNG(opts.PNGPath, rows, size)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

var offerCSVHeader = []string{
	"TradingDate", "TradingPeriod", "Site", "ParticipantCode", "PointOfConnection", "Unit",
	"ProductType", "ProductClass", "ReserveType", "ProductDescription",
	"UTCSubmissionDate", "UTCSubmissionTime", "SubmissionOrder", "Tranche",
	"MaximumRampUpMegawattsPerHour", "MaximumRampDownMegawattsPerHour",
	"PartiallyLoadedSpinningReservePercent", "MaximumOutputMegawatts",
	"ForecastOfGenerationPotentialMegawatts", "Megawatts", "DollarsPerMegawattHour",
	"FileLastModified",
}

func writeOffersCSV(path string, rows []offers.Offer) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(offerCSVHeader); err != nil {
		return err
	}

	for _, o := range rows {
		record := []string{
			o.TradingDate.Format(offers.DateLayout),
			strconv.Itoa(o.TradingPeriod),
			o.Site,
			o.ParticipantCode,
			o.PointOfConnection,
			o.Unit,
			o.ProductType,
			o.ProductClass,
			o.ReserveType,
			o.ProductDescription,
			o.UTCSubmissionDate,
			o.UTCSubmissionTime,
			strconv.Itoa(o.SubmissionOrder),
			strconv.Itoa(o.Tranche),
			csvDecimal(o.MaximumRampUpMegawattsPerHour),
			csvDecimal(o.MaximumRampDownMegawattsPerHour),
			csvDecimal(o.PartiallyLoadedSpinningReservePercent),
			csvDecimal(o.MaximumOutputMegawatts),
			csvDecimal(o.ForecastOfGenerationPotentialMegawatts),
			csvDecimal(o.Megawatts),
			csvDecimal(o.DollarsPerMegawattHour),
			o.FileLastModified.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func csvDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

type chartSize struct {
	Width  int
	Height int
}

func newChartSize(width, height int) chartSize {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return chartSize{Width: width, Height: height}
}

// stackPoint is one step of the offer stack: cumulative volume at a price.
type stackPoint struct {
	CumulativeMW float64
	Price        float64
}

// offerStack sorts priced tranches by price and accumulates their volume.
// Tranches without a volume or price are left out.
func offerStack(rows []offers.Offer) []stackPoint {
	priced := make([]offers.Offer, 0, len(rows))
	for _, o := range rows {
		if o.Megawatts.Valid && o.DollarsPerMegawattHour.Valid {
			priced = append(priced, o)
		}
	}
	sort.SliceStable(priced, func(i, j int) bool {
		return priced[i].DollarsPerMegawattHour.Decimal.LessThan(priced[j].DollarsPerMegawattHour.Decimal)
	})

	points := make([]stackPoint, 0, 2*len(priced))
	total := decimal.Zero
	for _, o := range priced {
		price := o.DollarsPerMegawattHour.Decimal.InexactFloat64()
		points = append(points, stackPoint{CumulativeMW: total.InexactFloat64(), Price: price})
		total = total.Add(o.Megawatts.Decimal)
		points = append(points, stackPoint{CumulativeMW: total.InexactFloat64(), Price: price})
	}
	return points
}

func writeOfferStackPNG(path string, rows []offers.Offer, size chartSize) error {
	points := offerStack(rows)
	if len(points) == 0 {
		return errors.New("no priced tranches to chart")
	}

	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.CumulativeMW
		y[i] = p.Price
	}

	first := rows[0]
	graph := chart.Chart{
		Title:  fmt.Sprintf("Offer stack %s TP%d", first.TradingDate.Format(offers.DateLayout), first.TradingPeriod),
		Width:  size.Width,
		Height: size.Height,
		XAxis: chart.XAxis{
			Name:           "Cumulative offered (MW)",
			ValueFormatter: floatFormatter("%.0f"),
		},
		YAxis: chart.YAxis{
			Name:           "Price ($/MWh)",
			ValueFormatter: floatFormatter("%.2f"),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Energy offers",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(path, &graph)
}

func writeDailyVolumePNG(path string, rows []offers.Offer, size chartSize) error {
	byPeriod := make(map[int]decimal.Decimal)
	for _, o := range rows {
		if o.Megawatts.Valid {
			byPeriod[o.TradingPeriod] = byPeriod[o.TradingPeriod].Add(o.Megawatts.Decimal)
		}
	}
	if len(byPeriod) == 0 {
		return errors.New("no offered volume to chart")
	}

	periods := make([]int, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Ints(periods)

	date := rows[0].TradingDate
	x := make([]time.Time, len(periods))
	y := make([]float64, len(periods))
	for i, p := range periods {
		x[i] = offers.PeriodStart(date, p)
		y[i] = byPeriod[p].InexactFloat64()
	}
	if len(x) == 1 {
		// go-chart needs a non-degenerate range.
		x = append(x, x[0].Add(30*time.Minute))
		y = append(y, y[0])
	}

	graph := chart.Chart{
		Title:  "Offered energy " + date.Format(offers.DateLayout),
		Width:  size.Width,
		Height: size.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Offered (MW)",
			ValueFormatter: floatFormatter("%.0f"),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Offered MW",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(path, &graph)
}

func floatFormatter(format string) chart.ValueFormatter {
	return func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, format)
	}
}

func renderPNG(path string, graph *chart.Chart) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
