package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emi-offers/internal/config"
	"emi-offers/internal/offers"
	"emi-offers/internal/storage"
)

var tradingDay = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

func priced(period int, unit string, mw, price string) offers.Offer {
	return offers.Offer{
		TradingDate:            tradingDay,
		TradingPeriod:          period,
		Site:                   "MAN",
		PointOfConnection:      "MAN2201",
		Unit:                   unit,
		ProductType:            "Energy",
		ProductClass:           "Injection",
		Tranche:                1,
		Megawatts:              decimal.NewNullDecimal(decimal.RequireFromString(mw)),
		DollarsPerMegawattHour: decimal.NewNullDecimal(decimal.RequireFromString(price)),
	}
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			SQLitePath:  filepath.Join(dir, "offers.db"),
			AutoMigrate: true,
		},
		Export: config.ExportConfig{ChartWidth: 640, ChartHeight: 360},
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Database)
	require.NoError(t, err)
	_, err = store.Reconcile(ctx, storage.Ingestion{
		File: offers.RemoteFile{TradingDate: tradingDay, LastModified: time.Date(2024, 3, 3, 3, 0, 0, 0, time.UTC), Name: "20240302_Offers.csv"},
		Offers: []offers.Offer{
			priced(1, "MAN0", "100", "50"),
			priced(1, "MAN1", "40", "10.5"),
			priced(2, "MAN0", "90", "60"),
		},
		ContentHash: "feed",
		RunID:       "run-1",
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestOfferStackOrdersByPrice(t *testing.T) {
	points := offerStack([]offers.Offer{
		priced(1, "A", "100", "50"),
		priced(1, "B", "40", "10.5"),
		{TradingPeriod: 1, Unit: "C"},
	})
	require.Len(t, points, 4)
	assert.Equal(t, stackPoint{CumulativeMW: 0, Price: 10.5}, points[0])
	assert.Equal(t, stackPoint{CumulativeMW: 40, Price: 10.5}, points[1])
	assert.Equal(t, stackPoint{CumulativeMW: 40, Price: 50}, points[2])
	assert.Equal(t, stackPoint{CumulativeMW: 140, Price: 50}, points[3])
}

func TestExportWritesCSVAndChart(t *testing.T) {
	a, _ := newTestApp(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "offers.csv")
	pngPath := filepath.Join(dir, "out", "stack.png")

	require.NoError(t, a.Export(context.Background(), ExportOptions{
		Date:    tradingDay,
		Period:  1,
		CSVPath: csvPath,
		PNGPath: pngPath,
	}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, offerCSVHeader, records[0])
	assert.Equal(t, "MAN0", records[1][5])
	assert.Empty(t, records[1][17], "absent numerics export as empty")

	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	dailyPath := filepath.Join(dir, "daily.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{Date: tradingDay, PNGPath: dailyPath}))
	assert.FileExists(t, dailyPath)
}

func TestExportValidatesOptions(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, a.Export(context.Background(), ExportOptions{Date: tradingDay}))
	assert.Error(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}))
}

func TestShowFilesAndOffers(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "20240302_Offers.csv")
	assert.Contains(t, out.String(), "run-1")

	out.Reset()
	day := tradingDay
	require.NoError(t, a.Show(ctx, ShowOptions{Date: &day, Period: 2}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "00:30")
	assert.Contains(t, lines[1], "90.000")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Unit: "NOPE"}))
	assert.Contains(t, out.String(), "no offers found")

	assert.Error(t, a.Show(ctx, ShowOptions{Period: 3}))
}
