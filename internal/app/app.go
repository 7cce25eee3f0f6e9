package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"emi-offers/internal/alerting"
	"emi-offers/internal/config"
	"emi-offers/internal/fetcher"
	"emi-offers/internal/metrics"
	"emi-offers/internal/offers"
	"emi-offers/internal/scheduler"
	"emi-offers/internal/service"
	"emi-offers/internal/sites"
	"emi-offers/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// SyncOptions configure a one-shot sync.
type SyncOptions struct {
	LookbackDays int
	DryRun       bool
}

// ShowOptions configure the show command. With no filter set the ingested
// files are listed.
type ShowOptions struct {
	Date   *time.Time
	Period int
	Unit   string
	POC    string
	Limit  int
}

// ExportOptions hold parameters for exporting one trading date or period.
type ExportOptions struct {
	Date    time.Time
	Period  int
	PNGPath string
	CSVPath string
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(alerting.TelegramOptions{
			BotToken: cfg.BotToken,
			ChatID:   cfg.ChatID,
			APIBase:  cfg.APIBase,
			Timeout:  cfg.Timeout,
		}, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.OfferStore, error) {
	return storage.Open(ctx, a.Config.Database)
}

func (a *App) newService(store storage.OfferStore, recorder *metrics.Recorder) (*service.Service, error) {
	table, err := sites.Load(a.Config.Sites.Path)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Int("units", table.Len()).Str("path", a.Config.Sites.Path).Msg("site descriptions loaded")

	emi := a.Config.EMI
	client := fetcher.NewClient(fetcher.ClientOptions{
		Timeout:           emi.RequestTimeout,
		UserAgent:         emi.UserAgent,
		APIKey:            emi.APIKey,
		APIKeyHeader:      emi.APIKeyHeader,
		AttachAPIKey:      emi.AttachAPIKey,
		RequestsPerSecond: emi.RequestsPerSecond,
	})

	deps := service.Dependencies{
		Catalog:  fetcher.NewCatalog(fetcher.CatalogOptions{URL: emi.CatalogURL}, client, a.Logger),
		Files:    fetcher.NewOfferFiles(fetcher.OfferFileOptions{BaseURL: emi.OffersBaseURL}, client, fetcher.NewFailureLog(a.Config.Sync.ErrorLogPath), a.Logger),
		Parser:   offers.NewParser(table, a.Logger),
		Store:    store,
		Notifier: a.newNotifier(),
		Metrics:  recorder,
	}
	if locker, ok := store.(storage.AdvisoryLocker); ok {
		deps.Locker = locker
	}

	return service.New(service.Options{
		LookbackDays: a.Config.Sync.LookbackDays,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
	}, deps, a.Logger), nil
}

// Sync performs a single sync run and prints its summary.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	report, err := svc.Sync(ctx, service.SyncOptions{
		LookbackDays: a.Config.ResolveLookback(opts.LookbackDays),
		DryRun:       opts.DryRun,
	})
	printReport(a.Out, report, opts.DryRun)
	return err
}

// Run executes the long-running scheduled sync.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		stop := a.serveMetrics(addr, reg)
		defer stop()
	}

	svc, err := a.newService(store, recorder)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	if _, ok := store.(storage.AdvisoryLocker); !ok {
		a.Logger.Warn().Str("driver", a.Config.Database.Driver).Msg("no advisory lock for this driver; run a single instance")
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting scheduled sync")
	err = svc.Run(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduled sync terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduled sync stopped")
	return nil
}

func (a *App) serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.Logger.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	if err := storage.Migrate(ctx, a.Config.Database); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("schema up to date")
	return nil
}

func printReport(w io.Writer, report service.RunReport, dryRun bool) {
	fmt.Fprintf(w, "run %s: %s (listed %d, stale %d)\n", report.RunID, report.State, report.Listed, len(report.Stale))
	if dryRun {
		for _, d := range report.Stale {
			fmt.Fprintf(w, "  would fetch %s (%s, modified %s)\n", d.File.DateString(), d.Reason, d.File.LastModified.Format(time.RFC3339))
		}
		return
	}
	for _, f := range report.Files {
		fmt.Fprintf(w, "  %s: %d rows, %d skipped\n", f.TradingDate.Format(offers.DateLayout), f.Rows, f.Skipped)
	}
	if report.Err != nil {
		fmt.Fprintf(w, "  aborted while %s %s: %v\n", report.FailedAt, report.FailedDate, report.Err)
	}
}
