// Package service drives one sync run: list the catalog, filter stale
// files, then fetch, parse and reconcile each of them newest first.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"emi-offers/internal/alerting"
	"emi-offers/internal/fetcher"
	"emi-offers/internal/metrics"
	"emi-offers/internal/offers"
	"emi-offers/internal/scheduler"
	"emi-offers/internal/staleness"
	"emi-offers/internal/storage"
)

// State is a step of the sync state machine.
type State string

const (
	StateIdle        State = "idle"
	StateListing     State = "listing"
	StateFiltering   State = "filtering"
	StateFetching    State = "fetching"
	StateParsing     State = "parsing"
	StateReconciling State = "reconciling"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Store is the persistence the pipeline needs.
type Store interface {
	staleness.FreshnessReader
	storage.Reconciler
}

// FileReport summarises one reconciled file.
type FileReport struct {
	TradingDate  time.Time
	Name         string
	LastModified time.Time
	Reason       staleness.Reason
	Rows         int
	Filtered     int
	Skipped      int
	ContentHash  string
}

// RunReport summarises a sync run. Files lists what was committed, which on
// abort is everything before the failing file.
type RunReport struct {
	RunID      string
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	Listed     int
	Stale      []staleness.Decision
	Files      []FileReport
	Rows       int
	Skipped    int
	FailedDate string
	FailedAt   State
	Err        error
}

// Dependencies are the collaborators of the pipeline. Notifier and Metrics
// are optional.
type Dependencies struct {
	Catalog  fetcher.CatalogLister
	Files    fetcher.OfferFileFetcher
	Parser   *offers.Parser
	Store    Store
	Locker   storage.AdvisoryLocker
	Notifier alerting.Notifier
	Metrics  *metrics.Recorder
}

// Options tune the pipeline.
type Options struct {
	LookbackDays int
	LockKey      int64
}

// SyncOptions override behaviour for a single run.
type SyncOptions struct {
	LookbackDays int
	DryRun       bool
}

// Service orchestrates listing, filtering, fetching and reconciliation.
type Service struct {
	deps     Dependencies
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
	newRunID func() string
}

// New constructs the sync service.
func New(opts Options, deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{
		deps:     deps,
		opts:     opts,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// WithClock overrides the clock used for the lookback window.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run re-invokes Sync on every scheduler tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, s.Tick)
}

// Tick runs one scheduled sync guarded by the advisory lock when one is
// configured.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Info().Time("tick", at).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.Sync(ctx, SyncOptions{})
	return err
}

// Sync performs one full run. Any catalog, fetch, lookup or store failure
// aborts the run; files committed before the failure stay committed.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (RunReport, error) {
	if err := s.validate(); err != nil {
		return RunReport{State: StateAborted, Err: err}, err
	}

	report := RunReport{RunID: s.newRunID(), State: StateIdle, StartedAt: s.now().UTC()}
	logger := s.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().Bool("dry_run", opts.DryRun).Msg("sync run started")

	report.State = StateListing
	files, err := s.deps.Catalog.ListFiles(ctx)
	if err != nil {
		return s.abort(ctx, logger, &report, "", fmt.Errorf("list catalog: %w", err))
	}
	report.Listed = len(files)

	report.State = StateFiltering
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = s.opts.LookbackDays
	}
	filter := staleness.NewFilter(s.deps.Store, lookback, logger).WithClock(s.now)
	decisions, err := filter.Evaluate(ctx, files)
	if err != nil {
		return s.abort(ctx, logger, &report, "", fmt.Errorf("filter stale files: %w", err))
	}
	for _, d := range decisions {
		if d.Reason.Stale() {
			report.Stale = append(report.Stale, d)
		}
	}
	logger.Info().Int("listed", report.Listed).Int("stale", len(report.Stale)).Msg("catalog filtered")

	if opts.DryRun {
		report.State = StateDone
		report.FinishedAt = s.now().UTC()
		return report, nil
	}

	for _, d := range report.Stale {
		fr, err := s.ingest(ctx, logger, &report, d)
		if err != nil {
			return s.abort(ctx, logger, &report, d.File.DateString(), err)
		}
		report.Files = append(report.Files, fr)
		report.Rows += fr.Rows
		report.Skipped += fr.Skipped
	}

	report.State = StateDone
	s.finish(&report)
	logger.Info().
		Int("files", len(report.Files)).
		Int("rows", report.Rows).
		Int("skipped", report.Skipped).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("sync run finished")
	return report, nil
}

func (s *Service) ingest(ctx context.Context, logger zerolog.Logger, report *RunReport, d staleness.Decision) (FileReport, error) {
	file := d.File
	date := file.DateString()
	fr := FileReport{TradingDate: file.TradingDate, Name: file.Name, LastModified: file.LastModified, Reason: d.Reason}

	report.State = StateFetching
	body, err := s.deps.Files.FetchFile(ctx, file)
	if err != nil {
		return fr, err
	}

	report.State = StateParsing
	res, err := s.deps.Parser.Parse(body)
	if err != nil {
		return fr, fmt.Errorf("parse offers for %s: %w", date, err)
	}
	fr.Filtered = res.Filtered
	fr.Skipped = len(res.Skipped)
	if fr.Skipped > 0 {
		first := res.Skipped[0]
		logger.Warn().
			Str("trading_date", date).
			Int("skipped", fr.Skipped).
			Int("first_line", first.Line).
			Err(first).
			Msg("malformed offer rows skipped")
	}

	report.State = StateReconciling
	fr.ContentHash = ContentHash(body)
	n, err := s.deps.Store.Reconcile(ctx, storage.Ingestion{
		File:        file,
		Offers:      res.Offers,
		ContentHash: fr.ContentHash,
		RunID:       report.RunID,
	})
	if err != nil {
		return fr, fmt.Errorf("reconcile offers for %s: %w", date, err)
	}
	fr.Rows = n
	s.deps.Metrics.FileReconciled(n, fr.Skipped)

	logger.Info().
		Str("trading_date", date).
		Str("reason", string(d.Reason)).
		Time("last_modified", file.LastModified).
		Int("rows", n).
		Int("filtered", res.Filtered).
		Msg("offers file reconciled")
	return fr, nil
}

func (s *Service) abort(ctx context.Context, logger zerolog.Logger, report *RunReport, date string, err error) (RunReport, error) {
	report.FailedAt = report.State
	report.FailedDate = date
	report.State = StateAborted
	report.Err = err
	s.finish(report)

	logger.Error().Err(err).
		Str("stage", string(report.FailedAt)).
		Str("trading_date", date).
		Int("committed_files", len(report.Files)).
		Msg("sync run aborted")

	if s.deps.Notifier != nil {
		ingested := make([]string, 0, len(report.Files))
		for _, f := range report.Files {
			ingested = append(ingested, f.TradingDate.Format(offers.DateLayout))
		}
		note := alerting.Notification{
			RunID:       report.RunID,
			At:          report.FinishedAt,
			Stage:       string(report.FailedAt),
			TradingDate: date,
			Ingested:    ingested,
			Rows:        report.Rows,
			Err:         err,
		}
		if nerr := s.deps.Notifier.Notify(ctx, note); nerr != nil {
			logger.Error().Err(nerr).Msg("failed to dispatch abort notification")
		}
	}
	return *report, err
}

func (s *Service) finish(report *RunReport) {
	report.FinishedAt = s.now().UTC()
	s.deps.Metrics.ObserveRun(string(report.State), report.FinishedAt.Sub(report.StartedAt), report.FinishedAt, report.State == StateDone)
}

func (s *Service) validate() error {
	switch {
	case s.deps.Catalog == nil:
		return errors.New("catalog lister not configured")
	case s.deps.Files == nil:
		return errors.New("offer file fetcher not configured")
	case s.deps.Parser == nil:
		return errors.New("offer parser not configured")
	case s.deps.Store == nil:
		return storage.ErrNotConfigured
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// ContentHash fingerprints a downloaded file for the ingestion audit trail.
func ContentHash(body []byte) string {
	return strconv.FormatUint(xxhash.Sum64(body), 16)
}
