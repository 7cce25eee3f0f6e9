// Package staleness decides which published offers files need (re)ingesting.
package staleness

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emi-offers/internal/offers"
)

// DefaultLookbackDays bounds how far back published files are re-checked.
const DefaultLookbackDays = 7

// FreshnessReader returns the last-modified marker recorded for a trading
// date. found is false when nothing has been ingested for the date.
type FreshnessReader interface {
	FreshnessFor(ctx context.Context, tradingDate time.Time) (marker time.Time, found bool, err error)
}

// Reason explains a staleness decision.
type Reason string

const (
	ReasonOutsideWindow Reason = "outside_window"
	ReasonNeverIngested Reason = "never_ingested"
	ReasonRevised       Reason = "revised"
	ReasonUpToDate      Reason = "up_to_date"
)

// Stale reports whether the reason calls for a fetch.
func (r Reason) Stale() bool {
	return r == ReasonNeverIngested || r == ReasonRevised
}

// Decision pairs a file with the reason it was kept or dropped.
type Decision struct {
	File   offers.RemoteFile
	Reason Reason
}

// Cutoff is the oldest instant inside the lookback window.
func Cutoff(now time.Time, lookbackDays int) time.Time {
	return now.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
}

// Decide classifies one file given its stored marker.
func Decide(file offers.RemoteFile, marker time.Time, found bool, cutoff time.Time) Reason {
	switch {
	case file.TradingDate.Before(cutoff):
		return ReasonOutsideWindow
	case !found:
		return ReasonNeverIngested
	case file.LastModified.After(marker):
		return ReasonRevised
	default:
		return ReasonUpToDate
	}
}

// Filter applies the lookback window and freshness comparison.
type Filter struct {
	reader       FreshnessReader
	lookbackDays int
	now          func() time.Time
	logger       zerolog.Logger
}

// NewFilter builds a filter. A non-positive lookback uses DefaultLookbackDays.
func NewFilter(reader FreshnessReader, lookbackDays int, logger zerolog.Logger) *Filter {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &Filter{
		reader:       reader,
		lookbackDays: lookbackDays,
		now:          time.Now,
		logger:       logger.With().Str("component", "staleness").Logger(),
	}
}

// WithClock overrides the clock, for tests and replays.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.now = now
	return f
}

// Evaluate returns a decision for every file, preserving input order. Files
// outside the window are never looked up.
func (f *Filter) Evaluate(ctx context.Context, files []offers.RemoteFile) ([]Decision, error) {
	cutoff := Cutoff(f.now(), f.lookbackDays)
	decisions := make([]Decision, 0, len(files))
	for _, file := range files {
		if file.TradingDate.Before(cutoff) {
			decisions = append(decisions, Decision{File: file, Reason: ReasonOutsideWindow})
			continue
		}
		marker, found, err := f.reader.FreshnessFor(ctx, file.TradingDate)
		if err != nil {
			return nil, fmt.Errorf("read freshness for %s: %w", file.DateString(), err)
		}
		decisions = append(decisions, Decision{File: file, Reason: Decide(file, marker, found, cutoff)})
	}
	return decisions, nil
}

// Stale returns the subsequence of files that need refreshing.
func (f *Filter) Stale(ctx context.Context, files []offers.RemoteFile) ([]offers.RemoteFile, error) {
	decisions, err := f.Evaluate(ctx, files)
	if err != nil {
		return nil, err
	}
	stale := make([]offers.RemoteFile, 0, len(decisions))
	for _, d := range decisions {
		if d.Reason.Stale() {
			stale = append(stale, d.File)
		}
	}
	f.logger.Info().
		Int("stale", len(stale)).
		Int("total", len(files)).
		Int("lookback_days", f.lookbackDays).
		Msg("filtered offers files")
	return stale, nil
}
