package storage

import (
	"context"
	"errors"
	"time"

	"emi-offers/internal/offers"
	"emi-offers/internal/staleness"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// Reconciler replaces the stored rows of one file atomically.
type Reconciler interface {
	Reconcile(ctx context.Context, in Ingestion) (int, error)
}

// OfferQuerier reads stored offers back for downstream consumers.
type OfferQuerier interface {
	ListByDate(ctx context.Context, date time.Time) ([]offers.Offer, error)
	ListByTradingPeriod(ctx context.Context, date time.Time, period int) ([]offers.Offer, error)
	ListByUnit(ctx context.Context, unit string) ([]offers.Offer, error)
	ListByPointOfConnection(ctx context.Context, poc string) ([]offers.Offer, error)
	LatestTradingDate(ctx context.Context) (time.Time, bool, error)
}

// FileLister lists ingested files, newest trading date first.
type FileLister interface {
	ListFiles(ctx context.Context, limit int) ([]FileRecord, error)
}

// OfferStore aggregates everything the sync pipeline and CLI need.
type OfferStore interface {
	staleness.FreshnessReader
	Reconciler
	OfferQuerier
	FileLister
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
