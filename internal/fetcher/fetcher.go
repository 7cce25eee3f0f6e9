package fetcher

import (
	"context"
	"fmt"
	"time"

	"emi-offers/internal/offers"
)

// CatalogLister retrieves the listing of published offers files.
type CatalogLister interface {
	ListFiles(ctx context.Context) ([]offers.RemoteFile, error)
}

// OfferFileFetcher retrieves the raw CSV content of one offers file.
type OfferFileFetcher interface {
	FetchFile(ctx context.Context, file offers.RemoteFile) ([]byte, error)
}

// CatalogError reports a failed or unparseable catalog listing.
type CatalogError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *CatalogError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("catalog listing failed (%d): %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("catalog listing failed: %s: %v", e.URL, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// FetchError reports a failed offers file retrieval.
type FetchError struct {
	TradingDate time.Time
	URL         string
	StatusCode  int
	Err         error
}

func (e *FetchError) Error() string {
	date := e.TradingDate.Format(offers.DateLayout)
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch offers for %s failed (%d): %s", date, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch offers for %s failed: %v", date, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
