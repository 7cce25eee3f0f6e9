package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"emi-offers/internal/offers"
)

// OfferFileOptions parameterise the offers file fetcher.
type OfferFileOptions struct {
	BaseURL string
}

// OfferFiles downloads daily offers CSV files. It never retries; the next
// scheduled run picks up whatever failed.
type OfferFiles struct {
	opts     OfferFileOptions
	client   *Client
	failures *FailureLog
	logger   zerolog.Logger
}

// NewOfferFiles constructs an offers file fetcher. failures may be nil.
func NewOfferFiles(opts OfferFileOptions, client *Client, failures *FailureLog, logger zerolog.Logger) *OfferFiles {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &OfferFiles{
		opts:     opts,
		client:   client,
		failures: failures,
		logger:   logger.With().Str("component", "offer_fetcher").Logger(),
	}
}

// URLFor returns <base>/<YYYY>/<YYYYMMDD>_Offers.csv.
func (o *OfferFiles) URLFor(file offers.RemoteFile) string {
	d := file.TradingDate
	return fmt.Sprintf("%s/%s/%s_Offers.csv", o.opts.BaseURL, d.Format("2006"), d.Format("20060102"))
}

// FetchFile retrieves the CSV body for file. Failures are appended to the
// failure log before being returned as *FetchError.
func (o *OfferFiles) FetchFile(ctx context.Context, file offers.RemoteFile) ([]byte, error) {
	if o.opts.BaseURL == "" {
		return nil, o.fail(&FetchError{TradingDate: file.TradingDate, Err: errors.New("offers base url not configured")})
	}

	url := o.URLFor(file)
	o.logger.Info().Str("trading_date", file.DateString()).Str("url", url).Msg("fetching offers file")

	resp, err := o.client.get(ctx, url)
	if err != nil {
		return nil, o.fail(&FetchError{TradingDate: file.TradingDate, URL: url, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, o.fail(&FetchError{TradingDate: file.TradingDate, URL: url, StatusCode: resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, o.fail(&FetchError{TradingDate: file.TradingDate, URL: url, Err: fmt.Errorf("read body: %w", err)})
	}
	return body, nil
}

func (o *OfferFiles) fail(fetchErr *FetchError) error {
	if o.failures != nil {
		if err := o.failures.Record(fetchErr); err != nil {
			o.logger.Error().Err(err).Msg("failed to append to failure log")
		}
	}
	o.logger.Error().Err(fetchErr).Int("status", fetchErr.StatusCode).Msg("offers file fetch failed")
	return fetchErr
}

var _ OfferFileFetcher = (*OfferFiles)(nil)
