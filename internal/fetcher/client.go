package fetcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// ClientOptions configure HTTP access to the data archive.
type ClientOptions struct {
	Timeout           time.Duration
	UserAgent         string
	APIKey            string
	APIKeyHeader      string
	AttachAPIKey      bool
	RequestsPerSecond float64
}

// Client is the shared HTTP client for catalog and file requests.
type Client struct {
	opts    ClientOptions
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client. A zero RequestsPerSecond disables pacing.
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.AttachAPIKey && c.opts.APIKey != "" && c.opts.APIKeyHeader != "" {
		req.Header.Set(c.opts.APIKeyHeader, c.opts.APIKey)
	}

	return c.http.Do(req)
}
