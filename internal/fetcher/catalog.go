package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"emi-offers/internal/offers"
)

const maxCatalogPages = 50

// offerFileName matches the per-day file: YYYYMMDD_Offers.csv.
var offerFileName = regexp.MustCompile(`^(\d{8})_Offers\.csv$`)

// CatalogOptions parameterise the catalog lister.
type CatalogOptions struct {
	URL string
}

// Catalog lists offers files from an Azure blob container listing.
type Catalog struct {
	opts   CatalogOptions
	client *Client
	logger zerolog.Logger
}

// NewCatalog constructs a catalog lister.
func NewCatalog(opts CatalogOptions, client *Client, logger zerolog.Logger) *Catalog {
	return &Catalog{opts: opts, client: client, logger: logger.With().Str("component", "catalog").Logger()}
}

type blobListing struct {
	Blobs      []blobEntry `xml:"Blobs>Blob"`
	NextMarker string      `xml:"NextMarker"`
}

type blobEntry struct {
	Name         string `xml:"Name"`
	LastModified string `xml:"Properties>Last-Modified"`
}

// ListFiles returns every offers file in the listing, newest trading date first.
// Entries with a missing or unparseable name or timestamp are skipped.
func (c *Catalog) ListFiles(ctx context.Context) ([]offers.RemoteFile, error) {
	if c.opts.URL == "" {
		return nil, &CatalogError{Err: fmt.Errorf("catalog url not configured")}
	}

	byDate := make(map[string]offers.RemoteFile)
	marker := ""
	for page := 0; page < maxCatalogPages; page++ {
		listing, err := c.fetchPage(ctx, marker)
		if err != nil {
			return nil, err
		}
		for _, entry := range listing.Blobs {
			file, ok := c.parseEntry(entry)
			if !ok {
				continue
			}
			key := file.DateString()
			if existing, dup := byDate[key]; dup {
				c.logger.Warn().Str("trading_date", key).Str("kept", existing.Name).Str("other", file.Name).Msg("multiple offers files for one trading date")
				if !file.LastModified.After(existing.LastModified) {
					continue
				}
			}
			byDate[key] = file
		}
		marker = strings.TrimSpace(listing.NextMarker)
		if marker == "" {
			break
		}
	}
	if marker != "" {
		c.logger.Warn().Int("pages", maxCatalogPages).Msg("catalog listing truncated")
	}

	files := make([]offers.RemoteFile, 0, len(byDate))
	for _, f := range byDate {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].TradingDate.After(files[j].TradingDate)
	})

	c.logger.Debug().Int("files", len(files)).Msg("catalog listed")
	return files, nil
}

func (c *Catalog) fetchPage(ctx context.Context, marker string) (blobListing, error) {
	pageURL, err := withMarker(c.opts.URL, marker)
	if err != nil {
		return blobListing{}, &CatalogError{URL: c.opts.URL, Err: err}
	}

	resp, err := c.client.get(ctx, pageURL)
	if err != nil {
		return blobListing{}, &CatalogError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return blobListing{}, &CatalogError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	var listing blobListing
	if err := xml.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return blobListing{}, &CatalogError{URL: pageURL, Err: fmt.Errorf("decode listing: %w", err)}
	}
	return listing, nil
}

func (c *Catalog) parseEntry(entry blobEntry) (offers.RemoteFile, bool) {
	name := strings.TrimSpace(entry.Name)
	modified := strings.TrimSpace(entry.LastModified)
	if name == "" || modified == "" {
		c.logger.Debug().Str("name", name).Msg("skipping catalog entry without name or last-modified")
		return offers.RemoteFile{}, false
	}

	m := offerFileName.FindStringSubmatch(path.Base(name))
	if m == nil {
		return offers.RemoteFile{}, false
	}

	date, err := time.ParseInLocation("20060102", m[1], time.UTC)
	if err != nil {
		c.logger.Debug().Str("name", name).Err(err).Msg("skipping catalog entry with invalid date")
		return offers.RemoteFile{}, false
	}

	lastModified, err := ParseLastModified(modified)
	if err != nil {
		c.logger.Debug().Str("name", name).Err(err).Msg("skipping catalog entry with invalid last-modified")
		return offers.RemoteFile{}, false
	}

	return offers.RemoteFile{TradingDate: date, LastModified: lastModified, Name: name}, true
}

// ParseLastModified parses an RFC 1123 style header timestamp
// ("Mon, 02 Jan 2006 15:04:05 GMT") into UTC.
func ParseLastModified(s string) (time.Time, error) {
	t, err := http.ParseTime(s)
	if err != nil {
		t, err = time.Parse(time.RFC1123, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

func withMarker(raw, marker string) (string, error) {
	if marker == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("marker", marker)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ CatalogLister = (*Catalog)(nil)
