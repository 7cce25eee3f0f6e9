package fetcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const failureTimeLayout = "2006-01-02 15:04:05.000000-07:00"

// FailureLog is an append-only local log of fetch failures, one line each.
type FailureLog struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFailureLog writes to path, creating parent directories on first use.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path, now: time.Now}
}

// Record appends a timestamped line for fetchErr and syncs it to disk.
func (l *FailureLog) Record(fetchErr *FetchError) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create failure log dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s Failed to get offer data for %s - Status Code: %d",
		l.now().UTC().Format(failureTimeLayout),
		fetchErr.TradingDate.Format("2006-01-02"),
		fetchErr.StatusCode,
	)
	if fetchErr.Err != nil {
		line += " - Error: " + fetchErr.Err.Error()
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write failure log: %w", err)
	}
	return f.Sync()
}
