// Package alerting reports aborted sync runs to an operator channel.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTelegramAPI     = "https://api.telegram.org"
	defaultTelegramTimeout = 10 * time.Second

	// Telegram rejects sendMessage text longer than this many characters.
	maxMessageRunes = 4096
)

// Notification describes an aborted sync run.
type Notification struct {
	RunID       string
	At          time.Time
	Stage       string
	TradingDate string
	Ingested    []string
	Rows        int
	Err         error
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramOptions configure the Telegram notifier.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	opts   TelegramOptions
	client *http.Client
	logger zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTelegramTimeout
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	if opts.APIBase == "" {
		opts.APIBase = defaultTelegramAPI
	}
	return &TelegramNotifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify calls sendMessage with a plain-text rendering of note.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if n.opts.BotToken == "" || n.opts.ChatID == "" {
		return errors.New("telegram bot token and chat id are required")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.opts.ChatID,
		Text:                  truncate(renderMessage(note), maxMessageRunes),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	endpoint := n.opts.APIBase + "/bot" + n.opts.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the returned error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if result.Description != "" {
			return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, result.Description)
		}
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	if decodeErr == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("run_id", note.RunID).
		Str("stage", note.Stage).
		Str("trading_date", note.TradingDate).
		Msg("abort notification sent")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	b.WriteString("[EMI offers sync aborted]\n")
	fmt.Fprintf(&b, "Run: %s\n", note.RunID)
	fmt.Fprintf(&b, "At: %s UTC\n", note.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Stage: %s\n", note.Stage)
	if note.TradingDate != "" {
		fmt.Fprintf(&b, "Trading date: %s\n", note.TradingDate)
	}
	if len(note.Ingested) > 0 {
		fmt.Fprintf(&b, "Committed before abort: %s (%d rows)\n", strings.Join(note.Ingested, ","), note.Rows)
	} else {
		b.WriteString("Committed before abort: none\n")
	}
	if note.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", note.Err)
	}
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

var _ Notifier = (*TelegramNotifier)(nil)
