package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerToWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "debug", Fields: map[string]string{"app": "emi-offers"}}, &buf)
	logger.Debug().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["app"] != "emi-offers" || entry["component"] != "test" || entry["message"] != "hello" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry["level"] != "debug" {
		t.Fatalf("level = %v", entry["level"])
	}
}

func TestNewLoggerToHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Level: "WARN"}, &buf)
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	buf.Reset()
	logger = NewLoggerTo(Config{Level: "bogus"}, &buf)
	logger.Info().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatal("unknown level falls back to info")
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(Config{Format: "console"}, &buf)
	logger.Info().Msg("readable")
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("console output should not be JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "readable") {
		t.Fatalf("missing message: %q", buf.String())
	}
}
