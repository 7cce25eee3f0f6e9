// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string            `mapstructure:"level"`
	Format      string            `mapstructure:"format"`
	Output      string            `mapstructure:"output"`
	TimeFormat  string            `mapstructure:"time_format"`
	Caller      bool              `mapstructure:"caller"`
	PrettyPrint bool              `mapstructure:"pretty"`
	Fields      map[string]string `mapstructure:"fields"`
}

// NewLogger constructs a zerolog logger from config, writing to the
// configured output stream.
func NewLogger(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewLoggerTo(cfg, out)
}

// NewLoggerTo constructs a logger writing to out.
func NewLoggerTo(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	}

	builder := zerolog.New(logWriter(cfg, out)).Level(level).With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		builder = builder.Str(k, cfg.Fields[k])
	}
	return builder.Logger()
}

func logWriter(cfg Config, out io.Writer) io.Writer {
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
			NoColor:    out != os.Stdout && out != os.Stderr,
		}
	}
	return out
}
