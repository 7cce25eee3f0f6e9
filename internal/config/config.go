package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"emi-offers/internal/logging"
	"emi-offers/internal/version"
)

const (
	// DriverSQLite stores offers in a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres stores offers in PostgreSQL.
	DriverPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	EMI       EMIConfig       `mapstructure:"emi"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Sites     SitesConfig     `mapstructure:"sites"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the offers store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// EMIConfig covers access to the remote data archive.
type EMIConfig struct {
	CatalogURL        string        `mapstructure:"catalog_url"`
	OffersBaseURL     string        `mapstructure:"offers_base_url"`
	APIKey            string        `mapstructure:"api_key"`
	APIKeyHeader      string        `mapstructure:"api_key_header"`
	AttachAPIKey      bool          `mapstructure:"attach_api_key"`
	RequireAPIKey     bool          `mapstructure:"require_api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// SyncConfig governs the staleness window and failure log.
type SyncConfig struct {
	LookbackDays int    `mapstructure:"lookback_days"`
	ErrorLogPath string `mapstructure:"error_log_path"`
}

// SitesConfig points at the generator description table.
type SitesConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig governs the cadence of the run command.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines where aborted runs are reported.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for alerts.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics in run mode.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	ChartWidth  int `mapstructure:"chart_width"`
	ChartHeight int `mapstructure:"chart_height"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EMIOFFERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("emi.api_key", "EMIOFFERS_EMI_API_KEY", "EMI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "emi-offers")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.sqlite_path", "output/offers.db")
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("emi.catalog_url", "https://emidatasets.blob.core.windows.net/publicdata?restype=container&comp=list&prefix=Datasets/Wholesale/BidsAndOffers/Offers")
	v.SetDefault("emi.offers_base_url", "https://emidatasets.blob.core.windows.net/publicdata/Datasets/Wholesale/BidsAndOffers/Offers")
	v.SetDefault("emi.api_key", "")
	v.SetDefault("emi.api_key_header", "Ocp-Apim-Subscription-Key")
	v.SetDefault("emi.attach_api_key", false)
	v.SetDefault("emi.require_api_key", true)
	v.SetDefault("emi.request_timeout", "30s")
	v.SetDefault("emi.requests_per_second", 0.0)
	v.SetDefault("emi.user_agent", version.UserAgent())

	v.SetDefault("sync.lookback_days", 7)
	v.SetDefault("sync.error_log_path", "output/error.log")

	v.SetDefault("sites.path", "config/sites.yaml")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x454d494f))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Sync.LookbackDays <= 0 {
		return fmt.Errorf("sync.lookback_days must be greater than zero")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.EMI.CatalogURL == "" || c.EMI.OffersBaseURL == "" {
		return fmt.Errorf("emi.catalog_url and emi.offers_base_url must be configured")
	}
	if c.EMI.RequireAPIKey && c.EMI.APIKey == "" {
		return fmt.Errorf("emi.api_key must be configured (EMI_API_KEY)")
	}
	if c.EMI.AttachAPIKey && c.EMI.APIKeyHeader == "" {
		return fmt.Errorf("emi.api_key_header is required when emi.attach_api_key is set")
	}
	if c.EMI.RequestsPerSecond < 0 {
		return fmt.Errorf("emi.requests_per_second cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	return nil
}

// ResolveLookback returns either the CLI override or config default.
func (c *Config) ResolveLookback(override int) int {
	if override > 0 {
		return override
	}
	return c.Sync.LookbackDays
}
