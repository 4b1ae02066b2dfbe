package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/spikewatch/internal/mexc"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete application configuration
type Config struct {
	MEXC     MEXCConfig     `mapstructure:"mexc"`
	Universe UniverseConfig `mapstructure:"universe"`
	Detector DetectorConfig `mapstructure:"detector"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Status   StatusConfig   `mapstructure:"status"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MEXCConfig holds MEXC contract API configuration
type MEXCConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	QuoteCoin         string        `mapstructure:"quote_coin"`
	ActiveStates      []int         `mapstructure:"active_states"`
}

// UniverseConfig holds tracked-set filtering rules
type UniverseConfig struct {
	MaxVolume24h      float64  `mapstructure:"max_volume_24h"`
	MinVolume24h      float64  `mapstructure:"min_volume_24h"` // 0 = no floor
	MaxPrice          float64  `mapstructure:"max_price"`      // 0 = no ceiling
	ExcludePatterns   []string `mapstructure:"exclude_patterns"`
	RefreshEveryTicks int      `mapstructure:"refresh_every_ticks"`
}

// DetectorConfig holds spike predicate and scan loop configuration.
// VLow < VHigh is a precondition checked by Validate.
type DetectorConfig struct {
	Window            time.Duration `mapstructure:"window"`
	VLow              float64       `mapstructure:"v_low"`
	VHigh             float64       `mapstructure:"v_high"`
	MinGrowth         float64       `mapstructure:"min_growth"`
	MinPriceChangePct float64       `mapstructure:"min_price_change_pct"` // 0 = disabled
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	MaxPerTick        int           `mapstructure:"max_per_tick"` // 0 = whole universe
	DedupRetention    time.Duration `mapstructure:"dedup_retention"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`

	// Consecutive refresh failures before the operator is notified.
	NotifyAfterFailures int `mapstructure:"notify_after_failures"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite | postgres
	DBPath       string `mapstructure:"db_path"`
	DatabaseURL  string `mapstructure:"database_url"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// StatusConfig holds the health/status HTTP surface configuration
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Port    string `mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, a .env file and environment variables.
// A missing file at path is not an error; deployments may configure purely through env.
func Load(path string) (*Config, error) {
	// .env values never override variables already present in the environment
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)
	bindLegacyEnv(v)

	v.SetEnvPrefix("SPIKEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// PORT wins over status.addr so the service binds where the platform expects
	if cfg.Status.Port != "" {
		cfg.Status.Addr = ":" + cfg.Status.Port
	}

	return &cfg, nil
}

// bindLegacyEnv maps the variable names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("telegram.bot_token", "SPIKEWATCH_TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "SPIKEWATCH_TELEGRAM_CHAT_ID", "MY_USER_ID")
	_ = v.BindEnv("mexc.api_key", "SPIKEWATCH_MEXC_API_KEY", "MEXC_API_KEY")
	_ = v.BindEnv("mexc.secret_key", "SPIKEWATCH_MEXC_SECRET_KEY", "MEXC_SECRET_KEY")
	_ = v.BindEnv("storage.database_url", "SPIKEWATCH_STORAGE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("status.port", "SPIKEWATCH_STATUS_PORT", "PORT")
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// MEXC defaults
	v.SetDefault("mexc.base_url", "https://contract.mexc.com")
	v.SetDefault("mexc.timeout", "10s")
	v.SetDefault("mexc.requests_per_second", 15.0)
	v.SetDefault("mexc.burst", 5)
	v.SetDefault("mexc.quote_coin", "USDT")
	v.SetDefault("mexc.active_states", []int{0})

	// Universe defaults
	v.SetDefault("universe.max_volume_24h", 2_000_000.0)
	v.SetDefault("universe.min_volume_24h", 0.0)
	v.SetDefault("universe.max_price", 0.0)
	v.SetDefault("universe.exclude_patterns", []string{`STOCK_`, `^(SPX|NDX|DJI|XAU|XAG)_`})
	v.SetDefault("universe.refresh_every_ticks", 60)

	// Detector defaults
	v.SetDefault("detector.window", "1m")
	v.SetDefault("detector.v_low", 1000.0)
	v.SetDefault("detector.v_high", 2000.0)
	v.SetDefault("detector.min_growth", 0.5)
	v.SetDefault("detector.min_price_change_pct", 0.0)
	v.SetDefault("detector.tick_interval", "58s")
	v.SetDefault("detector.fetch_timeout", "10s")
	v.SetDefault("detector.concurrency", 8)
	v.SetDefault("detector.max_per_tick", 0)
	v.SetDefault("detector.dedup_retention", "2h")
	v.SetDefault("detector.sweep_interval", "10m")
	v.SetDefault("detector.notify_after_failures", 3)

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "./data/spikewatch.db")
	v.SetDefault("storage.history_limit", 100)

	// Status defaults
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", ":8000")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate MEXC config
	if c.MEXC.BaseURL == "" {
		return invalid("mexc.base_url is required")
	}
	if c.MEXC.Timeout <= 0 {
		return invalid("mexc.timeout must be positive")
	}
	if c.MEXC.RequestsPerSecond <= 0 {
		return invalid("mexc.requests_per_second must be positive")
	}
	if c.MEXC.Burst < 1 {
		return invalid("mexc.burst must be at least 1")
	}
	if c.MEXC.QuoteCoin == "" {
		return invalid("mexc.quote_coin is required")
	}
	if (c.MEXC.APIKey == "") != (c.MEXC.SecretKey == "") {
		return invalid("mexc.api_key and mexc.secret_key must be set together")
	}

	// Validate Universe config
	if c.Universe.MaxVolume24h <= 0 {
		return invalid("universe.max_volume_24h must be positive")
	}
	if c.Universe.MinVolume24h < 0 || c.Universe.MinVolume24h >= c.Universe.MaxVolume24h {
		return invalid("universe.min_volume_24h must be in [0, max_volume_24h)")
	}
	if c.Universe.MaxPrice < 0 {
		return invalid("universe.max_price must not be negative")
	}
	for _, p := range c.Universe.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return invalid("universe.exclude_patterns: bad pattern %q: %v", p, err)
		}
	}
	if c.Universe.RefreshEveryTicks < 1 {
		return invalid("universe.refresh_every_ticks must be at least 1")
	}

	// Validate Detector config
	if _, err := mexc.IntervalFor(c.Detector.Window); err != nil {
		return invalid("detector.window must be one of 1m, 5m, 15m, 30m, 1h, 4h, 8h, 24h")
	}
	if c.Detector.VLow <= 0 {
		return invalid("detector.v_low must be positive")
	}
	if c.Detector.VLow >= c.Detector.VHigh {
		return invalid("detector.v_low must be less than detector.v_high")
	}
	if c.Detector.MinGrowth < 0 {
		return invalid("detector.min_growth must not be negative")
	}
	if c.Detector.MinPriceChangePct < 0 {
		return invalid("detector.min_price_change_pct must not be negative")
	}
	if c.Detector.TickInterval < time.Second {
		return invalid("detector.tick_interval must be at least 1 second")
	}
	if c.Detector.FetchTimeout <= 0 {
		return invalid("detector.fetch_timeout must be positive")
	}
	if c.Detector.Concurrency < 1 {
		return invalid("detector.concurrency must be at least 1")
	}
	if c.Detector.MaxPerTick < 0 {
		return invalid("detector.max_per_tick must not be negative")
	}
	if c.Detector.DedupRetention < c.Detector.Window {
		return invalid("detector.dedup_retention must cover at least one window")
	}
	if c.Detector.NotifyAfterFailures < 1 {
		return invalid("detector.notify_after_failures must be at least 1")
	}
	if c.Detector.SweepInterval <= 0 {
		return invalid("detector.sweep_interval must be positive")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return invalid("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return invalid("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return invalid("storage.database_url is required for the postgres driver")
		}
	default:
		return invalid("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.HistoryLimit < 1 {
		return invalid("storage.history_limit must be at least 1")
	}

	// Validate Status config
	if c.Status.Enabled && c.Status.Addr == "" {
		return invalid("status.addr (or PORT) is required when status is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return invalid("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return invalid("logging.format must be one of: json, text")
	}

	return nil
}
