// Package config loads service configuration from an optional YAML/TOML file,
// a .env file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               int      `mapstructure:"port"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// PolymarketConfig holds upstream API configuration
type PolymarketConfig struct {
	CLOBAPIURL       string        `mapstructure:"clob_api_url"`
	GammaAPIURL      string        `mapstructure:"gamma_api_url"`
	APIKey           string        `mapstructure:"api_key"`
	Secret           string        `mapstructure:"secret"`
	Passphrase       string        `mapstructure:"passphrase"`
	RateLimitDelayMS int           `mapstructure:"rate_limit_delay_ms"`
	FetchLimit       int           `mapstructure:"fetch_limit"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// PollingConfig holds scheduler configuration
type PollingConfig struct {
	IntervalMinutes float64       `mapstructure:"interval_minutes"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
}

// DetectorConfig holds movement detection configuration
type DetectorConfig struct {
	ThresholdPercent float64       `mapstructure:"threshold_percent"`
	Window           time.Duration `mapstructure:"window"`
	DedupBucket      time.Duration `mapstructure:"dedup_bucket"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DSN          string        `mapstructure:"dsn"`
	RedisURL     string        `mapstructure:"redis_url"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxHistory   int           `mapstructure:"max_history"`
	MaxMovements int           `mapstructure:"max_movements"`
	MaxConns     int32         `mapstructure:"max_conns"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envAliases maps config keys to the unprefixed variable names used by
// existing deployments.
var envAliases = map[string]string{
	"polling.interval_minutes":       "POLLING_INTERVAL_MINUTES",
	"detector.threshold_percent":     "MOVEMENT_THRESHOLD_PERCENT",
	"polymarket.rate_limit_delay_ms": "RATE_LIMIT_DELAY_MS",
	"polymarket.api_key":             "POLYMARKET_API_KEY",
	"polymarket.secret":              "POLYMARKET_SECRET",
	"polymarket.passphrase":          "POLYMARKET_PASSPHRASE",
	"polymarket.clob_api_url":        "CLOB_API_BASE",
	"polymarket.gamma_api_url":       "GAMMA_API_BASE",
	"storage.dsn":                    "DATABASE_URL",
	"storage.redis_url":              "REDIS_URL",
	"server.port":                    "PORT",
	"telegram.bot_token":             "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":               "TELEGRAM_CHAT_ID",
}

const envPrefix = "TRACKER"

// Load reads configuration. path may be empty or point at a missing file;
// defaults and the environment still apply. A .env file in the working
// directory is loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", alias, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 100)

	v.SetDefault("polymarket.clob_api_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.api_key", "")
	v.SetDefault("polymarket.secret", "")
	v.SetDefault("polymarket.passphrase", "")
	v.SetDefault("polymarket.rate_limit_delay_ms", 1000)
	v.SetDefault("polymarket.fetch_limit", 50)
	v.SetDefault("polymarket.timeout", "10s")

	v.SetDefault("polling.interval_minutes", 2)
	v.SetDefault("polling.initial_delay", "1s")

	v.SetDefault("detector.threshold_percent", 10.0)
	v.SetDefault("detector.window", "1h")
	v.SetDefault("detector.dedup_bucket", "1h")

	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.cache_ttl", "30s")
	v.SetDefault("storage.max_history", 1000)
	v.SetDefault("storage.max_movements", 100)
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.timeout", "15s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must not be negative")
	}

	if c.Polymarket.CLOBAPIURL == "" {
		return fmt.Errorf("polymarket.clob_api_url is required")
	}
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.RateLimitDelayMS < 0 {
		return fmt.Errorf("polymarket.rate_limit_delay_ms must not be negative")
	}
	if c.Polymarket.FetchLimit < 1 || c.Polymarket.FetchLimit > 500 {
		return fmt.Errorf("polymarket.fetch_limit must be between 1 and 500")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}

	if c.Polling.IntervalMinutes <= 0 {
		return fmt.Errorf("polling.interval_minutes must be positive")
	}
	if c.Polling.InitialDelay < 0 {
		return fmt.Errorf("polling.initial_delay must not be negative")
	}

	if c.Detector.ThresholdPercent <= 0 {
		return fmt.Errorf("detector.threshold_percent must be positive")
	}
	if c.Detector.Window < time.Minute {
		return fmt.Errorf("detector.window must be at least 1 minute")
	}
	if c.Detector.DedupBucket < time.Minute {
		return fmt.Errorf("detector.dedup_bucket must be at least 1 minute")
	}

	if c.Storage.MaxHistory < 1 {
		return fmt.Errorf("storage.max_history must be at least 1")
	}
	if c.Storage.MaxMovements < 1 {
		return fmt.Errorf("storage.max_movements must be at least 1")
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if _, err := strconv.ParseInt(c.Telegram.ChatID, 10, 64); err != nil {
			return fmt.Errorf("telegram.chat_id must be a numeric chat ID when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}

// PollInterval is the scheduler interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMinutes * float64(time.Minute))
}

// RateLimitDelay is the minimum delay between upstream requests.
func (c *Config) RateLimitDelay() time.Duration {
	return time.Duration(c.Polymarket.RateLimitDelayMS) * time.Millisecond
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
