// Package config defines the top-level configuration for spreadbot and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPREADBOT_* environment variables.
type Config struct {
	Scan      ScanConfig     `toml:"scan"`
	Nobitex   ExchangeConfig `toml:"nobitex"`
	Wallex    ExchangeConfig `toml:"wallex"`
	Storage   StorageConfig  `toml:"storage"`
	Postgres  PostgresConfig `toml:"postgres"`
	SQLite    SQLiteConfig   `toml:"sqlite"`
	Redis     RedisConfig    `toml:"redis"`
	Kafka     KafkaConfig    `toml:"kafka"`
	S3        S3Config       `toml:"s3"`
	Server    ServerConfig   `toml:"server"`
	Notify    NotifyConfig   `toml:"notify"`
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
}

// ScanConfig drives the poll cycle.
type ScanConfig struct {
	Pairs                  []string `toml:"pairs"`
	Interval               duration `toml:"interval"`
	ThresholdPercent       float64  `toml:"threshold_percent"`
	FetchTimeout           duration `toml:"fetch_timeout"`
	MaxWorkers             int      `toml:"max_workers"`
	SkipWithoutSubscribers bool     `toml:"skip_without_subscribers"`
	// CycleLock takes a Redis lock around each cycle so that several
	// instances do not scan at the same time. Needs redis.enabled.
	CycleLock     bool     `toml:"cycle_lock"`
	CommitTimeout duration `toml:"commit_timeout"`
}

// ExchangeConfig holds one exchange's REST settings.
type ExchangeConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	// QuoteCurrency is the exchange-side quote ("rls" on Nobitex, "TMN" on
	// Wallex).
	QuoteCurrency string `toml:"quote_currency"`
	// UnitFactor converts exchange prices to Toman.
	UnitFactor float64  `toml:"unit_factor"`
	Timeout    duration `toml:"timeout"`
	FetchLast  bool     `toml:"fetch_last"`
}

// StorageConfig picks the opportunity store.
type StorageConfig struct {
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the SQLite database location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// subscriber registry, quote cache and rate limiter live in memory.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// QuoteTTL expires cached quotes that have not been refreshed.
	QuoteTTL duration `toml:"quote_ttl"`
}

// KafkaConfig configures the opportunity event stream.
type KafkaConfig struct {
	Enabled    bool     `toml:"enabled"`
	Brokers    []string `toml:"brokers"`
	Topic      string   `toml:"topic"`
	Partitions int      `toml:"partitions"`
}

// S3Config configures the opportunity archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client; 0 disables it. Only
	// enforced when redis is enabled.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig configures subscriber delivery and broadcast channels.
type NotifyConfig struct {
	TelegramToken       string   `toml:"telegram_token"`
	TelegramPollTimeout duration `toml:"telegram_poll_timeout"`
	// TelegramRatePerSec caps outgoing Telegram messages; 0 disables it.
	TelegramRatePerSec int      `toml:"telegram_rate_per_sec"`
	DiscordWebhookURL  string   `toml:"discord_webhook_url"`
	QuoteCurrency      string   `toml:"quote_currency"`
	Subscribers        []string `toml:"subscribers"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Scan: ScanConfig{
			Pairs:                  []string{"BTC", "ETH", "USDT"},
			Interval:               duration{20 * time.Second},
			ThresholdPercent:       0.5,
			FetchTimeout:           duration{5 * time.Second},
			MaxWorkers:             8,
			SkipWithoutSubscribers: true,
			CommitTimeout:          duration{time.Minute},
		},
		Nobitex: ExchangeConfig{
			BaseURL:       "https://apiv2.nobitex.ir",
			QuoteCurrency: "rls",
			UnitFactor:    0.1,
			Timeout:       duration{10 * time.Second},
		},
		Wallex: ExchangeConfig{
			BaseURL:       "https://api.wallex.ir",
			QuoteCurrency: "TMN",
			UnitFactor:    1,
			Timeout:       duration{10 * time.Second},
			FetchLast:     true,
		},
		Storage: StorageConfig{Driver: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spreadbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "data/spreadbot.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "spreadbot",
			QuoteTTL:   duration{5 * time.Minute},
		},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			Topic:      "spreadbot.opportunities",
			Partitions: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spreadbot-archive",
			Prefix:         "opportunities",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			TelegramPollTimeout: duration{30 * time.Second},
			TelegramRatePerSec:  25,
			QuoteCurrency:       "Toman",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// Validate checks the configuration for logical errors and returns a combined
// error describing every problem found, or nil if the config is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// Scan
	if len(c.Scan.Pairs) == 0 {
		errs = append(errs, "scan: pairs must not be empty")
	}
	seen := make(map[string]bool, len(c.Scan.Pairs))
	for _, p := range c.Scan.Pairs {
		key := strings.ToUpper(strings.TrimSpace(p))
		if key == "" {
			errs = append(errs, "scan: pairs must not contain empty entries")
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Sprintf("scan: duplicate pair %q", p))
		}
		seen[key] = true
	}
	if c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0")
	}
	if c.Scan.ThresholdPercent < 0 {
		errs = append(errs, "scan: threshold_percent must be >= 0")
	}
	if c.Scan.FetchTimeout.Duration <= 0 {
		errs = append(errs, "scan: fetch_timeout must be > 0")
	}
	if c.Scan.MaxWorkers < 1 {
		errs = append(errs, "scan: max_workers must be >= 1")
	}
	if c.Scan.CycleLock && !c.Redis.Enabled {
		errs = append(errs, "scan: cycle_lock requires redis.enabled")
	}

	// Exchanges
	errs = append(errs, c.Nobitex.validate("nobitex")...)
	errs = append(errs, c.Wallex.validate("wallex")...)

	// Storage
	switch driver := strings.ToLower(c.Storage.Driver); {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, sqlite, memory)", c.Storage.Driver))
	case driver == "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case driver == "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if c.Notify.DiscordWebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Notify.DiscordWebhookURL); err != nil {
			errs = append(errs, "notify: discord_webhook_url is not a valid URL")
		}
	}
	if c.Notify.TelegramRatePerSec < 0 {
		errs = append(errs, "notify: telegram_rate_per_sec must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (e ExchangeConfig) validate(name string) []string {
	var errs []string
	if e.BaseURL == "" {
		errs = append(errs, name+": base_url must not be empty")
	} else if _, err := url.ParseRequestURI(e.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("%s: base_url %q is not a valid URL", name, e.BaseURL))
	}
	if e.UnitFactor <= 0 {
		errs = append(errs, name+": unit_factor must be > 0")
	}
	return errs
}
