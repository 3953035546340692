package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPREADBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is the
// default "config.toml". The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !(errors.Is(err, fs.ErrNotExist) && path == "config.toml") {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPREADBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Scan ──
	setStringSlice(&cfg.Scan.Pairs, "SPREADBOT_SCAN_PAIRS")
	setSeconds(&cfg.Scan.Interval, "POLL_INTERVAL_SECONDS") // compatibility alias
	setDuration(&cfg.Scan.Interval, "SPREADBOT_SCAN_INTERVAL")
	setFloat64(&cfg.Scan.ThresholdPercent, "SPREADBOT_SCAN_THRESHOLD_PERCENT")
	setDuration(&cfg.Scan.FetchTimeout, "SPREADBOT_SCAN_FETCH_TIMEOUT")
	setInt(&cfg.Scan.MaxWorkers, "SPREADBOT_SCAN_MAX_WORKERS")
	setBool(&cfg.Scan.SkipWithoutSubscribers, "SPREADBOT_SCAN_SKIP_WITHOUT_SUBSCRIBERS")
	setBool(&cfg.Scan.CycleLock, "SPREADBOT_SCAN_CYCLE_LOCK")

	// ── Exchanges ──
	setStr(&cfg.Nobitex.BaseURL, "SPREADBOT_NOBITEX_BASE_URL")
	setStr(&cfg.Nobitex.APIKey, "SPREADBOT_NOBITEX_API_KEY")
	setStr(&cfg.Wallex.BaseURL, "SPREADBOT_WALLEX_BASE_URL")
	setStr(&cfg.Wallex.APIKey, "SPREADBOT_WALLEX_API_KEY")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "SPREADBOT_STORAGE_DRIVER")
	setStr(&cfg.Postgres.DSN, "SPREADBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SPREADBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SPREADBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SPREADBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SPREADBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SPREADBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SPREADBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "SPREADBOT_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "SPREADBOT_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SPREADBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SPREADBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPREADBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPREADBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SPREADBOT_REDIS_TLS_ENABLED")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "SPREADBOT_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "SPREADBOT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "SPREADBOT_KAFKA_TOPIC")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPREADBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPREADBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPREADBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPREADBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPREADBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPREADBOT_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SPREADBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SPREADBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SPREADBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SPREADBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPREADBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_TOKEN") // compatibility alias
	setStr(&cfg.Notify.DiscordWebhookURL, "SPREADBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Subscribers, "SPREADBOT_NOTIFY_SUBSCRIBERS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "SPREADBOT_LOG_LEVEL")
	setStr(&cfg.LogFormat, "SPREADBOT_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setSeconds accepts a plain number of seconds.
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			dst.Duration = time.Duration(f * float64(time.Second))
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
