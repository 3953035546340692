package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spreadbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20*time.Second, cfg.Scan.Interval.Duration)
	assert.Equal(t, 0.5, cfg.Scan.ThresholdPercent)
	assert.True(t, cfg.Scan.SkipWithoutSubscribers)
	assert.Equal(t, 0.1, cfg.Nobitex.UnitFactor)
	assert.Equal(t, 1.0, cfg.Wallex.UnitFactor)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[scan]
pairs = ["BTC", "DOGE"]
interval = "45s"
threshold_percent = 1.25

[storage]
driver = "memory"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"BTC", "DOGE"}, cfg.Scan.Pairs)
	assert.Equal(t, 45*time.Second, cfg.Scan.Interval.Duration)
	assert.Equal(t, 1.25, cfg.Scan.ThresholdPercent)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	// untouched sections keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Scan.FetchTimeout.Duration)
	assert.Equal(t, "https://apiv2.nobitex.ir", cfg.Nobitex.BaseURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "[scan\npairs = 1"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPREADBOT_SCAN_PAIRS", " BTC , ETH ,,")
	t.Setenv("SPREADBOT_SCAN_THRESHOLD_PERCENT", "0.8")
	t.Setenv("SPREADBOT_STORAGE_DRIVER", "postgres")
	t.Setenv("SPREADBOT_POSTGRES_DSN", "postgres://u:p@db:5432/spreadbot")
	t.Setenv("SPREADBOT_NOTIFY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("SPREADBOT_SCAN_MAX_WORKERS", "not-a-number")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Scan.Pairs)
	assert.Equal(t, 0.8, cfg.Scan.ThresholdPercent)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/spreadbot", cfg.Postgres.DSN)
	assert.Equal(t, "123:abc", cfg.Notify.TelegramToken)
	assert.Equal(t, 8, cfg.Scan.MaxWorkers, "unparsable values are ignored")
}

func TestPollIntervalAlias(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SECONDS", "7")
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Scan.Interval.Duration)

	t.Setenv("SPREADBOT_SCAN_INTERVAL", "1m")
	cfg, err = Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Scan.Interval.Duration)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Scan.Pairs = []string{"BTC", "btc"}
	cfg.Scan.Interval.Duration = 0
	cfg.Scan.ThresholdPercent = -1
	cfg.Scan.CycleLock = true
	cfg.Nobitex.UnitFactor = 0
	cfg.Storage.Driver = "mongo"
	cfg.Server.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown log_level "loud"`,
		`scan: duplicate pair "btc"`,
		"scan: interval must be > 0",
		"scan: threshold_percent must be >= 0",
		"scan: cycle_lock requires redis.enabled",
		"nobitex: unit_factor must be > 0",
		`storage: unknown driver "mongo"`,
		"server: port must be 1-65535, got 70000",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidatePostgresRequiresConnection(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = "postgres"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")

	cfg.Postgres.DSN = "postgres://localhost/spreadbot"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3cr3t"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Empty(t, out.Server.APIKey, "empty secrets stay empty")

	out.Scan.Pairs[0] = "XRP"
	assert.Equal(t, "BTC", cfg.Scan.Pairs[0])
	assert.Equal(t, "123:abc", cfg.Notify.TelegramToken)
}
