package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/notify"
	"github.com/alanyoungcy/spreadbot/internal/server/ws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Server.Enabled = false
	return &cfg
}

func TestWireMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notify.Subscribers = []string{"42", "7"}
	cfg.Notify.DiscordWebhookURL = "https://discord.example/webhook"

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	subs, err := deps.Registry.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"42", "7"}, subs)

	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.Bus)
	assert.Nil(t, deps.Limiter)
	assert.Nil(t, deps.Telegram)
	assert.Nil(t, deps.Notifier)

	names := make([]string, 0, len(deps.Broadcasters))
	for _, b := range deps.Broadcasters {
		names = append(names, b.Name())
	}
	assert.Equal(t, []string{"websocket", "discord"}, names)
	assert.Equal(t, "nobitex", string(deps.SourceA.Exchange()))
	assert.Equal(t, "wallex", string(deps.SourceB.Exchange()))
}

func TestWireTelegramWithoutRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notify.TelegramToken = "123:abc"

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Telegram)
	_, limited := deps.Notifier.(*notify.RateLimitedNotifier)
	assert.False(t, limited, "rate limiting needs redis")
}

func TestWireSQLite(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "sqlite"
	cfg.SQLite.Path = t.TempDir() + "/spreadbot.db"

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	require.Contains(t, deps.HealthChecks, "sqlite")
	assert.NoError(t, deps.HealthChecks["sqlite"](context.Background()))
}

func TestWireUnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "mongo"
	_, _, err := Wire(context.Background(), cfg, discardLogger())
	require.Error(t, err)
}

// TestRunScansAndShutsDown drives one full cycle against fake exchanges and
// checks the opportunity reached the websocket broadcaster path.
func TestRunScansAndShutsDown(t *testing.T) {
	nobitexAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok","stats":{"btc-rls":{"isClosed":false,"bestBuy":"1000000","bestSell":"1000000","latest":"1000000"}}}`)
	}))
	defer nobitexAPI.Close()
	wallexAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/depth" {
			_, _ = io.WriteString(w, `{"success":true,"message":"ok","result":{"bid":[{"price":"110000","quantity":"1"}],"ask":[{"price":"111000","quantity":"1"}]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"message":"ok","result":{"latestTrades":[]}}`)
	}))
	defer wallexAPI.Close()

	cfg := memoryConfig()
	cfg.Scan.Pairs = []string{"btc"}
	cfg.Scan.SkipWithoutSubscribers = false
	cfg.Scan.Interval.Duration = time.Hour
	cfg.Nobitex.BaseURL = nobitexAPI.URL
	cfg.Wallex.BaseURL = wallexAPI.URL

	a := New(cfg, discardLogger())
	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, deps) }()

	require.Eventually(t, func() bool {
		n, err := deps.Store.Count(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	recs, err := deps.Store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "BTC", recs[0].Pair)
	assert.Equal(t, "nobitex", string(recs[0].BuyExchange))
	assert.Equal(t, "wallex", string(recs[0].SellExchange))
	assert.Equal(t, 10.0, recs[0].PercentDiff)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("component", "test"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "test", line["component"])

	buf.Reset()
	NewLogger(&buf, "debug", "text").Debug("console")
	assert.Contains(t, buf.String(), "console")
	assert.NotContains(t, buf.String(), `"msg"`)
}

func TestNormalizePairs(t *testing.T) {
	assert.Equal(t, []string{"BTC", "ETH"}, normalizePairs([]string{" btc", "ETH", "BTC", ""}))
}

var _ notify.Broadcaster = (*ws.Hub)(nil)
