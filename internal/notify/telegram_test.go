package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// fakeTelegram serves getUpdates from a queue and records sendMessage calls.
type fakeTelegram struct {
	mu      sync.Mutex
	updates []string
	sent    []map[string]string
	failFor string
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bottoken/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		f.mu.Lock()
		defer f.mu.Unlock()
		if payload["chat_id"] == f.failFor {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
			return
		}
		f.sent = append(f.sent, payload)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	})
	mux.HandleFunc("GET /bottoken/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		var batch string
		if len(f.updates) > 0 {
			batch, f.updates = f.updates[0], f.updates[1:]
		}
		f.mu.Unlock()
		if batch == "" {
			batch = "[]"
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":%s}`, batch)
	})
	return mux
}

func (f *fakeTelegram) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTelegramSend(t *testing.T) {
	fake := &fakeTelegram{failFor: "13"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	bot := NewTelegramBot(TelegramConfig{Token: "token", APIURL: srv.URL}, nil, testLogger())

	require.NoError(t, bot.Send(context.Background(), "42", "*hello*"))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "42", fake.sent[0]["chat_id"])
	assert.Equal(t, "Markdown", fake.sent[0]["parse_mode"])

	err := bot.Send(context.Background(), "13", "hello")
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.True(t, strings.Contains(err.Error(), "blocked"))
}

func TestTelegramRegistrationFlow(t *testing.T) {
	fake := &fakeTelegram{updates: []string{
		`[{"update_id":10,"message":{"text":"/start","chat":{"id":42}}},
		  {"update_id":11,"message":{"text":"/start@spreadbot","chat":{"id":7}}},
		  {"update_id":12,"message":{"text":"hello","chat":{"id":99}}}]`,
		`[{"update_id":13,"message":{"text":"/stop","chat":{"id":7}}}]`,
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	reg := NewMemoryRegistry()
	bot := NewTelegramBot(TelegramConfig{
		Token:       "token",
		APIURL:      srv.URL,
		PollTimeout: time.Second,
		RetryDelay:  10 * time.Millisecond,
	}, reg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.sentCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	subs, err := reg.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, subs)
}

func TestCommand(t *testing.T) {
	assert.Equal(t, "/start", command("/start"))
	assert.Equal(t, "/start", command("/START@spreadbot extra"))
	assert.Equal(t, "", command("start"))
	assert.Equal(t, "", command("  "))
}
