package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

type chanBus struct {
	ch chan []byte
}

func (b chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func TestHubDeliversOpportunities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()

	bus := chanBus{ch: make(chan []byte, 1)}
	go func() { _ = hub.Bridge(ctx, bus, "opportunities") }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "hello", readFrame(t, conn).Type)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	opp, err := domain.NewOpportunity("BTC", "nobitex", "wallex", 100, 106, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Broadcast(ctx, []domain.Opportunity{opp}))

	f := readFrame(t, conn)
	assert.Equal(t, "opportunity", f.Type)
	var got domain.Opportunity
	require.NoError(t, json.Unmarshal(f.Payload, &got))
	assert.Equal(t, "BTC", got.Pair)

	bus.ch <- []byte(`{"pair":"ETH"}`)
	f = readFrame(t, conn)
	assert.Equal(t, "opportunity", f.Type)
	assert.JSONEq(t, `{"pair":"ETH"}`, string(f.Payload))
}
