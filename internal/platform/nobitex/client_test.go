package nobitex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/stats", r.URL.Path)
		assert.Equal(t, "btc", r.URL.Query().Get("srcCurrency"))
		assert.Equal(t, "rls", r.URL.Query().Get("dstCurrency"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchConvertsRialToToman(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{
		"status": "ok",
		"stats": {"btc-rls": {"bestBuy": "65000000000", "bestSell": "65100000000", "latest": "65050000000", "isClosed": false}}
	}`)
	c := NewClient(Config{BaseURL: srv.URL})

	q, err := c.Fetch(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, Exchange, q.Exchange)
	assert.Equal(t, "BTC", q.Pair)
	assert.InDelta(t, 6500000000, q.BestBid, 1e-3)
	assert.InDelta(t, 6510000000, q.BestAsk, 1e-3)
	require.NotNil(t, q.Last)
	assert.InDelta(t, 6505000000, *q.Last, 1e-3)
	assert.WithinDuration(t, time.Now(), q.ObservedAt, 5*time.Second)
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"http error", http.StatusBadGateway, `bad gateway`, domain.ErrFetchFailed},
		{"status failed", http.StatusOK, `{"status":"failed","message":"rate limited"}`, domain.ErrFetchFailed},
		{"invalid json", http.StatusOK, `{"status":`, domain.ErrMalformedQuote},
		{"missing market", http.StatusOK, `{"status":"ok","stats":{}}`, domain.ErrMalformedQuote},
		{"non numeric", http.StatusOK, `{"status":"ok","stats":{"btc-rls":{"bestBuy":"n/a","bestSell":"1"}}}`, domain.ErrMalformedQuote},
		{"closed market", http.StatusOK, `{"status":"ok","stats":{"btc-rls":{"bestBuy":"1","bestSell":"2","isClosed":true}}}`, domain.ErrFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.status, tt.body)
			_, err := NewClient(Config{BaseURL: srv.URL}).Fetch(context.Background(), "BTC")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(Config{BaseURL: srv.URL}).Fetch(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrFetchFailed)
}
