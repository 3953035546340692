// Package wallex is a quote source for the Wallex exchange. Best bid and
// ask come from the order book depth; the last trade price is optional.
package wallex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Exchange is the identifier Wallex quotes carry.
const Exchange domain.Exchange = "wallex"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.wallex.ir".
	BaseURL string
	// APIKey is sent as x-api-key when set.
	APIKey string
	// QuoteCurrency is appended to the pair to form the symbol (BTC -> BTCTMN).
	QuoteCurrency string
	// UnitFactor converts QuoteCurrency prices to the settlement currency.
	UnitFactor float64
	// FetchLast also requests the latest trade to fill Quote.Last.
	FetchLast bool
	Timeout   time.Duration
}

// Client is the REST client for the Wallex public market API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Wallex client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.wallex.ir"
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "TMN"
	}
	if cfg.UnitFactor == 0 {
		cfg.UnitFactor = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Exchange returns "wallex".
func (c *Client) Exchange() domain.Exchange { return Exchange }

// Symbol returns the Wallex market symbol for pair.
func (c *Client) Symbol(pair string) string {
	return strings.ToUpper(pair) + strings.ToUpper(c.cfg.QuoteCurrency)
}

// number accepts a JSON number or a numeric string and keeps its text.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = number(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = number(num.String())
	return nil
}

type level struct {
	Price    number `json:"price"`
	Quantity number `json:"quantity"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type depthResult struct {
	Ask []level `json:"ask"`
	Bid []level `json:"bid"`
}

type tradesResult struct {
	LatestTrades []struct {
		Price     number `json:"price"`
		Timestamp string `json:"timestamp"`
	} `json:"latestTrades"`
}

// Fetch returns the top of the order book for pair.
func (c *Client) Fetch(ctx context.Context, pair string) (domain.Quote, error) {
	symbol := c.Symbol(pair)
	params := url.Values{}
	params.Set("symbol", symbol)

	var depth depthResult
	if err := c.get(ctx, "/v1/depth?"+params.Encode(), &depth); err != nil {
		return domain.Quote{}, fmt.Errorf("wallex: depth %s: %w", symbol, err)
	}
	if len(depth.Bid) == 0 || len(depth.Ask) == 0 {
		return domain.Quote{}, fmt.Errorf("%w: wallex: depth %s: empty order book side", domain.ErrMalformedQuote, symbol)
	}

	raw := domain.RawQuote{
		BestBid:    string(depth.Bid[0].Price),
		BestAsk:    string(depth.Ask[0].Price),
		ObservedAt: time.Now().UTC(),
	}
	if c.cfg.FetchLast {
		var trades tradesResult
		// The last price is informational; a failed trades call keeps Last nil.
		if err := c.get(ctx, "/v1/trades?"+params.Encode(), &trades); err == nil && len(trades.LatestTrades) > 0 {
			raw.Last = string(trades.LatestTrades[0].Price)
		}
	}
	return domain.NormalizeQuote(Exchange, pair, raw, c.cfg.UnitFactor)
}

// get fetches path and decodes the envelope's result into out. Transport
// and API failures wrap domain.ErrFetchFailed, undecodable bodies
// domain.ErrMalformedQuote.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send request: %v", domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrFetchFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Errorf("%w: unexpected status %d: %s", domain.ErrFetchFailed, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrMalformedQuote, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: api error: %s", domain.ErrFetchFailed, env.Message)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", domain.ErrMalformedQuote, err)
	}
	return nil
}

var _ domain.QuoteSource = (*Client)(nil)
