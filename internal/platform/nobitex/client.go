// Package nobitex is a quote source for the Nobitex exchange. Nobitex
// quotes in Rial; quotes are converted to Toman with the configured unit
// factor.
package nobitex

import (
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

// Exchange is the identifier Nobitex quotes carry.
const Exchange domain.Exchange = "nobitex"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://apiv2.nobitex.ir".
	BaseURL string
	// DstCurrency is the quote currency on the exchange, "rls" by default.
	DstCurrency string
	// UnitFactor converts DstCurrency prices to the settlement currency.
	UnitFactor float64
	// Timeout bounds each HTTP request in addition to the caller's context.
	Timeout time.Duration
}

// Client is the REST client for the Nobitex market stats API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Nobitex client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://apiv2.nobitex.ir"
	}
	if cfg.DstCurrency == "" {
		cfg.DstCurrency = "rls"
	}
	if cfg.UnitFactor == 0 {
		cfg.UnitFactor = 0.1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Exchange returns "nobitex".
func (c *Client) Exchange() domain.Exchange { return Exchange }

type marketStat struct {
	BestBuy  string `json:"bestBuy"`
	BestSell string `json:"bestSell"`
	Latest   string `json:"latest"`
	IsClosed bool   `json:"isClosed"`
}

type statsResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message"`
	Stats   map[string]marketStat `json:"stats"`
}

// Fetch returns the best bid (bestBuy) and best ask (bestSell) for pair,
// e.g. "BTC", against DstCurrency.
func (c *Client) Fetch(ctx context.Context, pair string) (domain.Quote, error) {
	src := strings.ToLower(pair)
	params := url.Values{}
	params.Set("srcCurrency", src)
	params.Set("dstCurrency", c.cfg.DstCurrency)

	body, err := c.get(ctx, "/market/stats?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%w: nobitex: stats %s: %v", domain.ErrFetchFailed, pair, err)
	}

	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("%w: nobitex: decode stats %s: %v", domain.ErrMalformedQuote, pair, err)
	}
	if resp.Status != "ok" {
		return domain.Quote{}, fmt.Errorf("%w: nobitex: stats %s: status %q: %s", domain.ErrFetchFailed, pair, resp.Status, resp.Message)
	}
	key := src + "-" + c.cfg.DstCurrency
	stat, ok := resp.Stats[key]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: nobitex: no stats for %s", domain.ErrMalformedQuote, key)
	}
	if stat.IsClosed {
		return domain.Quote{}, fmt.Errorf("%w: nobitex: market %s is closed", domain.ErrFetchFailed, key)
	}

	return domain.NormalizeQuote(Exchange, pair, domain.RawQuote{
		BestBid:    stat.BestBuy,
		BestAsk:    stat.BestSell,
		Last:       stat.Latest,
		ObservedAt: time.Now().UTC(),
	}, c.cfg.UnitFactor)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var _ domain.QuoteSource = (*Client)(nil)
