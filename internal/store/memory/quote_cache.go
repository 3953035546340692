package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

type quoteKey struct {
	exchange domain.Exchange
	pair     string
}

// QuoteCache implements domain.QuoteCache in process memory.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[quoteKey]domain.Quote
}

// NewQuoteCache returns an empty cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[quoteKey]domain.Quote)}
}

// SetQuote replaces the cached quote for q's exchange and pair.
func (c *QuoteCache) SetQuote(_ context.Context, q domain.Quote) error {
	c.mu.Lock()
	c.quotes[quoteKey{q.Exchange, q.Pair}] = q
	c.mu.Unlock()
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (c *QuoteCache) GetQuote(_ context.Context, exchange domain.Exchange, pair string) (domain.Quote, error) {
	c.mu.RLock()
	q, ok := c.quotes[quoteKey{exchange, pair}]
	c.mu.RUnlock()
	if !ok {
		return domain.Quote{}, fmt.Errorf("memory: quote %s/%s: %w", exchange, pair, domain.ErrNotFound)
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
