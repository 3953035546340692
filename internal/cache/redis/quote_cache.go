package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using one Redis hash per exchange
// and pair at "<prefix>:quote:{exchange}:{pair}".
type QuoteCache struct {
	client *Client
	ttl    time.Duration
}

// NewQuoteCache creates a QuoteCache. Entries expire after ttl; zero keeps
// them forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{client: c, ttl: ttl}
}

func (qc *QuoteCache) key(exchange domain.Exchange, pair string) string {
	return qc.client.Key("quote", string(exchange), pair)
}

// SetQuote stores q, replacing the previous quote for its exchange and pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := qc.key(q.Exchange, q.Pair)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	if q.Last != nil {
		fields["last"] = strconv.FormatFloat(*q.Last, 'f', -1, 64)
	}

	rdb := qc.client.Underlying()
	pipe := rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Exchange, q.Pair, err)
	}
	return nil
}

// GetQuote returns the cached quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, exchange domain.Exchange, pair string) (domain.Quote, error) {
	vals, err := qc.client.Underlying().HGetAll(ctx, qc.key(exchange, pair)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", exchange, pair, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", exchange, pair, domain.ErrNotFound)
	}

	q := domain.Quote{Exchange: exchange, Pair: pair}
	if q.BestBid, err = strconv.ParseFloat(vals["bid"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid %s/%s: %w", exchange, pair, err)
	}
	if q.BestAsk, err = strconv.ParseFloat(vals["ask"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask %s/%s: %w", exchange, pair, err)
	}
	if raw, ok := vals["last"]; ok {
		last, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("redis: parse last %s/%s: %w", exchange, pair, err)
		}
		q.Last = &last
	}
	ns, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s/%s: %w", exchange, pair, err)
	}
	q.ObservedAt = time.Unix(0, ns).UTC()
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
