package domain

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Exchange identifies a price venue, e.g. "nobitex" or "wallex".
type Exchange string

// Quote is an immutable best-bid/best-ask snapshot for one pair on one
// exchange, already expressed in the common settlement currency.
type Quote struct {
	Exchange   Exchange
	Pair       string
	BestBid    float64
	BestAsk    float64
	Last       *float64
	ObservedAt time.Time
}

// RawQuote is the exchange-native shape of a quote before normalization.
// Exchange APIs return prices as decimal strings; an empty Last is allowed.
type RawQuote struct {
	BestBid    string
	BestAsk    string
	Last       string
	ObservedAt time.Time
}

// QuoteSource fetches normalized quotes from one exchange. Implementations
// return errors wrapping ErrFetchFailed or ErrMalformedQuote.
type QuoteSource interface {
	Exchange() Exchange
	Fetch(ctx context.Context, pair string) (Quote, error)
}

// NormalizeQuote converts raw into a Quote, multiplying every price by
// factor (0.1 turns Rial into Toman). Missing or non-numeric bid/ask fields
// yield an error wrapping ErrMalformedQuote.
func NormalizeQuote(exchange Exchange, pair string, raw RawQuote, factor float64) (Quote, error) {
	if factor <= 0 {
		return Quote{}, fmt.Errorf("%w: %s %s: unit factor %v must be positive", ErrMalformedQuote, exchange, pair, factor)
	}
	bid, err := parsePrice(raw.BestBid)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s %s: best bid: %v", ErrMalformedQuote, exchange, pair, err)
	}
	ask, err := parsePrice(raw.BestAsk)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s %s: best ask: %v", ErrMalformedQuote, exchange, pair, err)
	}

	q := Quote{
		Exchange:   exchange,
		Pair:       pair,
		BestBid:    bid * factor,
		BestAsk:    ask * factor,
		ObservedAt: raw.ObservedAt,
	}
	if strings.TrimSpace(raw.Last) != "" {
		last, err := parsePrice(raw.Last)
		if err != nil {
			return Quote{}, fmt.Errorf("%w: %s %s: last: %v", ErrMalformedQuote, exchange, pair, err)
		}
		last *= factor
		q.Last = &last
	}
	if q.ObservedAt.IsZero() {
		q.ObservedAt = time.Now().UTC()
	}
	return q, nil
}

func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not numeric: %q", s)
	}
	return v, nil
}
