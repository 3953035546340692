package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PercentDiffPlaces is the precision percent differences are stored at.
	PercentDiffPlaces = 3
	// PricePlaces is the precision prices and absolute differences are stored at.
	PricePlaces = 8
)

// Opportunity is a spread between two exchanges for one pair that exceeded
// the profitability threshold: buying on BuyExchange at BuyPrice and selling
// on SellExchange at SellPrice. Construct with NewOpportunity.
type Opportunity struct {
	Pair         string    `json:"pair"`
	BuyExchange  Exchange  `json:"buy_exchange"`
	SellExchange Exchange  `json:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	AbsoluteDiff float64   `json:"absolute_diff"`
	PercentDiff  float64   `json:"percent_diff"`
	DetectedAt   time.Time `json:"detected_at"`
}

// NewOpportunity derives the difference fields from the two legs. It
// rejects legs on the same exchange, a non-positive buy price, and spreads
// where selling does not beat buying.
func NewOpportunity(pair string, buyEx, sellEx Exchange, buyPrice, sellPrice float64, at time.Time) (Opportunity, error) {
	if buyEx == sellEx {
		return Opportunity{}, fmt.Errorf("%w: buy and sell exchange are both %q", ErrInvalidQuote, buyEx)
	}
	if buyPrice <= 0 {
		return Opportunity{}, fmt.Errorf("%w: buy price %v on %s is not positive", ErrInvalidQuote, buyPrice, buyEx)
	}
	if sellPrice <= buyPrice {
		return Opportunity{}, fmt.Errorf("%w: sell price %v does not exceed buy price %v", ErrInvalidQuote, sellPrice, buyPrice)
	}
	diff := sellPrice - buyPrice
	return Opportunity{
		Pair:         pair,
		BuyExchange:  buyEx,
		SellExchange: sellEx,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
		AbsoluteDiff: diff,
		PercentDiff:  diff / buyPrice * 100,
		DetectedAt:   at,
	}, nil
}

// Direction renders the trade route, e.g. "Buy on nobitex → Sell on wallex".
func (o Opportunity) Direction() string {
	return fmt.Sprintf("Buy on %s → Sell on %s", o.BuyExchange, o.SellExchange)
}

// OpportunityRecord is the persisted form of an Opportunity. Numeric fields
// are rounded so that identical spreads compare equal in the store.
type OpportunityRecord struct {
	ID           int64     `json:"id"`
	Pair         string    `json:"pair"`
	BuyExchange  Exchange  `json:"buy_exchange"`
	SellExchange Exchange  `json:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	AbsoluteDiff float64   `json:"absolute_diff"`
	PercentDiff  float64   `json:"percent_diff"`
	DetectedAt   time.Time `json:"detected_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Record returns the normalized record used for dedup and persistence.
func (o Opportunity) Record() OpportunityRecord {
	return OpportunityRecord{
		Pair:         o.Pair,
		BuyExchange:  o.BuyExchange,
		SellExchange: o.SellExchange,
		BuyPrice:     round(o.BuyPrice, PricePlaces),
		SellPrice:    round(o.SellPrice, PricePlaces),
		AbsoluteDiff: round(o.AbsoluteDiff, PricePlaces),
		PercentDiff:  round(o.PercentDiff, PercentDiffPlaces),
		DetectedAt:   o.DetectedAt,
	}
}

// Opportunity converts a stored record back into its domain form.
func (r OpportunityRecord) Opportunity() Opportunity {
	return Opportunity{
		Pair:         r.Pair,
		BuyExchange:  r.BuyExchange,
		SellExchange: r.SellExchange,
		BuyPrice:     r.BuyPrice,
		SellPrice:    r.SellPrice,
		AbsoluteDiff: r.AbsoluteDiff,
		PercentDiff:  r.PercentDiff,
		DetectedAt:   r.DetectedAt,
	}
}

// DedupKey identifies the normalized fields that make two records the same.
func (r OpportunityRecord) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		r.Pair, r.BuyExchange, r.SellExchange,
		decimal.NewFromFloat(r.BuyPrice).String(),
		decimal.NewFromFloat(r.SellPrice).String(),
		decimal.NewFromFloat(r.AbsoluteDiff).String(),
		decimal.NewFromFloat(r.PercentDiff).String(),
	)
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
