// Package arbitrage detects cross-exchange spreads between two normalized
// quotes for the same pair.
package arbitrage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// DefaultThresholdPercent is the profitability threshold used when none is
// configured.
const DefaultThresholdPercent = 0.5

// Detector evaluates both trade directions between two quotes against a
// fixed percent threshold.
type Detector struct {
	threshold float64
	logger    *slog.Logger
}

// NewDetector creates a detector. A negative threshold falls back to
// DefaultThresholdPercent.
func NewDetector(thresholdPercent float64, logger *slog.Logger) *Detector {
	if thresholdPercent < 0 {
		thresholdPercent = DefaultThresholdPercent
	}
	return &Detector{
		threshold: thresholdPercent,
		logger:    logger.With(slog.String("component", "detector")),
	}
}

// Threshold returns the configured threshold in percent.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect runs Detect with the detector's threshold and logs skipped
// directions.
func (d *Detector) Detect(pair string, a, b domain.Quote) []domain.Opportunity {
	opps, err := Detect(pair, a, b, d.threshold)
	if err != nil {
		d.logger.Warn("detector: direction skipped",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}
	for _, opp := range opps {
		d.logger.Debug("detector: opportunity",
			slog.String("pair", pair),
			slog.String("direction", opp.Direction()),
			slog.Float64("percent_diff", opp.PercentDiff),
		)
	}
	return opps
}

// Detect evaluates both directions independently:
//
//  1. buy at a.BestAsk, sell at b.BestBid
//  2. buy at b.BestAsk, sell at a.BestBid
//
// A direction yields an opportunity iff its percent difference is strictly
// greater than thresholdPercent. Both directions may qualify at once. A
// direction whose buy price is not positive is skipped and reported in the
// returned error, which never suppresses the other direction's result.
func Detect(pair string, a, b domain.Quote, thresholdPercent float64) ([]domain.Opportunity, error) {
	if a.Exchange == b.Exchange {
		return nil, fmt.Errorf("%w: %s: both quotes come from %q", domain.ErrInvalidQuote, pair, a.Exchange)
	}
	at := a.ObservedAt
	if b.ObservedAt.After(at) {
		at = b.ObservedAt
	}

	var (
		opps []domain.Opportunity
		errs []error
	)
	legs := [2]struct {
		buy, sell domain.Quote
	}{
		{buy: a, sell: b},
		{buy: b, sell: a},
	}
	for _, leg := range legs {
		pct, err := PercentDiff(leg.buy.BestAsk, leg.sell.BestBid)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s buy on %s: %w", pair, leg.buy.Exchange, err))
			continue
		}
		if pct <= thresholdPercent {
			continue
		}
		opp, err := domain.NewOpportunity(pair, leg.buy.Exchange, leg.sell.Exchange, leg.buy.BestAsk, leg.sell.BestBid, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s buy on %s: %w", pair, leg.buy.Exchange, err))
			continue
		}
		opps = append(opps, opp)
	}
	return opps, errors.Join(errs...)
}

// PercentDiff returns (sell - buy) / buy * 100. It fails with
// domain.ErrInvalidQuote when buy is not positive.
func PercentDiff(buy, sell float64) (float64, error) {
	if buy <= 0 {
		return 0, fmt.Errorf("%w: buy price %v is not positive", domain.ErrInvalidQuote, buy)
	}
	return (sell - buy) / buy * 100, nil
}

// BestPercentDiff returns the larger percent difference of the two
// directions, regardless of threshold. ok is false when neither direction
// has a positive buy price.
func BestPercentDiff(a, b domain.Quote) (best float64, ok bool) {
	for _, p := range [2][2]float64{{a.BestAsk, b.BestBid}, {b.BestAsk, a.BestBid}} {
		pct, err := PercentDiff(p[0], p[1])
		if err != nil {
			continue
		}
		if !ok || pct > best {
			best, ok = pct, true
		}
	}
	return best, ok
}
