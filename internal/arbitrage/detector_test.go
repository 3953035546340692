package arbitrage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func quote(ex domain.Exchange, bid, ask float64) domain.Quote {
	return domain.Quote{
		Exchange:   ex,
		Pair:       "BTC",
		BestBid:    bid,
		BestAsk:    ask,
		ObservedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestDetectBuyOnAQualifies(t *testing.T) {
	a := quote("nobitex", 100, 101)
	b := quote("wallex", 106, 107)

	opps, err := Detect("BTC", a, b, 0.5)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.Exchange("nobitex"), opp.BuyExchange)
	assert.Equal(t, domain.Exchange("wallex"), opp.SellExchange)
	assert.Equal(t, 101.0, opp.BuyPrice)
	assert.Equal(t, 106.0, opp.SellPrice)
	assert.Equal(t, 5.0, opp.AbsoluteDiff)
	assert.InDelta(t, 4.9505, opp.PercentDiff, 1e-4)
	assert.Equal(t, a.ObservedAt, opp.DetectedAt)
}

func TestDetectThresholdIsStrict(t *testing.T) {
	// 1/128 is exact in binary, so the percent difference is exactly 0.78125.
	a := quote("nobitex", 1, 128)
	b := quote("wallex", 129, 1000)

	opps, err := Detect("BTC", a, b, 0.78125)
	require.NoError(t, err)
	assert.Empty(t, opps)

	opps, err = Detect("BTC", a, b, 0.78)
	require.NoError(t, err)
	assert.Len(t, opps, 1)
}

func TestDetectBothDirectionsCanQualify(t *testing.T) {
	// Crossed books on both sides: each direction is evaluated on its own.
	a := quote("nobitex", 110, 100)
	b := quote("wallex", 110, 100)

	opps, err := Detect("BTC", a, b, 0.5)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, domain.Exchange("nobitex"), opps[0].BuyExchange)
	assert.Equal(t, domain.Exchange("wallex"), opps[1].BuyExchange)
}

func TestDetectNeverPairsSameExchange(t *testing.T) {
	a := quote("nobitex", 110, 100)
	b := quote("nobitex", 110, 100)

	opps, err := Detect("BTC", a, b, 0.5)
	assert.Empty(t, opps)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
}

func TestDetectSkipsNonPositiveBuyPrice(t *testing.T) {
	a := quote("nobitex", 200, 0)
	b := quote("wallex", 150, 101)

	opps, err := Detect("BTC", a, b, 0.5)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
	require.Len(t, opps, 1, "the valid direction must still be evaluated")
	assert.Equal(t, domain.Exchange("wallex"), opps[0].BuyExchange)
	for _, opp := range opps {
		assert.NotEqual(t, opp.BuyExchange, opp.SellExchange)
	}
}

func TestDetectorUsesConfiguredThreshold(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := quote("nobitex", 100, 101)
	b := quote("wallex", 106, 107)

	assert.Len(t, NewDetector(0.5, logger).Detect("BTC", a, b), 1)
	assert.Empty(t, NewDetector(10, logger).Detect("BTC", a, b))
	assert.Equal(t, DefaultThresholdPercent, NewDetector(-1, logger).Threshold())
}

func TestBestPercentDiff(t *testing.T) {
	a := quote("nobitex", 100, 101)
	b := quote("wallex", 106, 107)

	best, ok := BestPercentDiff(a, b)
	require.True(t, ok)
	assert.InDelta(t, 4.9505, best, 1e-4)

	_, ok = BestPercentDiff(quote("nobitex", 1, 0), quote("wallex", 1, 0))
	assert.False(t, ok)
}
