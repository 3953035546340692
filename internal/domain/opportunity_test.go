package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpportunityDerivesDiffs(t *testing.T) {
	at := time.Now()
	opp, err := NewOpportunity("BTC", "nobitex", "wallex", 101, 106, at)
	require.NoError(t, err)

	assert.Equal(t, 5.0, opp.AbsoluteDiff)
	assert.InDelta(t, 4.950495, opp.PercentDiff, 1e-6)
	assert.Equal(t, "Buy on nobitex → Sell on wallex", opp.Direction())
}

func TestNewOpportunityRejectsInvalidLegs(t *testing.T) {
	_, err := NewOpportunity("BTC", "nobitex", "nobitex", 100, 110, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuote)

	_, err = NewOpportunity("BTC", "nobitex", "wallex", 0, 110, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuote)

	_, err = NewOpportunity("BTC", "nobitex", "wallex", 110, 110, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuote)
}

func TestRecordRoundsPercentDiff(t *testing.T) {
	opp, err := NewOpportunity("BTC", "nobitex", "wallex", 101, 106, time.Now())
	require.NoError(t, err)

	rec := opp.Record()
	assert.Equal(t, 4.95, rec.PercentDiff)
	assert.Equal(t, 101.0, rec.BuyPrice)
	assert.Equal(t, 106.0, rec.SellPrice)
	assert.Equal(t, 5.0, rec.AbsoluteDiff)
}

func TestDedupKeyIgnoresDetectionTime(t *testing.T) {
	first, err := NewOpportunity("BTC", "nobitex", "wallex", 101, 106, time.Now())
	require.NoError(t, err)
	second, err := NewOpportunity("BTC", "nobitex", "wallex", 101, 106, time.Now().Add(time.Minute))
	require.NoError(t, err)
	reversed, err := NewOpportunity("BTC", "wallex", "nobitex", 101, 106, time.Now())
	require.NoError(t, err)

	assert.Equal(t, first.Record().DedupKey(), second.Record().DedupKey())
	assert.NotEqual(t, first.Record().DedupKey(), reversed.Record().DedupKey())
}
