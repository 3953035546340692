package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func record(t *testing.T, buy, sell float64, at time.Time) domain.OpportunityRecord {
	t.Helper()
	opp, err := domain.NewOpportunity("BTC", "nobitex", "wallex", buy, sell, at)
	require.NoError(t, err)
	return opp.Record()
}

func TestInsertRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewOpportunityStore()
	rec := record(t, 100, 110, time.Now())

	exists, err := s.Exists(ctx, rec)
	require.NoError(t, err)
	assert.False(t, exists)

	stored, err := s.Insert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ID)

	_, err = s.Insert(ctx, rec)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	exists, err = s.Exists(ctx, rec)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestListRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewOpportunityStore()
	base := time.Now()
	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, record(t, 100, 110+float64(i), base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	recs, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 112.0, recs[0].SellPrice)
	assert.Equal(t, 111.0, recs[1].SellPrice)
}
