package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func opp(t *testing.T, pair string, buy, sell float64) domain.Opportunity {
	t.Helper()
	o, err := domain.NewOpportunity(pair, "nobitex", "wallex", buy, sell,
		time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return o
}

func TestCommitNewIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOpportunityStore()
	svc := NewOpportunityService(store, metrics.New(), testLogger())

	batch := []domain.Opportunity{opp(t, "BTC", 100, 106), opp(t, "ETH", 10, 11)}

	first := svc.CommitNew(ctx, batch)
	assert.Equal(t, batch, first)

	second := svc.CommitNew(ctx, batch)
	assert.Empty(t, second)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCommitNewIgnoresDetectionTime(t *testing.T) {
	ctx := context.Background()
	svc := NewOpportunityService(memory.NewOpportunityStore(), nil, testLogger())

	a := opp(t, "BTC", 100, 106)
	b := a
	b.DetectedAt = a.DetectedAt.Add(time.Minute)

	assert.Len(t, svc.CommitNew(ctx, []domain.Opportunity{a}), 1)
	assert.Empty(t, svc.CommitNew(ctx, []domain.Opportunity{b}))
}

func TestCommitNewDuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	svc := NewOpportunityService(memory.NewOpportunityStore(), nil, testLogger())

	a := opp(t, "BTC", 100, 106)
	got := svc.CommitNew(ctx, []domain.Opportunity{a, a})
	assert.Len(t, got, 1)
}

func TestCommitNewConcurrentWritersInsertOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewOpportunityStore()
	// Two services sharing one store stand in for two processes.
	svcA := NewOpportunityService(store, nil, testLogger())
	svcB := NewOpportunityService(store, nil, testLogger())
	batch := []domain.Opportunity{opp(t, "BTC", 100, 106)}

	var (
		wg      sync.WaitGroup
		results [2][]domain.Opportunity
	)
	for i, svc := range []*OpportunityService{svcA, svcB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = svc.CommitNew(ctx, batch)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, len(results[0])+len(results[1]))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// racingStore reports every record as absent but rejects inserts as if a
// concurrent writer won the race.
type racingStore struct {
	*memory.OpportunityStore
}

func (racingStore) Exists(context.Context, domain.OpportunityRecord) (bool, error) {
	return false, nil
}

func (racingStore) Insert(_ context.Context, rec domain.OpportunityRecord) (domain.OpportunityRecord, error) {
	return domain.OpportunityRecord{}, errors.Join(errors.New("unique violation"), domain.ErrAlreadyExists)
}

func TestCommitNewTreatsLostRaceAsDuplicate(t *testing.T) {
	svc := NewOpportunityService(racingStore{memory.NewOpportunityStore()}, nil, testLogger())
	got := svc.CommitNew(context.Background(), []domain.Opportunity{opp(t, "BTC", 100, 106)})
	assert.Empty(t, got)
}

// flakyStore fails inserts for one pair.
type flakyStore struct {
	*memory.OpportunityStore
	failPair string
}

func (f flakyStore) Insert(ctx context.Context, rec domain.OpportunityRecord) (domain.OpportunityRecord, error) {
	if rec.Pair == f.failPair {
		return domain.OpportunityRecord{}, domain.ErrStorage
	}
	return f.OpportunityStore.Insert(ctx, rec)
}

func TestCommitNewDropsOnlyFailingCandidate(t *testing.T) {
	ctx := context.Background()
	svc := NewOpportunityService(flakyStore{memory.NewOpportunityStore(), "ETH"}, nil, testLogger())

	batch := []domain.Opportunity{opp(t, "BTC", 100, 106), opp(t, "ETH", 10, 11), opp(t, "SOL", 5, 6)}
	got := svc.CommitNew(ctx, batch)

	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Pair)
	assert.Equal(t, "SOL", got[1].Pair)

	again := svc.CommitNew(ctx, batch[1:2])
	assert.Empty(t, again, "a storage failure never reports the candidate as new")
}

func TestListRecentClampsLimit(t *testing.T) {
	ctx := context.Background()
	svc := NewOpportunityService(memory.NewOpportunityStore(), nil, testLogger())
	svc.CommitNew(ctx, []domain.Opportunity{opp(t, "BTC", 100, 106), opp(t, "ETH", 10, 11)})

	recs, err := svc.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = svc.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
