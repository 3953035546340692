// Package memory implements domain stores in process memory. It backs the
// "memory" storage driver and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore with a map keyed by
// the record's dedup key, enforcing the same uniqueness as the SQL stores.
type OpportunityStore struct {
	mu      sync.Mutex
	nextID  int64
	byKey   map[string]int
	records []domain.OpportunityRecord
}

// NewOpportunityStore returns an empty store.
func NewOpportunityStore() *OpportunityStore {
	return &OpportunityStore{byKey: make(map[string]int)}
}

// Exists reports whether a record with the same normalized fields exists.
func (s *OpportunityStore) Exists(ctx context.Context, rec domain.OpportunityRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: memory: exists: %v", domain.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[rec.DedupKey()]
	return ok, nil
}

// Insert stores rec and assigns it an id.
func (s *OpportunityStore) Insert(ctx context.Context, rec domain.OpportunityRecord) (domain.OpportunityRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.OpportunityRecord{}, fmt.Errorf("%w: memory: insert: %v", domain.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.DedupKey()
	if _, ok := s.byKey[key]; ok {
		return domain.OpportunityRecord{}, fmt.Errorf("memory: insert %s: %w", rec.Pair, domain.ErrAlreadyExists)
	}
	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = time.Now().UTC()
	s.byKey[key] = len(s.records)
	s.records = append(s.records, rec)
	return rec, nil
}

// ListRecent returns up to limit records, newest detection first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	s.mu.Lock()
	out := make([]domain.OpportunityRecord, len(s.records))
	copy(out, s.records)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *OpportunityStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
