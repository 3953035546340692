package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// MemoryRegistry is a process-local domain.SubscriberRegistry. The
// registration flow mutates it while fan-out reads snapshots.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryRegistry creates a registry seeded with ids.
func NewMemoryRegistry(ids ...string) *MemoryRegistry {
	r := &MemoryRegistry{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		r.ids[id] = struct{}{}
	}
	return r
}

// Add registers id. added is false when it was already present.
func (r *MemoryRegistry) Add(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false, nil
	}
	r.ids[id] = struct{}{}
	return true, nil
}

// Remove unregisters id.
func (r *MemoryRegistry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.ids, id)
	r.mu.Unlock()
	return nil
}

// Subscribers returns a sorted copy of the current set. Later mutations do
// not affect the returned slice.
func (r *MemoryRegistry) Subscribers(_ context.Context) ([]string, error) {
	r.mu.RLock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Count returns the number of registered subscribers.
func (r *MemoryRegistry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids), nil
}

var _ domain.SubscriberRegistry = (*MemoryRegistry)(nil)
