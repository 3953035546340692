package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// SubscriberRegistry implements domain.SubscriberRegistry as a Redis set so
// several bot instances share one subscriber list.
type SubscriberRegistry struct {
	rdb *redis.Client
	key string
}

// NewSubscriberRegistry creates a registry stored at "<prefix>:subscribers".
func NewSubscriberRegistry(c *Client) *SubscriberRegistry {
	return &SubscriberRegistry{rdb: c.Underlying(), key: c.Key("subscribers")}
}

// Add registers id. added is false when id was already present.
func (r *SubscriberRegistry) Add(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.SAdd(ctx, r.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("redis: add subscriber %s: %w", id, err)
	}
	return n == 1, nil
}

// Remove unregisters id. Removing an unknown id is not an error.
func (r *SubscriberRegistry) Remove(ctx context.Context, id string) error {
	if err := r.rdb.SRem(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("redis: remove subscriber %s: %w", id, err)
	}
	return nil
}

// Subscribers returns a sorted snapshot of the set.
func (r *SubscriberRegistry) Subscribers(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list subscribers: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of registered subscribers.
func (r *SubscriberRegistry) Count(ctx context.Context) (int, error) {
	n, err := r.rdb.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count subscribers: %w", err)
	}
	return int(n), nil
}

// Compile-time interface check.
var _ domain.SubscriberRegistry = (*SubscriberRegistry)(nil)
