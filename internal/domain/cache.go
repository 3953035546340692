package domain

import (
	"context"
	"time"
)

// SubscriberRegistry is the set of chat ids that receive notifications. It
// is mutated by the registration flow while the fan-out reads it, so
// Subscribers must return a stable snapshot.
type SubscriberRegistry interface {
	Add(ctx context.Context, id string) (added bool, err error)
	Remove(ctx context.Context, id string) error
	Subscribers(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// Notifier delivers one message to one subscriber.
type Notifier interface {
	Send(ctx context.Context, subscriberID, message string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between process components.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// QuoteCache holds the latest normalized quote per exchange and pair so the
// status surface can show what the last cycle saw.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, exchange Exchange, pair string) (Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
