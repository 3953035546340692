package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

const rateLimitPoll = 50 * time.Millisecond

// RateLimitedNotifier throttles a Notifier through a shared RateLimiter so
// several instances together stay under the bot API's send limit.
type RateLimitedNotifier struct {
	next    domain.Notifier
	limiter domain.RateLimiter
	key     string
	limit   int
	window  time.Duration
}

// NewRateLimitedNotifier allows at most limit sends per window under key.
func NewRateLimitedNotifier(next domain.Notifier, limiter domain.RateLimiter, key string, limit int, window time.Duration) *RateLimitedNotifier {
	return &RateLimitedNotifier{next: next, limiter: limiter, key: key, limit: limit, window: window}
}

// Send waits for a slot, then delivers. A limiter error does not block
// delivery.
func (r *RateLimitedNotifier) Send(ctx context.Context, subscriberID, message string) error {
	for {
		ok, err := r.limiter.Allow(ctx, r.key, r.limit, r.window)
		if err != nil || ok {
			break
		}
		timer := time.NewTimer(rateLimitPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: rate limit wait: %v", domain.ErrDelivery, ctx.Err())
		case <-timer.C:
		}
	}
	return r.next.Send(ctx, subscriberID, message)
}

var _ domain.Notifier = (*RateLimitedNotifier)(nil)
