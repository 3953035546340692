package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// OpportunityChannel is the signal bus channel new opportunities are
// published on.
const OpportunityChannel = "opportunities"

// Broadcaster receives each batch of new opportunities once, independent of
// the subscriber set (webhooks, event streams, archives).
type Broadcaster interface {
	Broadcast(ctx context.Context, opps []domain.Opportunity) error
	// Name identifies the channel in logs and metrics.
	Name() string
}

// BusBroadcaster publishes every opportunity as JSON on the signal bus so
// the websocket hub and other processes can pick it up.
type BusBroadcaster struct {
	bus     domain.SignalBus
	channel string
}

// NewBusBroadcaster creates a BusBroadcaster on OpportunityChannel.
func NewBusBroadcaster(bus domain.SignalBus) *BusBroadcaster {
	return &BusBroadcaster{bus: bus, channel: OpportunityChannel}
}

// Broadcast publishes one message per opportunity, stopping at the first
// failure.
func (b *BusBroadcaster) Broadcast(ctx context.Context, opps []domain.Opportunity) error {
	for _, opp := range opps {
		payload, err := json.Marshal(opp)
		if err != nil {
			return fmt.Errorf("bus: marshal opportunity %s: %w", opp.Pair, err)
		}
		if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
			return fmt.Errorf("%w: bus: %v", domain.ErrDelivery, err)
		}
	}
	return nil
}

// Name returns "bus".
func (b *BusBroadcaster) Name() string { return "bus" }
