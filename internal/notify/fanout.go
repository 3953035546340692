// Package notify delivers newly persisted opportunities to every registered
// subscriber and to broadcast channels (Discord webhook, signal bus, Kafka,
// S3 archive). Delivery failures are logged and counted, never returned.
package notify

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// Report summarizes one Notify call.
type Report struct {
	Opportunities     int `json:"opportunities"`
	Subscribers       int `json:"subscribers"`
	Delivered         int `json:"delivered"`
	Failed            int `json:"failed"`
	BroadcastFailures int `json:"broadcast_failures"`
}

// FanOut sends every opportunity to every subscriber in a registry
// snapshot, then hands the batch to each Broadcaster.
type FanOut struct {
	registry      domain.SubscriberRegistry
	notifier      domain.Notifier
	broadcasters  []Broadcaster
	quoteCurrency string
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// FanOutConfig holds the optional parts of a FanOut.
type FanOutConfig struct {
	// Notifier delivers per-subscriber messages. Nil disables them.
	Notifier      domain.Notifier
	Broadcasters  []Broadcaster
	QuoteCurrency string
	Metrics       *metrics.Metrics
}

// NewFanOut creates a FanOut reading subscribers from registry.
func NewFanOut(registry domain.SubscriberRegistry, cfg FanOutConfig, logger *slog.Logger) *FanOut {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "TMN"
	}
	return &FanOut{
		registry:      registry,
		notifier:      cfg.Notifier,
		broadcasters:  cfg.Broadcasters,
		quoteCurrency: cfg.QuoteCurrency,
		metrics:       cfg.Metrics,
		logger:        logger.With(slog.String("component", "fanout")),
	}
}

// Notify delivers opps. It takes one subscriber snapshot for the whole
// batch, so subscribers added during delivery get the next batch. A failed
// delivery never stops the remaining subscribers or opportunities.
func (f *FanOut) Notify(ctx context.Context, opps []domain.Opportunity) Report {
	rep := Report{Opportunities: len(opps)}
	if len(opps) == 0 {
		return rep
	}

	if f.notifier != nil {
		subs, err := f.registry.Subscribers(ctx)
		if err != nil {
			f.logger.ErrorContext(ctx, "fanout: subscriber snapshot failed",
				slog.String("error", err.Error()),
			)
			f.metrics.IncDeliveryFailure("registry")
		}
		rep.Subscribers = len(subs)

		for _, opp := range opps {
			msg := FormatMessage(opp, f.quoteCurrency)
			for _, sub := range subs {
				if err := f.notifier.Send(ctx, sub, msg); err != nil {
					rep.Failed++
					f.metrics.IncDeliveryFailure("subscriber")
					f.logger.WarnContext(ctx, "fanout: delivery failed",
						slog.String("subscriber", sub),
						slog.String("pair", opp.Pair),
						slog.String("direction", opp.Direction()),
						slog.String("error", err.Error()),
					)
					continue
				}
				rep.Delivered++
			}
		}
	}

	for _, b := range f.broadcasters {
		if err := b.Broadcast(ctx, opps); err != nil {
			rep.BroadcastFailures++
			f.metrics.IncDeliveryFailure(b.Name())
			f.logger.WarnContext(ctx, "fanout: broadcast failed",
				slog.String("channel", b.Name()),
				slog.Int("opportunities", len(opps)),
				slog.String("error", err.Error()),
			)
		}
	}

	f.logger.InfoContext(ctx, "fanout: batch delivered",
		slog.Int("opportunities", rep.Opportunities),
		slog.Int("subscribers", rep.Subscribers),
		slog.Int("delivered", rep.Delivered),
		slog.Int("failed", rep.Failed),
	)
	return rep
}
