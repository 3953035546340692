package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/pipeline"
)

// SchedulerStatus is the read side of the scheduler.
type SchedulerStatus interface {
	State() pipeline.State
	LastCycle() (pipeline.CycleSummary, bool)
}

// OpportunityCounter counts persisted opportunities.
type OpportunityCounter interface {
	Count(ctx context.Context) (int64, error)
}

// StatusConfig describes what the scanner is configured to watch.
type StatusConfig struct {
	Pairs            []string
	Exchanges        [2]domain.Exchange
	ThresholdPercent float64
	StartedAt        time.Time
}

// StatusHandler reports scheduler state, subscribers and the latest quotes.
type StatusHandler struct {
	scheduler SchedulerStatus
	registry  domain.SubscriberRegistry
	counter   OpportunityCounter
	quotes    domain.QuoteCache
	cfg       StatusConfig
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. quotes may be nil.
func NewStatusHandler(
	scheduler SchedulerStatus,
	registry domain.SubscriberRegistry,
	counter OpportunityCounter,
	quotes domain.QuoteCache,
	cfg StatusConfig,
	logger *slog.Logger,
) *StatusHandler {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &StatusHandler{
		scheduler: scheduler,
		registry:  registry,
		counter:   counter,
		quotes:    quotes,
		cfg:       cfg,
		logger:    logger,
	}
}

type quoteView struct {
	Exchange   domain.Exchange `json:"exchange"`
	Pair       string          `json:"pair"`
	BestBid    float64         `json:"best_bid"`
	BestAsk    float64         `json:"best_ask"`
	Last       *float64        `json:"last,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

type statusResponse struct {
	State            string                 `json:"state"`
	StartedAt        time.Time              `json:"started_at"`
	UptimeSeconds    int64                  `json:"uptime_seconds"`
	Pairs            []string               `json:"pairs"`
	ThresholdPercent float64                `json:"threshold_percent"`
	Subscribers      int                    `json:"subscribers"`
	Opportunities    int64                  `json:"opportunities_total"`
	LastCycle        *pipeline.CycleSummary `json:"last_cycle,omitempty"`
	Quotes           []quoteView            `json:"quotes"`
}

// GetStatus responds with the current scanner status. Failing lookups are
// logged and reported as zero values.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{
		State:            h.scheduler.State().String(),
		StartedAt:        h.cfg.StartedAt,
		UptimeSeconds:    int64(time.Since(h.cfg.StartedAt).Seconds()),
		Pairs:            h.cfg.Pairs,
		ThresholdPercent: h.cfg.ThresholdPercent,
		Quotes:           []quoteView{},
	}
	if last, ok := h.scheduler.LastCycle(); ok {
		resp.LastCycle = &last
	}

	if n, err := h.registry.Count(ctx); err != nil {
		h.logger.WarnContext(ctx, "handler: subscriber count failed", slog.String("error", err.Error()))
	} else {
		resp.Subscribers = n
	}
	if n, err := h.counter.Count(ctx); err != nil {
		h.logger.WarnContext(ctx, "handler: opportunity count failed", slog.String("error", err.Error()))
	} else {
		resp.Opportunities = n
	}

	if h.quotes != nil {
		for _, pair := range h.cfg.Pairs {
			for _, ex := range h.cfg.Exchanges {
				q, err := h.quotes.GetQuote(ctx, ex, pair)
				if err != nil {
					continue
				}
				resp.Quotes = append(resp.Quotes, quoteView{
					Exchange:   q.Exchange,
					Pair:       q.Pair,
					BestBid:    q.BestBid,
					BestAsk:    q.BestAsk,
					Last:       q.Last,
					ObservedAt: q.ObservedAt,
				})
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
