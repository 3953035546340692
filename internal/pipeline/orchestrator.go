// Package pipeline runs the recurring scan: the Orchestrator fetches quotes
// for every configured pair and runs the detector, the Scheduler drives
// cycles and hands their results to the persistence gate and fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadbot/internal/arbitrage"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

const (
	// DefaultFetchTimeout bounds a single quote fetch.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultMaxWorkers bounds how many pairs are scanned at once.
	DefaultMaxWorkers = 8
)

// OrchestratorConfig tunes a poll cycle.
type OrchestratorConfig struct {
	FetchTimeout time.Duration
	MaxWorkers   int
}

// Orchestrator scans pairs on two quote sources.
type Orchestrator struct {
	a, b     domain.QuoteSource
	detector *arbitrage.Detector
	quotes   domain.QuoteCache
	cfg      OrchestratorConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator comparing a against b. quotes and
// m may be nil.
func NewOrchestrator(
	a, b domain.QuoteSource,
	detector *arbitrage.Detector,
	cfg OrchestratorConfig,
	quotes domain.QuoteCache,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	return &Orchestrator{
		a:        a,
		b:        b,
		detector: detector,
		quotes:   quotes,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// RunCycle scans every pair and returns the detected opportunities grouped
// in input pair order. A pair whose fetch fails is logged and skipped
// without affecting the others, so the result may be partial or empty.
func (o *Orchestrator) RunCycle(ctx context.Context, pairs []string) []domain.Opportunity {
	if len(pairs) == 0 {
		return nil
	}

	results := make([][]domain.Opportunity, len(pairs))
	var g errgroup.Group
	g.SetLimit(min(len(pairs), o.cfg.MaxWorkers))
	for i, pair := range pairs {
		g.Go(func() error {
			results[i] = o.scanPair(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Opportunity
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (o *Orchestrator) scanPair(ctx context.Context, pair string) []domain.Opportunity {
	var (
		qa, qb domain.Quote
		ea, eb error
		g      errgroup.Group
	)
	g.Go(func() error {
		qa, ea = o.fetch(ctx, o.a, pair)
		return nil
	})
	g.Go(func() error {
		qb, eb = o.fetch(ctx, o.b, pair)
		return nil
	})
	_ = g.Wait()

	if err := errors.Join(ea, eb); err != nil {
		o.logger.WarnContext(ctx, "orchestrator: pair skipped",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
		return nil
	}

	o.cacheQuote(ctx, qa)
	o.cacheQuote(ctx, qb)

	if best, ok := arbitrage.BestPercentDiff(qa, qb); ok {
		o.metrics.SetPriceDiff(pair, best)
	}
	opps := o.detector.Detect(pair, qa, qb)
	o.metrics.AddDetected(len(opps))
	return opps
}

// fetch runs one source fetch under the fetch timeout. It returns as soon
// as the timeout fires even if the source ignores its context.
func (o *Orchestrator) fetch(ctx context.Context, src domain.QuoteSource, pair string) (domain.Quote, error) {
	fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		q   domain.Quote
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		q, err := src.Fetch(fctx, pair)
		done <- result{q, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-fctx.Done():
		res.err = fctx.Err()
	}

	exchange := src.Exchange()
	if res.err != nil && !errors.Is(res.err, domain.ErrFetchFailed) && !errors.Is(res.err, domain.ErrMalformedQuote) {
		res.err = fmt.Errorf("%w: %s %s: %v", domain.ErrFetchFailed, exchange, pair, res.err)
	}
	o.metrics.ObserveFetch(string(exchange), time.Since(start), res.err)
	return res.q, res.err
}

func (o *Orchestrator) cacheQuote(ctx context.Context, q domain.Quote) {
	if o.quotes == nil {
		return
	}
	if err := o.quotes.SetQuote(ctx, q); err != nil {
		o.logger.DebugContext(ctx, "orchestrator: cache quote failed",
			slog.String("exchange", string(q.Exchange)),
			slog.String("pair", q.Pair),
			slog.String("error", err.Error()),
		)
	}
}

// Exchanges returns the two compared exchanges.
func (o *Orchestrator) Exchanges() [2]domain.Exchange {
	return [2]domain.Exchange{o.a.Exchange(), o.b.Exchange()}
}
