// Package app provides the top-level application lifecycle for spreadbot. It
// wires together the quote sources, opportunity store, subscriber registry,
// delivery channels and HTTP surface, then runs the scheduler until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spreadbot/internal/arbitrage"
	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/notify"
	"github.com/alanyoungcy/spreadbot/internal/pipeline"
	"github.com/alanyoungcy/spreadbot/internal/server"
	"github.com/alanyoungcy/spreadbot/internal/server/handler"
	"github.com/alanyoungcy/spreadbot/internal/service"
)

// cycleLockKey names the distributed lock around one poll cycle.
const cycleLockKey = "cycle"

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the scheduler, the Telegram poller, the
// websocket hub and the HTTP server, and blocks until the context is
// cancelled or one of them fails. A wiring failure is returned before
// anything starts.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.serve(ctx, deps)
}

func (a *App) serve(ctx context.Context, deps *Dependencies) error {
	pairs := normalizePairs(a.cfg.Scan.Pairs)

	detector := arbitrage.NewDetector(a.cfg.Scan.ThresholdPercent, a.logger)
	orch := pipeline.NewOrchestrator(deps.SourceA, deps.SourceB, detector, pipeline.OrchestratorConfig{
		FetchTimeout: a.cfg.Scan.FetchTimeout.Duration,
		MaxWorkers:   a.cfg.Scan.MaxWorkers,
	}, deps.Quotes, deps.Metrics, a.logger)

	oppSvc := service.NewOpportunityService(deps.Store, deps.Metrics, a.logger)
	fanout := notify.NewFanOut(deps.Registry, notify.FanOutConfig{
		Notifier:      deps.Notifier,
		Broadcasters:  deps.Broadcasters,
		QuoteCurrency: a.cfg.Notify.QuoteCurrency,
		Metrics:       deps.Metrics,
	}, a.logger)

	var locks domain.LockManager
	lockKey := ""
	if a.cfg.Scan.CycleLock && deps.Locks != nil {
		locks, lockKey = deps.Locks, cycleLockKey
	}
	sched := pipeline.NewScheduler(orch, oppSvc, fanout, deps.Registry, locks, pipeline.SchedulerConfig{
		Pairs:                  pairs,
		Interval:               a.cfg.Scan.Interval.Duration,
		SkipWithoutSubscribers: a.cfg.Scan.SkipWithoutSubscribers,
		LockKey:                lockKey,
		CommitTimeout:          a.cfg.Scan.CommitTimeout.Duration,
	}, deps.Metrics, a.logger)

	a.logger.InfoContext(ctx, "scanner configured",
		slog.Any("pairs", pairs),
		slog.Float64("threshold_percent", detector.Threshold()),
		slog.Duration("interval", a.cfg.Scan.Interval.Duration),
		slog.Int("broadcasters", len(deps.Broadcasters)),
		slog.Bool("telegram", deps.Telegram != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return deps.Hub.Run(ctx) })
	if deps.Bus != nil {
		g.Go(func() error { return deps.Hub.Bridge(ctx, deps.Bus, notify.OpportunityChannel) })
	}
	if deps.Telegram != nil {
		g.Go(func() error { return deps.Telegram.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
		}, server.Handlers{
			Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
			Status: handler.NewStatusHandler(sched, deps.Registry, oppSvc, deps.Quotes, handler.StatusConfig{
				Pairs:            pairs,
				Exchanges:        orch.Exchanges(),
				ThresholdPercent: detector.Threshold(),
			}, a.logger),
			Opportunities: handler.NewOpportunityHandler(oppSvc, a.logger),
			Metrics:       deps.Metrics.Handler(),
		}, deps.Hub, deps.Limiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// normalizePairs upper-cases and trims pair symbols, dropping duplicates.
func normalizePairs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, p := range in {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
