package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/notify"
)

// State is the lifecycle state of a Scheduler.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Scanner produces the opportunities of one poll cycle.
type Scanner interface {
	RunCycle(ctx context.Context, pairs []string) []domain.Opportunity
}

// Committer persists candidates and returns the new ones.
type Committer interface {
	CommitNew(ctx context.Context, opps []domain.Opportunity) []domain.Opportunity
}

// Dispatcher delivers new opportunities.
type Dispatcher interface {
	Notify(ctx context.Context, opps []domain.Opportunity) notify.Report
}

// Skip reasons reported in CycleSummary.SkipReason.
const (
	SkipNoSubscribers = "no_subscribers"
	SkipLockHeld      = "lock_held"
)

// CycleSummary describes one finished or skipped cycle.
type CycleSummary struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Skipped    bool          `json:"skipped"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Detected   int           `json:"detected"`
	Inserted   int           `json:"inserted"`
	Delivery   notify.Report `json:"delivery"`
}

// SchedulerConfig tunes a Scheduler.
type SchedulerConfig struct {
	Pairs    []string
	Interval time.Duration
	// SkipWithoutSubscribers skips the whole cycle while nobody is
	// registered.
	SkipWithoutSubscribers bool
	// LockKey names the distributed cycle lock; empty disables it.
	LockKey string
	// LockTTL bounds how long a crashed holder blocks other instances.
	LockTTL time.Duration
	// CommitTimeout bounds the persistence and delivery stage. It runs on a
	// context detached from shutdown so a started commit always finishes.
	CommitTimeout time.Duration
}

// Scheduler runs poll cycles one after another: a cycle starts immediately,
// and the next one starts Interval after the previous one finished.
type Scheduler struct {
	scanner    Scanner
	committer  Committer
	dispatcher Dispatcher
	registry   domain.SubscriberRegistry
	locks      domain.LockManager
	cfg        SchedulerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger

	state   atomic.Int32
	cycleMu sync.Mutex

	mu   sync.RWMutex
	last *CycleSummary
}

// NewScheduler creates a Scheduler. locks and m may be nil.
func NewScheduler(
	scanner Scanner,
	committer Committer,
	dispatcher Dispatcher,
	registry domain.SubscriberRegistry,
	locks domain.LockManager,
	cfg SchedulerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = time.Minute
	}
	return &Scheduler{
		scanner:    scanner,
		committer:  committer,
		dispatcher: dispatcher,
		registry:   registry,
		locks:      locks,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// LastCycle returns the summary of the most recent cycle.
func (s *Scheduler) LastCycle() (CycleSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return CycleSummary{}, false
	}
	return *s.last, true
}

// Run executes cycles until ctx is cancelled and returns ctx.Err() once the
// in-flight cycle has finished. A Scheduler runs at most once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("scheduler: run: state is %s", s.State())
	}
	defer s.state.Store(int32(StateCancelled))

	s.logger.InfoContext(ctx, "scheduler: started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Any("pairs", s.cfg.Pairs),
	)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler: stopped")
			return err
		}

		s.RunOnce(ctx)

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce runs a single cycle: scan, commit, notify. Concurrent calls are
// serialized so cycles never overlap.
func (s *Scheduler) RunOnce(ctx context.Context) CycleSummary {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	sum := CycleSummary{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := s.logger.With(slog.String("cycle_id", sum.ID))

	if reason, skip := s.shouldSkip(ctx, logger); skip {
		sum.Skipped, sum.SkipReason = true, reason
		return s.finish(logger, sum, "skipped")
	}

	if s.locks != nil && s.cfg.LockKey != "" {
		unlock, err := s.locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			sum.Skipped, sum.SkipReason = true, SkipLockHeld
			return s.finish(logger, sum, "skipped")
		case err != nil:
			// The store's unique index still prevents duplicate records.
			logger.WarnContext(ctx, "scheduler: cycle lock unavailable, running unlocked",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	opps := s.scanner.RunCycle(ctx, s.cfg.Pairs)
	sum.Detected = len(opps)

	if len(opps) > 0 {
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
		fresh := s.committer.CommitNew(commitCtx, opps)
		sum.Inserted = len(fresh)
		sum.Delivery = s.dispatcher.Notify(commitCtx, fresh)
		cancel()
	}
	return s.finish(logger, sum, "completed")
}

func (s *Scheduler) shouldSkip(ctx context.Context, logger *slog.Logger) (string, bool) {
	if s.registry == nil {
		return "", false
	}
	n, err := s.registry.Count(ctx)
	if err != nil {
		logger.WarnContext(ctx, "scheduler: subscriber count failed",
			slog.String("error", err.Error()),
		)
		return "", false
	}
	s.metrics.SetSubscribers(n)
	if n == 0 && s.cfg.SkipWithoutSubscribers {
		return SkipNoSubscribers, true
	}
	return "", false
}

func (s *Scheduler) finish(logger *slog.Logger, sum CycleSummary, outcome string) CycleSummary {
	sum.FinishedAt = time.Now().UTC()
	elapsed := sum.FinishedAt.Sub(sum.StartedAt)
	s.metrics.ObserveCycle(outcome, elapsed)

	s.mu.Lock()
	s.last = &sum
	s.mu.Unlock()

	if sum.Skipped {
		logger.Debug("scheduler: cycle skipped", slog.String("reason", sum.SkipReason))
		return sum
	}
	logger.Info("scheduler: cycle completed",
		slog.Int("detected", sum.Detected),
		slog.Int("inserted", sum.Inserted),
		slog.Int("delivered", sum.Delivery.Delivered),
		slog.Duration("elapsed", elapsed),
	)
	return sum
}
