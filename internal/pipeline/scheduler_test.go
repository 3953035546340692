package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/notify"
)

type stubScanner struct {
	calls atomic.Int32
	opps  []domain.Opportunity
	// gate, when set, blocks RunCycle until closed.
	gate chan struct{}
}

func (s *stubScanner) RunCycle(ctx context.Context, _ []string) []domain.Opportunity {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.opps
}

type stubCommitter struct {
	mu      sync.Mutex
	batches int
	ctxErr  error
}

func (c *stubCommitter) CommitNew(ctx context.Context, opps []domain.Opportunity) []domain.Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	c.ctxErr = ctx.Err()
	return opps
}

type stubDispatcher struct {
	mu       sync.Mutex
	notified int
}

func (d *stubDispatcher) Notify(_ context.Context, opps []domain.Opportunity) notify.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified += len(opps)
	return notify.Report{Opportunities: len(opps), Delivered: len(opps)}
}

type stubLocks struct {
	err error
}

func (l stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

func stubOpportunity(t *testing.T) domain.Opportunity {
	t.Helper()
	opp, err := domain.NewOpportunity("BTC", "nobitex", "wallex", 100, 106, time.Now())
	require.NoError(t, err)
	return opp
}

func newTestScheduler(scanner Scanner, c Committer, d Dispatcher, reg domain.SubscriberRegistry, locks domain.LockManager, cfg SchedulerConfig) *Scheduler {
	return NewScheduler(scanner, c, d, reg, locks, cfg, nil, testLogger())
}

func TestSchedulerRunsImmediately(t *testing.T) {
	scanner := &stubScanner{opps: []domain.Opportunity{stubOpportunity(t)}}
	committer := &stubCommitter{}
	dispatcher := &stubDispatcher{}
	s := newTestScheduler(scanner, committer, dispatcher, notify.NewMemoryRegistry("1"), nil,
		SchedulerConfig{Pairs: []string{"BTC"}, Interval: time.Hour, SkipWithoutSubscribers: true})
	assert.Equal(t, StateIdle, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := s.LastCycle(); return ok }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, s.State())
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateCancelled, s.State())

	assert.Equal(t, int32(1), scanner.calls.Load())
	sum, _ := s.LastCycle()
	assert.Equal(t, 1, sum.Detected)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, dispatcher.notified)

	assert.Error(t, s.Run(context.Background()), "a scheduler runs once")
}

func TestSchedulerRepeatsAfterInterval(t *testing.T) {
	scanner := &stubScanner{}
	s := newTestScheduler(scanner, &stubCommitter{}, &stubDispatcher{}, nil, nil,
		SchedulerConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return scanner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerFinishesInFlightCommitOnCancel(t *testing.T) {
	scanner := &stubScanner{opps: []domain.Opportunity{stubOpportunity(t)}, gate: make(chan struct{})}
	committer := &stubCommitter{}
	s := newTestScheduler(scanner, committer, &stubDispatcher{}, nil, nil,
		SchedulerConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return scanner.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	close(scanner.gate)

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, committer.batches)
	assert.NoError(t, committer.ctxErr, "the commit stage is detached from cancellation")
}

func TestSchedulerSkipsWithoutSubscribers(t *testing.T) {
	scanner := &stubScanner{opps: []domain.Opportunity{stubOpportunity(t)}}
	committer := &stubCommitter{}
	s := newTestScheduler(scanner, committer, &stubDispatcher{}, notify.NewMemoryRegistry(), nil,
		SchedulerConfig{SkipWithoutSubscribers: true})

	sum := s.RunOnce(context.Background())
	assert.True(t, sum.Skipped)
	assert.Equal(t, SkipNoSubscribers, sum.SkipReason)
	assert.Zero(t, scanner.calls.Load())
	assert.Zero(t, committer.batches)
}

func TestSchedulerRunsWithoutSubscribersWhenAllowed(t *testing.T) {
	scanner := &stubScanner{}
	s := newTestScheduler(scanner, &stubCommitter{}, &stubDispatcher{}, notify.NewMemoryRegistry(), nil,
		SchedulerConfig{SkipWithoutSubscribers: false})

	sum := s.RunOnce(context.Background())
	assert.False(t, sum.Skipped)
	assert.Equal(t, int32(1), scanner.calls.Load())
}

func TestSchedulerCycleLock(t *testing.T) {
	tests := []struct {
		name        string
		lockErr     error
		wantSkipped bool
	}{
		{"acquired", nil, false},
		{"held elsewhere", domain.ErrLockHeld, true},
		{"backend down", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &stubScanner{}
			s := newTestScheduler(scanner, &stubCommitter{}, &stubDispatcher{}, nil, stubLocks{err: tt.lockErr},
				SchedulerConfig{LockKey: "cycle"})

			sum := s.RunOnce(context.Background())
			assert.Equal(t, tt.wantSkipped, sum.Skipped)
			if tt.wantSkipped {
				assert.Equal(t, SkipLockHeld, sum.SkipReason)
				assert.Zero(t, scanner.calls.Load())
			} else {
				assert.Equal(t, int32(1), scanner.calls.Load())
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
}
