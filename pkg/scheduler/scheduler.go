// Package scheduler runs a lightweight, wall-clock-aligned periodic
// task scheduler in-process alongside the HTTP server.
// Tasks are registered with a period and a reference anchor so ticks
// fall on predictable boundaries independent of process start time;
// a task that falls behind skips its missed cycle rather than piling
// up catch-up runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/rs/zerolog"
)

// TaskFunc is one scheduled unit of work. It receives a context
// cancelled at shutdown and should return promptly when it is.
type TaskFunc func(ctx context.Context) error

// task is the scheduler's internal bookkeeping for one registered
// TaskFunc: its period, its next aligned run time, and a per-task
// mutex so a slow run never overlaps itself or blocks other tasks.
type task struct {
	name   string
	period time.Duration
	anchor time.Time
	fn     TaskFunc

	mu      sync.Mutex
	running sync.Mutex
	lastRun time.Time
	nextRun time.Time
}

// Scheduler ticks once a minute and dispatches any task whose
// computed next_run has arrived, each on its own goroutine so one
// slow task does not delay the others.
type Scheduler struct {
	logger zerolog.Logger

	mu     sync.Mutex
	tasks  []*task
	stopCh chan struct{}
	wg     sync.WaitGroup

	tickInterval time.Duration
}

// New creates a scheduler. Tasks must be added with Register before
// Start.
func New() *Scheduler {
	return &Scheduler{
		logger:       log.WithComponent("scheduler"),
		stopCh:       make(chan struct{}),
		tickInterval: time.Minute,
	}
}

// Register adds a task that runs every period, aligned to anchor
// (typically midnight): next_run is computed as the earliest instant
// at or after now that is anchor plus a whole multiple of period.
// Register must be called before Start.
func (s *Scheduler) Register(name string, period time.Duration, anchor time.Time, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		period:  period,
		anchor:  anchor,
		fn:      fn,
		nextRun: nextAligned(anchor, period, time.Now()),
	})
}

// nextAligned returns the earliest instant >= now that equals anchor
// plus a non-negative whole multiple of period.
func nextAligned(anchor time.Time, period time.Duration, now time.Time) time.Time {
	if period <= 0 {
		return now
	}
	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		return anchor
	}
	periods := elapsed / period
	candidate := anchor.Add(periods * period)
	if candidate.Before(now) {
		candidate = candidate.Add(period)
	}
	return candidate
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the scheduler loop to exit, cancels the context of
// every task still running, and waits for the loop and those tasks
// to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.tick(now)
		case <-s.stopCh:
			return
		}
	}
}

// tick evaluates every registered task against now:
// skip if already run this minute, run immediately if never run,
// skip (and advance) a missed cycle without running, otherwise
// dispatch and advance.
func (s *Scheduler) tick(now time.Time) {
	truncated := now.Truncate(time.Minute)

	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		s.evaluate(t, truncated)
	}
}

func (s *Scheduler) evaluate(t *task, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !t.lastRun.IsZero() && t.lastRun.Equal(now):
		// already ran this minute
		return
	case t.lastRun.IsZero():
		s.dispatch(t, now)
	case !t.lastRun.Before(t.nextRun):
		// fell behind a prior cycle; skip the missed one without running
		for !t.nextRun.After(now) {
			t.nextRun = t.nextRun.Add(t.period)
		}
		metrics.TasksSkippedTotal.WithLabelValues(t.name, "caught_up").Inc()
		s.logger.Warn().Str("task", t.name).Time("next_run", t.nextRun).Msg("scheduler fell behind, skipping missed cycle")
	case !now.Before(t.nextRun):
		s.dispatch(t, now)
	}
}

// dispatch runs t.fn on its own goroutine, guarded by t.running so an
// overrunning previous invocation causes this cycle to be skipped
// (logged) rather than overlapping.
func (s *Scheduler) dispatch(t *task, now time.Time) {
	t.lastRun = now
	t.nextRun = t.nextRun.Add(t.period)
	if t.nextRun.Before(now) {
		t.nextRun = now.Add(t.period)
	}

	if !t.running.TryLock() {
		metrics.TasksSkippedTotal.WithLabelValues(t.name, "still_running").Inc()
		s.logger.Warn().Str("task", t.name).Msg("previous run still in flight, skipping this cycle")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Unlock()

		timer := metrics.NewTimer()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := t.fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("task", t.name).Msg("scheduled task failed")
		}
		timer.ObserveDurationVec(metrics.SchedulingLatency, t.name)
	}()
}
