package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Enqueuer creates a scheduled incremental job for a source.
type Enqueuer interface {
	SubmitScheduled(ctx context.Context, sourceID string) error
}

// Entry is one recurring source.
type Entry struct {
	SourceID string
	Spec     string
	Schedule cron.Schedule
}

// Scheduler evaluates recurrences on a fixed tick and enqueues one job per
// scheduled instant. Instants missed while stopped are skipped.
type Scheduler struct {
	enqueuer Enqueuer
	entries  []Entry
	tick     time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastTick time.Time
	fired    map[string]time.Time // source id -> last instant fired
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(enqueuer Enqueuer, entries []Entry, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		enqueuer: enqueuer,
		entries:  entries,
		tick:     tick,
		logger:   logger,
		now:      time.Now,
		fired:    make(map[string]time.Time),
	}
}

// Start launches the tick loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastTick = s.now()

	s.logger.Info("scheduler started", "tick", s.tick, "entries", len(s.entries))
	go s.loop(loopCtx, s.done)
}

// Stop halts the loop and returns once it has exited. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick fires every recurrence with an instant in (previous tick, now] and
// returns the sources it enqueued. The window never reaches back further
// than two ticks.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	from := now.Add(-2 * s.tick)
	if s.lastTick.After(from) {
		from = s.lastTick
	}
	if now.After(s.lastTick) {
		s.lastTick = now
	}

	var due []string
	for _, e := range s.entries {
		instant, ok := latestIn(e.Schedule, from, now)
		if !ok {
			continue
		}
		if last, seen := s.fired[e.SourceID]; seen && !instant.After(last) {
			continue
		}
		s.fired[e.SourceID] = instant
		due = append(due, e.SourceID)
		s.logger.Debug("recurrence due", "source", e.SourceID, "spec", e.Spec, "instant", instant)
	}
	s.mu.Unlock()

	var fired []string
	for _, id := range due {
		if err := s.enqueuer.SubmitScheduled(ctx, id); err != nil {
			s.logger.Error("failed to enqueue scheduled job", "source", id, "error", err)
			continue
		}
		fired = append(fired, id)
	}
	return fired
}

// NextRuns reports the next instant of every entry after now.
func (s *Scheduler) NextRuns(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for _, e := range s.entries {
		out[e.SourceID] = e.Schedule.Next(now)
	}
	return out
}

// latestIn returns the last scheduled instant t with from < t <= to.
func latestIn(sched cron.Schedule, from, to time.Time) (time.Time, bool) {
	var found time.Time
	ok := false
	for t := sched.Next(from); !t.IsZero() && !t.After(to); t = sched.Next(t) {
		found, ok = t, true
	}
	return found, ok
}
