// Package queue admits jobs to a bounded worker pool, running at most one
// job per source at a time and preserving submission order within a source.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"doc_syncer/internal/domain"
)

var ErrClosed = errors.New("queue closed")

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) (*domain.SyncStats, error)
}

// Recorder receives every job once it reaches a terminal state.
type Recorder interface {
	Record(ctx context.Context, job *domain.Job)
}

// Observer is notified of admissions and terminal transitions.
type Observer interface {
	JobStarted(job domain.Job)
	JobFinished(job domain.Job)
}

type Counts struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

type activeJob struct {
	job    *domain.Job
	cancel context.CancelFunc
}

type Queue struct {
	limit    int
	runner   Runner
	recorder Recorder
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	pending   []*domain.Job
	active    map[string]*activeJob
	busy      map[string]bool        // source id -> has a running job
	jobs      map[string]*domain.Job // every job not yet handed to the recorder
	recording int
	idle      chan struct{} // closed while nothing is pending, running or being recorded
	closed    bool
}

type Option func(*Queue)

func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(limit int, runner Runner, recorder Recorder, logger *slog.Logger, opts ...Option) *Queue {
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		limit:      limit,
		runner:     runner,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
		baseCtx:    ctx,
		cancelBase: cancel,
		active:     make(map[string]*activeJob),
		busy:       make(map[string]bool),
		jobs:       make(map[string]*domain.Job),
		idle:       idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues a pending job and admits whatever fits.
func (q *Queue) Submit(job *domain.Job) error {
	if job.State != domain.JobPending {
		return fmt.Errorf("%w: submit job in state %q", domain.ErrInvalidTransition, job.State)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, dup := q.jobs[job.ID]; dup {
		return fmt.Errorf("job %s already submitted", job.ID)
	}

	q.pending = append(q.pending, job)
	q.jobs[job.ID] = job
	q.logger.Debug("job submitted", "job_id", job.ID, "source", job.SourceID, "pending", len(q.pending))

	q.dispatchLocked()
	q.updateIdleLocked()
	return nil
}

// dispatchLocked starts pending jobs in FIFO order while capacity remains,
// skipping jobs whose source is already running.
func (q *Queue) dispatchLocked() {
	if q.closed {
		return
	}
	i := 0
	for i < len(q.pending) && len(q.active) < q.limit {
		job := q.pending[i]
		if q.busy[job.SourceID] {
			i++
			continue
		}
		q.pending = slices.Delete(q.pending, i, i+1)

		if err := job.Start(q.now()); err != nil {
			q.logger.Error("failed to start job", "job_id", job.ID, "error", err)
			delete(q.jobs, job.ID)
			continue
		}

		ctx, cancel := context.WithCancel(q.baseCtx)
		a := &activeJob{job: job, cancel: cancel}
		q.active[job.ID] = a
		q.busy[job.SourceID] = true

		if q.observer != nil {
			q.observer.JobStarted(job.Snapshot())
		}
		q.logger.Info("job started", "job_id", job.ID, "source", job.SourceID, "active", len(q.active))

		q.wg.Add(1)
		go q.execute(ctx, a)
	}
}

func (q *Queue) execute(ctx context.Context, a *activeJob) {
	defer q.wg.Done()
	defer a.cancel()

	stats, err := q.safeRun(ctx, a.job)

	q.mu.Lock()
	if finishErr := a.job.Finish(q.now(), stats, err); finishErr != nil {
		q.logger.Error("failed to finish job", "job_id", a.job.ID, "error", finishErr)
	}
	delete(q.active, a.job.ID)
	delete(q.busy, a.job.SourceID)
	q.recording++
	snap := a.job.Snapshot()
	q.dispatchLocked()
	q.mu.Unlock()

	q.logger.Info("job finished",
		"job_id", snap.ID,
		"source", snap.SourceID,
		"state", snap.State,
		"fetched", snap.Fetched,
		"unchanged", snap.Unchanged,
		"errors", snap.Errors,
		"duration", snap.Duration,
	)
	q.complete(a.job, snap)
}

// safeRun turns a panicking runner into a failed job.
func (q *Queue) safeRun(ctx context.Context, job *domain.Job) (stats *domain.SyncStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			stats = nil
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.runner.Run(ctx, job)
}

// complete hands a terminal job to the recorder and then forgets it.
// The caller must have incremented q.recording.
func (q *Queue) complete(job *domain.Job, snap domain.Job) {
	if q.observer != nil {
		q.observer.JobFinished(snap)
	}
	if q.recorder != nil {
		q.recorder.Record(context.Background(), job)
	}

	q.mu.Lock()
	delete(q.jobs, job.ID)
	q.recording--
	q.updateIdleLocked()
	q.mu.Unlock()
}

func (q *Queue) updateIdleLocked() {
	isIdle := len(q.pending) == 0 && len(q.active) == 0 && q.recording == 0
	select {
	case <-q.idle:
		if !isIdle {
			q.idle = make(chan struct{})
		}
	default:
		if isIdle {
			close(q.idle)
		}
	}
}

// Drain blocks until no job is pending, running or awaiting recording.
// Jobs submitted while draining are waited for as well.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}

		q.mu.Lock()
		still := len(q.pending) == 0 && len(q.active) == 0 && q.recording == 0
		q.mu.Unlock()
		if still {
			return nil
		}
	}
}

// Cancel removes a pending job, failing it, or asks a running job to stop
// before its next artifact.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()

	if a, ok := q.active[id]; ok {
		a.cancel()
		q.mu.Unlock()
		q.logger.Info("cancellation requested", "job_id", id)
		return nil
	}

	idx := slices.IndexFunc(q.pending, func(j *domain.Job) bool { return j.ID == id })
	if idx < 0 {
		_, known := q.jobs[id]
		q.mu.Unlock()
		if known {
			return fmt.Errorf("%w: job %s already finished", domain.ErrInvalidTransition, id)
		}
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	job := q.pending[idx]
	q.pending = slices.Delete(q.pending, idx, idx+1)
	if err := job.Cancel(q.now()); err != nil {
		q.pending = slices.Insert(q.pending, idx, job)
		q.mu.Unlock()
		return err
	}
	q.recording++
	snap := job.Snapshot()
	q.dispatchLocked()
	q.mu.Unlock()

	q.logger.Info("pending job cancelled", "job_id", id, "source", snap.SourceID)
	q.complete(job, snap)
	return nil
}

// Get returns a snapshot of a job the queue still owns.
func (q *Queue) Get(id string) (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return job.Snapshot(), true
}

func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Counts{Pending: len(q.pending), Active: len(q.active)}
}

// Shutdown stops admissions, fails pending jobs, cancels running ones and
// waits for their workers to exit or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.wait(ctx)
	}
	q.closed = true

	dropped := q.pending
	q.pending = nil
	snaps := make([]domain.Job, 0, len(dropped))
	for _, job := range dropped {
		if err := job.Cancel(q.now()); err != nil {
			q.logger.Error("failed to cancel pending job", "job_id", job.ID, "error", err)
		}
		snaps = append(snaps, job.Snapshot())
	}
	q.recording += len(dropped)
	q.mu.Unlock()

	q.cancelBase()
	for i, job := range dropped {
		q.complete(job, snaps[i])
	}

	return q.wait(ctx)
}

func (q *Queue) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
