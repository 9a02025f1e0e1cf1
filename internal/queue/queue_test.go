package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"doc_syncer/internal/domain"
)

type recorder struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (r *recorder) Record(_ context.Context, job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.Snapshot())
}

func (r *recorder) byID(id string) (domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return domain.Job{}, false
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		ids[i] = j.ID
	}
	return ids
}

// gatedRunner blocks every job until its gate is released and tracks concurrency.
type gatedRunner struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	started   chan string
	active    int
	maxActive int
	perSource map[string]int
	maxSource int
	run       func(ctx context.Context, job *domain.Job) (*domain.SyncStats, error)
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{
		gates:     make(map[string]chan struct{}),
		started:   make(chan string, 64),
		perSource: make(map[string]int),
	}
}

func (g *gatedRunner) gate(id string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[id]
	if !ok {
		ch = make(chan struct{})
		g.gates[id] = ch
	}
	return ch
}

func (g *gatedRunner) release(id string) { close(g.gate(id)) }

func (g *gatedRunner) Run(ctx context.Context, job *domain.Job) (*domain.SyncStats, error) {
	g.mu.Lock()
	g.active++
	g.perSource[job.SourceID]++
	g.maxActive = max(g.maxActive, g.active)
	g.maxSource = max(g.maxSource, g.perSource[job.SourceID])
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active--
		g.perSource[job.SourceID]--
		g.mu.Unlock()
	}()

	g.started <- job.ID
	if g.run != nil {
		return g.run(ctx, job)
	}
	select {
	case <-g.gate(job.ID):
		return &domain.SyncStats{Fetched: 1}, nil
	case <-ctx.Done():
		return &domain.SyncStats{}, fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
	}
}

type QueueTestSuite struct {
	suite.Suite
	runner   *gatedRunner
	recorder *recorder
	logger   *slog.Logger
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}

func (s *QueueTestSuite) SetupTest() {
	s.runner = newGatedRunner()
	s.recorder = &recorder{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *QueueTestSuite) newQueue(limit int) *Queue {
	q := New(limit, s.runner, s.recorder, s.logger)
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func newJob(source string) *domain.Job {
	return domain.NewJob(source, domain.ModeIncremental, domain.TriggerManual, nil, source, time.Now())
}

func (s *QueueTestSuite) waitStarted() string {
	select {
	case id := <-s.runner.started:
		return id
	case <-time.After(5 * time.Second):
		s.FailNow("timed out waiting for a job to start")
		return ""
	}
}

func (s *QueueTestSuite) drain(q *Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(q.Drain(ctx))
}

func (s *QueueTestSuite) TestNeverExceedsConcurrencyLimit() {
	q := s.newQueue(2)
	s.runner.run = func(context.Context, *domain.Job) (*domain.SyncStats, error) {
		time.Sleep(10 * time.Millisecond)
		return &domain.SyncStats{Fetched: 1}, nil
	}

	for i := range 6 {
		s.Require().NoError(q.Submit(newJob(fmt.Sprintf("src%d", i))))
	}
	s.drain(q)

	s.LessOrEqual(s.runner.maxActive, 2)
	s.Len(s.recorder.order(), 6)
	for _, id := range s.recorder.order() {
		job, _ := s.recorder.byID(id)
		s.Equal(domain.JobCompleted, job.State)
		s.NotNil(job.StartedAt)
		s.NotNil(job.CompletedAt)
	}
	s.Equal(Counts{}, q.Counts())
}

func (s *QueueTestSuite) TestSecondJobForBusySourceStaysPending() {
	q := s.newQueue(2)
	a1, a2, b := newJob("a"), newJob("a"), newJob("b")

	s.Require().NoError(q.Submit(a1))
	s.Require().NoError(q.Submit(a2))
	s.Require().NoError(q.Submit(b))

	started := map[string]bool{s.waitStarted(): true, s.waitStarted(): true}
	s.True(started[a1.ID])
	s.True(started[b.ID], "a job for another source must overtake the blocked one")

	snap, ok := q.Get(a2.ID)
	s.Require().True(ok)
	s.Equal(domain.JobPending, snap.State)
	s.Equal(Counts{Pending: 1, Active: 2}, q.Counts())

	s.runner.release(a1.ID)
	s.Equal(a2.ID, s.waitStarted())
	s.runner.release(a2.ID)
	s.runner.release(b.ID)
	s.drain(q)

	s.Equal(1, s.runner.maxSource)
	order := s.recorder.order()
	s.Less(indexOf(order, a1.ID), indexOf(order, a2.ID))
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *QueueTestSuite) TestPanicFailsOnlyThatJob() {
	q := s.newQueue(1)
	s.runner.run = func(_ context.Context, job *domain.Job) (*domain.SyncStats, error) {
		if job.SourceID == "bad" {
			panic("boom")
		}
		return &domain.SyncStats{Fetched: 2}, nil
	}

	bad, good := newJob("bad"), newJob("good")
	s.Require().NoError(q.Submit(bad))
	s.Require().NoError(q.Submit(good))
	s.drain(q)

	failed, ok := s.recorder.byID(bad.ID)
	s.Require().True(ok)
	s.Equal(domain.JobFailed, failed.State)
	s.Require().Len(failed.ErrorMessages, 1)
	s.Contains(failed.ErrorMessages[0], "job panicked: boom")

	done, ok := s.recorder.byID(good.ID)
	s.Require().True(ok)
	s.Equal(domain.JobCompleted, done.State)
	s.Equal(2, done.Fetched)
}

func (s *QueueTestSuite) TestCancelPendingJob() {
	q := s.newQueue(1)
	first, second := newJob("a"), newJob("b")
	s.Require().NoError(q.Submit(first))
	s.Require().NoError(q.Submit(second))
	s.Equal(first.ID, s.waitStarted())

	s.Require().NoError(q.Cancel(second.ID))

	cancelled, ok := s.recorder.byID(second.ID)
	s.Require().True(ok)
	s.Equal(domain.JobFailed, cancelled.State)
	s.Equal([]string{"job cancelled"}, cancelled.ErrorMessages)

	s.runner.release(first.ID)
	s.drain(q)
	s.Len(s.recorder.order(), 2)
}

func (s *QueueTestSuite) TestCancelRunningJob() {
	q := s.newQueue(1)
	job := newJob("a")
	s.Require().NoError(q.Submit(job))
	s.waitStarted()

	s.Require().NoError(q.Cancel(job.ID))
	s.drain(q)

	got, ok := s.recorder.byID(job.ID)
	s.Require().True(ok)
	s.Equal(domain.JobFailed, got.State)
	s.Require().NotEmpty(got.ErrorMessages)
	s.Contains(got.ErrorMessages[0], "job cancelled")
}

func (s *QueueTestSuite) TestCancelUnknownJob() {
	q := s.newQueue(1)
	err := q.Cancel("nope")
	s.True(errors.Is(err, domain.ErrJobNotFound))
}

func (s *QueueTestSuite) TestDrainWaitsForJobsSubmittedMeanwhile() {
	q := s.newQueue(2)
	followUp := newJob("b")
	s.runner.run = func(_ context.Context, job *domain.Job) (*domain.SyncStats, error) {
		if job.SourceID == "a" {
			s.NoError(q.Submit(followUp))
			time.Sleep(5 * time.Millisecond)
		}
		return &domain.SyncStats{}, nil
	}

	s.Require().NoError(q.Submit(newJob("a")))
	s.drain(q)

	got, ok := s.recorder.byID(followUp.ID)
	s.Require().True(ok)
	s.True(got.State.IsTerminal())
}

func (s *QueueTestSuite) TestStatusObservableWhileRunning() {
	q := s.newQueue(1)
	job := newJob("a")
	s.Require().NoError(q.Submit(job))
	s.waitStarted()

	snap, ok := q.Get(job.ID)
	s.Require().True(ok)
	s.Equal(domain.JobRunning, snap.State)

	s.runner.release(job.ID)
	s.drain(q)

	_, ok = q.Get(job.ID)
	s.False(ok, "terminal jobs belong to the recorder")
}

func (s *QueueTestSuite) TestShutdownFailsPendingAndStopsRunning() {
	q := New(1, s.runner, s.recorder, s.logger)
	running, waiting := newJob("a"), newJob("b")
	s.Require().NoError(q.Submit(running))
	s.Require().NoError(q.Submit(waiting))
	s.waitStarted()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(q.Shutdown(ctx))
	s.drain(q)

	for _, id := range []string{running.ID, waiting.ID} {
		got, ok := s.recorder.byID(id)
		s.Require().True(ok)
		s.Equal(domain.JobFailed, got.State)
	}
	s.ErrorIs(q.Submit(newJob("c")), ErrClosed)
}

func (s *QueueTestSuite) TestRejectsNonPendingJob() {
	q := s.newQueue(1)
	job := newJob("a")
	s.Require().NoError(job.Start(time.Now()))

	s.ErrorIs(q.Submit(job), domain.ErrInvalidTransition)
}

func (s *QueueTestSuite) TestJobThatCannotStartIsForgotten() {
	q := s.newQueue(1)
	first, stuck := newJob("a"), newJob("b")

	s.Require().NoError(q.Submit(first))
	s.Equal(first.ID, s.waitStarted())
	s.Require().NoError(q.Submit(stuck))

	// moved out of pending behind the queue's back
	q.mu.Lock()
	stuck.State = domain.JobFailed
	q.mu.Unlock()

	s.runner.release(first.ID)
	s.drain(q)

	_, ok := q.Get(stuck.ID)
	s.False(ok)
	s.Equal(Counts{}, q.Counts())
	_, recorded := s.recorder.byID(stuck.ID)
	s.False(recorded)
}
