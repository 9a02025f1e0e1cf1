package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"doc_syncer/internal/config"
	"doc_syncer/internal/domain"
	"doc_syncer/internal/history"
	"doc_syncer/internal/metrics"
	"doc_syncer/internal/registry"
	"doc_syncer/internal/service"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []service.Request
	sync  func(ctx context.Context, src service.Source, req service.Request) (*domain.SyncStats, error)
}

func (f *fakeSyncer) Sync(ctx context.Context, src service.Source, req service.Request) (*domain.SyncStats, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.sync != nil {
		return f.sync(ctx, src, req)
	}
	return &domain.SyncStats{SourceID: src.ID, Fetched: 1}, nil
}

type OrchestratorTestSuite struct {
	suite.Suite
	dir     string
	syncer  *fakeSyncer
	history *history.History
	orch    *Orchestrator
	ctx     context.Context
}

func TestOrchestratorTestSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New()
	reg.Register("uhc", registry.Entry{
		Source:   service.Source{OutputDir: filepath.Join(s.dir, "uhc")},
		Enabled:  true,
		Schedule: config.ScheduleConfig{Cadence: config.CadenceDaily, Time: "02:00"},
		Params:   map[string]string{"url": "default", "lob": "medical"},
	})
	reg.Register("humana", registry.Entry{
		Source:   service.Source{OutputDir: filepath.Join(s.dir, "humana")},
		Enabled:  true,
		Schedule: config.ScheduleConfig{Cadence: config.CadenceManual},
	})
	reg.Register("legacy", registry.Entry{
		Source:  service.Source{OutputDir: filepath.Join(s.dir, "legacy")},
		Enabled: false,
	})

	s.syncer = &fakeSyncer{}
	s.history = history.New(nil, logger)

	orch, err := New(config.AgentConfig{
		MaxConcurrentJobs: 2,
		TickInterval:      time.Minute,
		JobTimeout:        time.Minute,
	}, reg, s.syncer, s.history, logger, WithMetrics(metrics.New()))
	s.Require().NoError(err)
	s.orch = orch

	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.orch.Shutdown(ctx)
	})
}

func (s *OrchestratorTestSuite) drain() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(s.orch.Drain(ctx))
}

func (s *OrchestratorTestSuite) TestSubmitRejectsUnknownAndDisabledSources() {
	_, err := s.orch.Submit("nope", domain.ModeIncremental, domain.TriggerManual, nil)
	s.True(errors.Is(err, domain.ErrSourceNotFound))

	_, err = s.orch.Submit("legacy", domain.ModeIncremental, domain.TriggerManual, nil)
	s.True(errors.Is(err, domain.ErrSourceDisabled))

	s.Empty(s.orch.ExportHistory().Jobs)
}

func (s *OrchestratorTestSuite) TestSubmittedJobRunsToCompletion() {
	job, err := s.orch.Submit("uhc", domain.ModeFull, domain.TriggerManual, map[string]string{"url": "x"})
	s.Require().NoError(err)
	s.Equal("uhc", job.SourceID)
	s.Equal(filepath.Join(s.dir, "uhc"), job.OutputDir)

	s.drain()

	got, err := s.orch.Status(job.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobCompleted, got.State)
	s.Equal(1, got.Fetched)

	s.Require().Len(s.syncer.calls, 1)
	s.Equal(job.ID, s.syncer.calls[0].JobID)
	s.Equal(domain.ModeFull, s.syncer.calls[0].Mode)
	s.Equal("x", s.syncer.calls[0].Params["url"])
	s.Equal("medical", s.syncer.calls[0].Params["lob"])
}

func (s *OrchestratorTestSuite) TestPartialFailureCompletesWithErrors() {
	s.syncer.sync = func(context.Context, service.Source, service.Request) (*domain.SyncStats, error) {
		stats := &domain.SyncStats{Fetched: 1, Unchanged: 1}
		stats.AddError("materialize failed: B: timeout")
		return stats, nil
	}

	job, err := s.orch.Submit("uhc", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)
	s.drain()

	got, err := s.orch.Status(job.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobCompleted, got.State)
	s.Equal(1, got.Errors)
	s.Equal(1, got.Fetched)
	s.Equal(1, got.Unchanged)
}

func (s *OrchestratorTestSuite) TestFetchFailureFailsJob() {
	s.syncer.sync = func(context.Context, service.Source, service.Request) (*domain.SyncStats, error) {
		return nil, domain.ErrFetch
	}

	job, err := s.orch.Submit("uhc", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)
	s.drain()

	got, err := s.orch.Status(job.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobFailed, got.State)
	s.Equal([]string{"fetch failed"}, got.ErrorMessages)
	s.Equal(0, got.Fetched)
}

func (s *OrchestratorTestSuite) TestStatusUnknownJob() {
	_, err := s.orch.Status("missing")
	s.True(errors.Is(err, domain.ErrJobNotFound))
}

func (s *OrchestratorTestSuite) TestSecondSubmissionForSameSourceWaits() {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s.syncer.sync = func(ctx context.Context, _ service.Source, _ service.Request) (*domain.SyncStats, error) {
		started <- struct{}{}
		<-release
		return &domain.SyncStats{}, nil
	}

	first, err := s.orch.Submit("uhc", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)
	<-started
	second, err := s.orch.Submit("uhc", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)

	got, err := s.orch.Status(second.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobPending, got.State)

	running, err := s.orch.Status(first.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobRunning, running.State)

	release <- struct{}{}
	<-started
	release <- struct{}{}
	s.drain()

	got, err = s.orch.Status(second.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobCompleted, got.State)
}

func (s *OrchestratorTestSuite) TestSubmitAllSkipsDisabled() {
	jobs, err := s.orch.SubmitAll(domain.ModeIncremental, domain.TriggerManual)
	s.Require().NoError(err)
	s.Len(jobs, 2)
	s.drain()

	export := s.orch.ExportHistory()
	s.Equal(2, export.Summary.TotalJobs)
	s.Equal(2, export.Summary.SuccessfulJobs)
	s.Equal(2, export.Summary.TotalFilesDownloaded)
}

func (s *OrchestratorTestSuite) TestScheduledSubmission() {
	s.Require().NoError(s.orch.SubmitScheduled(s.ctx, "uhc"))
	s.drain()

	recent := s.orch.Dashboard().RecentJobs
	s.Require().Len(recent, 1)
	s.Equal(domain.TriggerScheduled, recent[0].Trigger)
	s.Equal(domain.ModeIncremental, recent[0].Mode)
}

func (s *OrchestratorTestSuite) TestDashboard() {
	uhcDir := filepath.Join(s.dir, "uhc", "Medical")
	s.Require().NoError(os.MkdirAll(uhcDir, 0o755))
	for _, name := range []string{"a.pdf", "b.pdf", ".docsync-tmp-123"} {
		s.Require().NoError(os.WriteFile(filepath.Join(uhcDir, name), []byte("x"), 0o644))
	}

	s.syncer.sync = func(context.Context, service.Source, service.Request) (*domain.SyncStats, error) {
		return nil, domain.ErrFetch
	}
	_, err := s.orch.Submit("humana", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)
	s.drain()

	d := s.orch.Dashboard()
	s.Equal(0, d.Jobs.Pending)
	s.Equal(0, d.Jobs.Active)
	s.Equal(1, d.Jobs.TotalCompleted)
	s.Len(d.RecentFailures, 1)

	s.Require().Contains(d.Sources, "uhc")
	s.Equal(2, d.Sources["uhc"].TotalFiles)
	s.Equal("0 2 * * *", d.Sources["uhc"].Schedule)
	s.NotNil(d.Sources["uhc"].NextRun)
	s.Equal("manual", d.Sources["humana"].Schedule)
	s.Nil(d.Sources["humana"].NextRun)
	s.False(d.Sources["legacy"].Enabled)
	s.Equal(0, d.Sources["legacy"].TotalFiles)
}

func (s *OrchestratorTestSuite) TestSchedulerStartStop() {
	s.False(s.orch.SchedulerRunning())
	s.orch.StartScheduler(s.ctx)
	s.orch.StartScheduler(s.ctx)
	s.True(s.orch.SchedulerRunning())
	s.orch.StopScheduler()
	s.orch.StopScheduler()
	s.False(s.orch.SchedulerRunning())
}

func (s *OrchestratorTestSuite) TestCancelPendingJob() {
	release := make(chan struct{})
	s.syncer.sync = func(context.Context, service.Source, service.Request) (*domain.SyncStats, error) {
		<-release
		return &domain.SyncStats{}, nil
	}

	_, err := s.orch.Submit("uhc", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)
	queued, err := s.orch.Submit("uhc", domain.ModeIncremental, domain.TriggerManual, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.orch.Cancel(queued.ID))
	close(release)
	s.drain()

	got, err := s.orch.Status(queued.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobFailed, got.State)
	s.Equal([]string{"job cancelled"}, got.ErrorMessages)
}
