// Package orchestrator wires the registry, job queue, scheduler and history
// into one explicitly constructed instance.
package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"doc_syncer/internal/config"
	"doc_syncer/internal/domain"
	"doc_syncer/internal/history"
	"doc_syncer/internal/metrics"
	"doc_syncer/internal/queue"
	"doc_syncer/internal/registry"
	"doc_syncer/internal/scheduler"
	"doc_syncer/internal/service"
	"doc_syncer/internal/storage/filestore"
)

const (
	recentJobsLimit     = 10
	recentFailuresLimit = 5
)

// Syncer synchronizes one source.
type Syncer interface {
	Sync(ctx context.Context, src service.Source, req service.Request) (*domain.SyncStats, error)
}

type Orchestrator struct {
	cfg       config.AgentConfig
	registry  *registry.Registry
	syncer    Syncer
	history   *history.History
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	schedules map[string]string // source id -> cron expression
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(
	cfg config.AgentConfig,
	reg *registry.Registry,
	syncer Syncer,
	hist *history.History,
	logger *slog.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		syncer:    syncer,
		history:   hist,
		schedules: make(map[string]string),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	var loc *time.Location
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %w", domain.ErrConfiguration, cfg.Timezone, err)
		}
		loc = l
	}

	var entries []scheduler.Entry
	for _, id := range reg.IDs() {
		e, _ := reg.Get(id)
		sched, spec, err := scheduler.Parse(e.Schedule, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: %w", domain.ErrConfiguration, id, err)
		}
		if spec != "" {
			o.schedules[id] = spec
		}
		if sched == nil || !e.Enabled {
			continue
		}
		entries = append(entries, scheduler.Entry{SourceID: id, Spec: spec, Schedule: sched})
	}

	queueOpts := []queue.Option{queue.WithClock(o.now)}
	if o.metrics != nil {
		queueOpts = append(queueOpts, queue.WithObserver(o.metrics))
	}
	o.queue = queue.New(cfg.MaxConcurrentJobs, o, hist, logger, queueOpts...)
	o.scheduler = scheduler.NewScheduler(o, entries, cfg.TickInterval, logger)

	if o.metrics != nil {
		o.metrics.RegisterQueueDepth(func() (int, int) {
			c := o.queue.Counts()
			return c.Pending, c.Active
		})
	}

	return o, nil
}

// Submit creates a job for an enabled source and enqueues it. Unknown and
// disabled sources are rejected before any job exists.
func (o *Orchestrator) Submit(sourceID string, mode domain.RunMode, trigger string, params map[string]string) (domain.Job, error) {
	entry, err := o.registry.Lookup(sourceID)
	if err != nil {
		return domain.Job{}, err
	}

	merged := maps.Clone(entry.Params)
	if merged == nil {
		merged = make(map[string]string, len(params))
	}
	maps.Copy(merged, params)
	if len(merged) == 0 {
		merged = nil
	}

	job := domain.NewJob(sourceID, mode, trigger, merged, entry.Source.OutputDir, o.now())
	if err := o.queue.Submit(job); err != nil {
		return domain.Job{}, fmt.Errorf("submit job: %w", err)
	}

	o.logger.Info("job submitted", "job_id", job.ID, "source", sourceID, "mode", mode, "trigger", trigger)
	return o.Status(job.ID)
}

// SubmitAll enqueues one job per enabled source.
func (o *Orchestrator) SubmitAll(mode domain.RunMode, trigger string) ([]domain.Job, error) {
	var jobs []domain.Job
	for _, id := range o.registry.IDs() {
		if e, _ := o.registry.Get(id); !e.Enabled {
			continue
		}
		job, err := o.Submit(id, mode, trigger, nil)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (o *Orchestrator) SubmitScheduled(_ context.Context, sourceID string) error {
	_, err := o.Submit(sourceID, domain.ModeIncremental, domain.TriggerScheduled, nil)
	return err
}

// Run executes a job on behalf of the queue.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) (*domain.SyncStats, error) {
	entry, ok := o.registry.Get(job.SourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrSourceNotFound, job.SourceID)
	}

	if o.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.JobTimeout)
		defer cancel()
	}

	src := entry.Source
	if job.OutputDir != "" {
		src.OutputDir = job.OutputDir
	}
	return o.syncer.Sync(ctx, src, service.Request{
		JobID:  job.ID,
		Mode:   job.Mode,
		Params: job.Params,
	})
}

// Status looks a job up in the queue first, then in history.
func (o *Orchestrator) Status(id string) (domain.Job, error) {
	if job, ok := o.queue.Get(id); ok {
		return job, nil
	}
	if job, ok := o.history.Get(id); ok {
		return job, nil
	}
	return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

func (o *Orchestrator) Cancel(id string) error {
	return o.queue.Cancel(id)
}

// Drain waits until every submitted job is terminal and recorded.
func (o *Orchestrator) Drain(ctx context.Context) error {
	return o.queue.Drain(ctx)
}

// Shutdown stops the scheduler and the queue.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.scheduler.Stop()
	return o.queue.Shutdown(ctx)
}

func (o *Orchestrator) StartScheduler(ctx context.Context) {
	o.scheduler.Start(ctx)
}

func (o *Orchestrator) StopScheduler() {
	o.scheduler.Stop()
}

func (o *Orchestrator) SchedulerRunning() bool {
	return o.scheduler.Running()
}

func (o *Orchestrator) ExportHistory() history.Export {
	return o.history.Export(o.now())
}

type JobCounters struct {
	Pending        int `json:"pending"`
	Active         int `json:"active"`
	CompletedToday int `json:"completed_today"`
	TotalCompleted int `json:"total_completed"`
}

type SourceSummary struct {
	Enabled    bool       `json:"enabled"`
	OutputDir  string     `json:"output_dir"`
	TotalFiles int        `json:"total_files"`
	Schedule   string     `json:"schedule"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

type Dashboard struct {
	Timestamp        time.Time                `json:"timestamp"`
	SchedulerRunning bool                     `json:"scheduler_running"`
	Jobs             JobCounters              `json:"jobs"`
	Sources          map[string]SourceSummary `json:"sources"`
	RecentJobs       []domain.Job             `json:"recent_jobs"`
	RecentFailures   []domain.Job             `json:"recent_failures"`
}

func (o *Orchestrator) Dashboard() Dashboard {
	now := o.now()
	counts := o.queue.Counts()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	nextRuns := o.scheduler.NextRuns(now)

	d := Dashboard{
		Timestamp:        now,
		SchedulerRunning: o.scheduler.Running(),
		Jobs: JobCounters{
			Pending:        counts.Pending,
			Active:         counts.Active,
			CompletedToday: o.history.CompletedSince(midnight),
			TotalCompleted: o.history.Summary().TotalJobs,
		},
		Sources:        make(map[string]SourceSummary),
		RecentJobs:     o.history.Recent(recentJobsLimit),
		RecentFailures: o.history.RecentFailures(recentFailuresLimit),
	}

	for _, id := range o.registry.IDs() {
		e, _ := o.registry.Get(id)
		summary := SourceSummary{
			Enabled:    e.Enabled,
			OutputDir:  e.Source.OutputDir,
			TotalFiles: o.countFiles(e.Source.OutputDir),
			Schedule:   o.schedules[id],
		}
		if summary.Schedule == "" {
			summary.Schedule = config.CadenceManual
		}
		if next, ok := nextRuns[id]; ok && !next.IsZero() {
			summary.NextRun = &next
		}
		d.Sources[id] = summary
	}
	return d
}

// countFiles counts regular files below dir, ignoring in-flight temp files.
func (o *Orchestrator) countFiles(dir string) int {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), filestore.TempPrefix) {
			n++
		}
		return nil
	})
	if err != nil && n == 0 {
		o.logger.Debug("cannot count files", "dir", dir, "error", err)
	}
	return n
}
