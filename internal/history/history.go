// Package history keeps terminal job snapshots and aggregates them for reporting.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"doc_syncer/internal/domain"
)

// Sink persists terminal jobs across process invocations.
type Sink interface {
	Append(ctx context.Context, job *domain.Job) error
	List(ctx context.Context) ([]*domain.Job, error)
}

// History is an append-only list of terminal jobs.
type History struct {
	sink   Sink
	logger *slog.Logger

	mu    sync.RWMutex
	jobs  []domain.Job
	index map[string]int
}

func New(sink Sink, logger *slog.Logger) *History {
	return &History{
		sink:   sink,
		logger: logger,
		index:  make(map[string]int),
	}
}

// Load replaces the in-memory list with what the sink holds.
func (h *History) Load(ctx context.Context) error {
	if h.sink == nil {
		return nil
	}
	jobs, err := h.sink.List(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.jobs = h.jobs[:0]
	h.index = make(map[string]int, len(jobs))
	for _, job := range jobs {
		h.appendLocked(job.Snapshot())
	}
	h.logger.Debug("history loaded", "jobs", len(h.jobs))
	return nil
}

// Record appends a terminal job. Sink failures are logged; the in-memory entry is kept.
func (h *History) Record(ctx context.Context, job *domain.Job) {
	snap := job.Snapshot()
	if !snap.State.IsTerminal() {
		h.logger.Warn("refusing to record non-terminal job", "job_id", snap.ID, "state", snap.State)
		return
	}

	h.mu.Lock()
	h.appendLocked(snap)
	h.mu.Unlock()

	if h.sink == nil {
		return
	}
	if err := h.sink.Append(ctx, &snap); err != nil {
		h.logger.Error("failed to persist job history", "job_id", snap.ID, "error", err)
	}
}

func (h *History) appendLocked(job domain.Job) {
	if i, ok := h.index[job.ID]; ok {
		h.jobs[i] = job
		return
	}
	h.index[job.ID] = len(h.jobs)
	h.jobs = append(h.jobs, job)
}

func (h *History) Get(id string) (domain.Job, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i, ok := h.index[id]
	if !ok {
		return domain.Job{}, false
	}
	return h.jobs[i].Snapshot(), true
}

// Recent returns up to n jobs, newest first.
func (h *History) Recent(n int) []domain.Job {
	return h.recent(n, func(domain.Job) bool { return true })
}

// RecentFailures returns up to n failed jobs, newest first.
func (h *History) RecentFailures(n int) []domain.Job {
	return h.recent(n, func(j domain.Job) bool { return j.State == domain.JobFailed })
}

func (h *History) recent(n int, keep func(domain.Job) bool) []domain.Job {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.Job, 0, n)
	for i := len(h.jobs) - 1; i >= 0 && len(out) < n; i-- {
		if keep(h.jobs[i]) {
			out = append(out, h.jobs[i].Snapshot())
		}
	}
	return out
}

// CompletedSince counts jobs that finished successfully at or after t.
func (h *History) CompletedSince(t time.Time) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, j := range h.jobs {
		if j.State == domain.JobCompleted && j.CompletedAt != nil && !j.CompletedAt.Before(t) {
			n++
		}
	}
	return n
}

type Summary struct {
	TotalJobs            int `json:"total_jobs"`
	SuccessfulJobs       int `json:"successful_jobs"`
	FailedJobs           int `json:"failed_jobs"`
	TotalFilesDownloaded int `json:"total_files_downloaded"`
}

func (h *History) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return summarize(h.jobs)
}

func summarize(jobs []domain.Job) Summary {
	s := Summary{TotalJobs: len(jobs)}
	for _, j := range jobs {
		switch j.State {
		case domain.JobCompleted:
			s.SuccessfulJobs++
		case domain.JobFailed:
			s.FailedJobs++
		}
		s.TotalFilesDownloaded += j.Fetched
	}
	return s
}

type Export struct {
	ExportTimestamp time.Time    `json:"export_timestamp"`
	Jobs            []domain.Job `json:"jobs"`
	Summary         Summary      `json:"summary"`
}

// Export returns every recorded job in append order.
func (h *History) Export(now time.Time) Export {
	h.mu.RLock()
	defer h.mu.RUnlock()

	jobs := make([]domain.Job, len(h.jobs))
	for i, j := range h.jobs {
		jobs[i] = j.Snapshot()
	}
	return Export{
		ExportTimestamp: now,
		Jobs:            jobs,
		Summary:         summarize(jobs),
	}
}
