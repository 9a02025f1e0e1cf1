package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsTerminal reports whether no further transition is allowed out of the state.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

type RunMode string

const (
	ModeFull        RunMode = "full"
	ModeIncremental RunMode = "incremental"
)

func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case ModeFull, ModeIncremental:
		return RunMode(s), nil
	case "":
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("unknown run mode %q", s)
	}
}

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

var allowedTransitions = map[JobState]map[JobState]bool{
	JobPending: {
		JobRunning: true,
		JobFailed:  true, // cancelled before admission
	},
	JobRunning: {
		JobCompleted: true,
		JobFailed:    true,
	},
}

func CanTransition(from, to JobState) bool {
	return allowedTransitions[from][to]
}

// Job is one execution attempt synchronizing one source.
type Job struct {
	ID            string            `json:"job_id" db:"id"`
	SourceID      string            `json:"source_id" db:"source_id"`
	Mode          RunMode           `json:"mode" db:"mode"`
	Trigger       string            `json:"trigger" db:"trigger"`
	Params        map[string]string `json:"parameters,omitempty"`
	State         JobState          `json:"status" db:"state"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	Duration      time.Duration     `json:"duration" db:"duration"`
	Fetched       int               `json:"files_downloaded" db:"fetched"`
	Unchanged     int               `json:"files_skipped" db:"unchanged"`
	Errors        int               `json:"error_count" db:"errors"`
	ErrorMessages []string          `json:"errors"`
	OutputDir     string            `json:"output_folder" db:"output_dir"`
}

func NewJob(sourceID string, mode RunMode, trigger string, params map[string]string, outputDir string, now time.Time) *Job {
	return &Job{
		ID:        fmt.Sprintf("%s_%s", sourceID, uuid.NewString()),
		SourceID:  sourceID,
		Mode:      mode,
		Trigger:   trigger,
		Params:    maps.Clone(params),
		State:     JobPending,
		CreatedAt: now,
		OutputDir: outputDir,
	}
}

func (j *Job) transition(to JobState) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrInvalidTransition, j.State, to, j.ID)
	}
	j.State = to
	return nil
}

// Start moves a pending job to running.
func (j *Job) Start(now time.Time) error {
	if err := j.transition(JobRunning); err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

// Finish moves a running job to its terminal state from the sync outcome.
// A nil error completes the job unless every candidate failed.
func (j *Job) Finish(now time.Time, stats *SyncStats, runErr error) error {
	to := JobCompleted
	if runErr != nil || (stats != nil && stats.AllFailed()) {
		to = JobFailed
	}
	if err := j.transition(to); err != nil {
		return err
	}

	if stats != nil {
		j.Fetched += stats.Fetched
		j.Unchanged += stats.Unchanged
		for _, msg := range stats.ErrorMessages {
			j.recordError(msg)
		}
	}
	if runErr != nil {
		j.recordError(runErr.Error())
	}
	j.stamp(now)
	return nil
}

// Cancel fails a job that never started.
func (j *Job) Cancel(now time.Time) error {
	if err := j.transition(JobFailed); err != nil {
		return err
	}
	j.recordError(ErrCancelled.Error())
	j.stamp(now)
	return nil
}

func (j *Job) recordError(msg string) {
	j.ErrorMessages = append(j.ErrorMessages, msg)
	j.Errors = len(j.ErrorMessages)
}

func (j *Job) stamp(now time.Time) {
	if j.StartedAt != nil && now.Before(*j.StartedAt) {
		now = *j.StartedAt
	}
	j.CompletedAt = &now
	if j.StartedAt != nil {
		j.Duration = now.Sub(*j.StartedAt)
	}
}

// Snapshot returns a deep copy safe to hand out while the original keeps changing.
func (j *Job) Snapshot() Job {
	c := *j
	c.Params = maps.Clone(j.Params)
	c.ErrorMessages = slices.Clone(j.ErrorMessages)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
