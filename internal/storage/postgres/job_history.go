package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"doc_syncer/internal/domain"
)

// JobHistoryStore persists terminal jobs in the job_history table.
type JobHistoryStore struct {
	db *sqlx.DB
}

func NewJobHistoryStore(db *sqlx.DB) *JobHistoryStore {
	return &JobHistoryStore{db: db}
}

type jobRow struct {
	ID            string         `db:"id"`
	SourceID      string         `db:"source_id"`
	Mode          string         `db:"mode"`
	Trigger       string         `db:"trigger"`
	State         string         `db:"state"`
	Params        []byte         `db:"params"`
	CreatedAt     time.Time      `db:"created_at"`
	StartedAt     *time.Time     `db:"started_at"`
	CompletedAt   *time.Time     `db:"completed_at"`
	DurationMS    int64          `db:"duration_ms"`
	Fetched       int            `db:"fetched"`
	Unchanged     int            `db:"unchanged"`
	Errors        int            `db:"errors"`
	ErrorMessages pq.StringArray `db:"error_messages"`
	OutputDir     string         `db:"output_dir"`
}

func (s *JobHistoryStore) Append(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	// a nil slice would be sent as NULL
	errorMessages := job.ErrorMessages
	if errorMessages == nil {
		errorMessages = []string{}
	}

	query := `
		INSERT INTO job_history (
			id, source_id, mode, trigger, state, params, created_at, started_at,
			completed_at, duration_ms, fetched, unchanged, errors, error_messages, output_dir
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		job.SourceID,
		string(job.Mode),
		job.Trigger,
		string(job.State),
		string(params),
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.Duration.Milliseconds(),
		job.Fetched,
		job.Unchanged,
		job.Errors,
		pq.Array(errorMessages),
		job.OutputDir,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobHistoryStore) List(ctx context.Context) ([]*domain.Job, error) {
	var rows []jobRow
	query := `
		SELECT id, source_id, mode, trigger, state, params, created_at, started_at,
			completed_at, duration_ms, fetched, unchanged, errors, error_messages, output_dir
		FROM job_history
		ORDER BY seq`
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query); err != nil {
		return nil, fmt.Errorf("select job history: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, r := range rows {
		job := &domain.Job{
			ID:            r.ID,
			SourceID:      r.SourceID,
			Mode:          domain.RunMode(r.Mode),
			Trigger:       r.Trigger,
			State:         domain.JobState(r.State),
			CreatedAt:     r.CreatedAt,
			StartedAt:     r.StartedAt,
			CompletedAt:   r.CompletedAt,
			Duration:      time.Duration(r.DurationMS) * time.Millisecond,
			Fetched:       r.Fetched,
			Unchanged:     r.Unchanged,
			Errors:        r.Errors,
			ErrorMessages: []string(r.ErrorMessages),
			OutputDir:     r.OutputDir,
		}
		if len(r.Params) > 0 {
			if err := json.Unmarshal(r.Params, &job.Params); err != nil {
				return nil, fmt.Errorf("decode params of job %s: %w", r.ID, err)
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
