package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"doc_syncer/internal/domain"
)

const historyFile = "job_history.jsonl"

// HistoryLog appends finished jobs to a JSON-lines file.
type HistoryLog struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewHistoryLog(dir string, logger *slog.Logger) *HistoryLog {
	return &HistoryLog{
		path:   filepath.Join(dir, historyFile),
		logger: logger,
	}
}

func (h *HistoryLog) Append(_ context.Context, job *domain.Job) error {
	line, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("%w: create history dir: %w", domain.ErrStoreIO, err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open history: %w", domain.ErrStoreIO, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: append history: %w", domain.ErrStoreIO, err)
	}
	return nil
}

// List returns every job in append order. Unreadable lines are logged and skipped.
func (h *HistoryLog) List(_ context.Context) ([]*domain.Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open history: %w", domain.ErrStoreIO, err)
	}
	defer f.Close()

	var jobs []*domain.Job
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal(scanner.Bytes(), &job); err != nil {
			h.logger.Warn("skipping corrupt history line", "line", lineNo, "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read history: %w", domain.ErrStoreIO, err)
	}
	return jobs, nil
}
