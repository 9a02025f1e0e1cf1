package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"doc_syncer/internal/config"
	"doc_syncer/internal/domain"
	"doc_syncer/internal/naming"
	"doc_syncer/internal/storage/filestore"
	"doc_syncer/internal/strategy"
)

// SyncService runs one incremental synchronization of a source: it
// classifies every candidate against the stored fingerprints, materializes
// what is new, stale or missing on disk, and persists the updated records.
type SyncService struct {
	store     FingerprintStore
	publisher Publisher
	logger    *slog.Logger
	config    config.SyncConfig
	now       func() time.Time
}

func NewSyncService(
	store FingerprintStore,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

type plannedArtifact struct {
	candidate domain.Candidate
	key       string
	token     string
	class     domain.Classification
	record    domain.FingerprintRecord
	known     bool
}

// Sync returns the stats gathered so far together with any run-level error.
// Per-artifact failures are counted in the stats and never abort the run.
func (s *SyncService) Sync(ctx context.Context, src Source, req Request) (*domain.SyncStats, error) {
	startTime := s.now()
	logger := s.logger.With("source", src.ID, "job_id", req.JobID)
	logger.Info("starting sync", "strategy", src.Strategy.Name(), "mode", req.Mode)

	fp, err := s.store.Load(ctx, src.ID)
	if err != nil {
		return nil, wrapStoreErr("load fingerprints", err)
	}

	candidates, err := s.fetchCandidates(ctx, src, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	logger.Info("fetched candidates", "count", len(candidates))

	stats := &domain.SyncStats{
		SourceID:   src.ID,
		Candidates: len(candidates),
	}

	if err := os.MkdirAll(src.OutputDir, 0o755); err != nil {
		return stats, fmt.Errorf("create output dir %s: %w", src.OutputDir, err)
	}

	alloc := naming.NewAllocator(src.OutputDir, fp.Owners(), s.config.MaxNameAttempts)
	seen := make(map[string]bool, len(candidates))
	dirty := false
	var runErr error

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("%w: %w", domain.ErrCancelled, err)
			logger.Warn("sync interrupted", "error", err)
			break
		}

		item := s.classify(src, fp, c, req.Mode)
		if item.key == "" {
			stats.AddError(fmt.Sprintf("candidate %q: empty identity key", c.URL))
			continue
		}
		if seen[item.key] {
			logger.Debug("duplicate candidate in listing", "key", item.key)
			continue
		}
		seen[item.key] = true

		if !item.class.NeedsMaterialize() {
			stats.Unchanged++
			continue
		}

		rec, err := s.materialize(ctx, src, alloc, item)
		if err != nil {
			stats.AddError(err.Error())
			logger.Warn("failed to materialize artifact", "key", item.key, "error", err)
			continue
		}

		fp.Records[item.key] = rec
		dirty = true
		stats.Fetched++
		switch item.class {
		case domain.ClassNew:
			stats.New++
		case domain.ClassUpdated:
			stats.Updated++
		case domain.ClassMissingLocally:
			stats.Restored++
		}
		logger.Debug("materialized artifact", "key", item.key, "class", item.class, "path", rec.Path)

		s.publish(ctx, logger, stats, &domain.ArtifactEvent{
			Action:      item.class,
			SourceID:    src.ID,
			JobID:       req.JobID,
			IdentityKey: item.key,
			ChangeToken: rec.ChangeToken,
			Path:        rec.Path,
			Timestamp:   rec.IndexedAt,
		})
	}

	if dirty {
		fp.UpdatedAt = s.now()
		// Progress made before a cancellation is still persisted.
		if err := s.store.Save(context.WithoutCancel(ctx), fp); err != nil {
			return stats, wrapStoreErr("save fingerprints", err)
		}
	}

	stats.Duration = s.now().Sub(startTime)

	logger.Info("sync completed",
		"fetched", stats.Fetched,
		"new", stats.New,
		"updated", stats.Updated,
		"restored", stats.Restored,
		"unchanged", stats.Unchanged,
		"errors", stats.Errors,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	return stats, runErr
}

func (s *SyncService) fetchCandidates(ctx context.Context, src Source, params map[string]string) ([]domain.Candidate, error) {
	if s.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	return src.Fetcher.FetchCandidates(ctx, params)
}

func (s *SyncService) classify(src Source, fp *domain.Fingerprints, c domain.Candidate, mode domain.RunMode) plannedArtifact {
	keys := strategy.LookupKeys(src.Strategy, c)
	item := plannedArtifact{
		candidate: c,
		key:       keys[0],
		token:     src.Strategy.ChangeToken(c),
	}
	if item.key == "" {
		return item
	}

	matched, rec, found := fp.Lookup(keys...)
	item.record = rec
	item.known = found
	if found {
		// keep writing under the key that owns the recorded path
		item.key = matched
	}

	switch {
	case !found:
		item.class = domain.ClassNew
	case mode == domain.ModeFull:
		item.class = domain.ClassUpdated
	case src.Strategy.IsStale(rec.ChangeToken, item.token):
		item.class = domain.ClassUpdated
	case !localFileExists(src.OutputDir, rec.Path):
		item.class = domain.ClassMissingLocally
	default:
		item.class = domain.ClassUnchanged
	}
	return item
}

func (s *SyncService) materialize(ctx context.Context, src Source, alloc *naming.Allocator, item plannedArtifact) (domain.FingerprintRecord, error) {
	rel := item.record.Path
	reserved := false
	if !item.known || rel == "" {
		var err error
		rel, err = alloc.Allocate(
			naming.Sanitize(item.candidate.Category),
			naming.FileName(item.candidate, s.config.DefaultExtension),
			item.key,
		)
		if err != nil {
			return domain.FingerprintRecord{}, err
		}
		reserved = true
	}

	content, err := s.content(ctx, src, item.candidate)
	if err == nil {
		err = filestore.WriteBytes(filepath.Join(src.OutputDir, filepath.FromSlash(rel)), content)
	}
	if err != nil {
		if reserved {
			alloc.Release(rel, item.key)
		}
		return domain.FingerprintRecord{}, fmt.Errorf("%w: %s: %w", domain.ErrMaterialize, item.key, err)
	}

	return domain.FingerprintRecord{
		ChangeToken: item.token,
		Path:        rel,
		IndexedAt:   s.now(),
	}, nil
}

func (s *SyncService) content(ctx context.Context, src Source, c domain.Candidate) ([]byte, error) {
	if c.HasContent() {
		return c.Content, nil
	}
	if s.config.MaterializeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaterializeTimeout)
		defer cancel()
	}
	return src.Fetcher.Materialize(ctx, c)
}

func (s *SyncService) publish(ctx context.Context, logger *slog.Logger, stats *domain.SyncStats, event *domain.ArtifactEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish artifact event", "key", event.IdentityKey, "error", err)
		return
	}
	stats.Published++
}

func localFileExists(root, rel string) bool {
	if rel == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil && info.Mode().IsRegular()
}

func wrapStoreErr(op string, err error) error {
	if errors.Is(err, domain.ErrStoreIO) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreIO, op, err)
}
