package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"doc_syncer/internal/domain"
)

// FingerprintStore keeps one JSON document per source under dir.
type FingerprintStore struct {
	dir string
	mu  sync.Mutex
}

func NewFingerprintStore(dir string) *FingerprintStore {
	return &FingerprintStore{dir: dir}
}

func (s *FingerprintStore) path(sourceID string) string {
	return filepath.Join(s.dir, sourceID+".fingerprints.json")
}

func (s *FingerprintStore) Load(ctx context.Context, sourceID string) (*domain.Fingerprints, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fp := domain.NewFingerprints(sourceID)
	if err := ReadJSON(s.path(sourceID), fp); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NewFingerprints(sourceID), nil
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}

	fp.SourceID = sourceID
	if fp.Records == nil {
		fp.Records = make(map[string]domain.FingerprintRecord)
	}
	return fp, nil
}

func (s *FingerprintStore) Save(ctx context.Context, fp *domain.Fingerprints) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create state dir: %w", domain.ErrStoreIO, err)
	}
	if err := WriteJSON(s.path(fp.SourceID), fp); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}
