package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"doc_syncer/internal/domain"
	"doc_syncer/internal/strategy"
)

// Fetcher enumerates candidates of one source and retrieves their content.
type Fetcher interface {
	FetchCandidates(ctx context.Context, params map[string]string) ([]domain.Candidate, error)
	Materialize(ctx context.Context, candidate domain.Candidate) ([]byte, error)
}

type FingerprintStore interface {
	Load(ctx context.Context, sourceID string) (*domain.Fingerprints, error)
	Save(ctx context.Context, fp *domain.Fingerprints) error
}

type Publisher interface {
	Publish(ctx context.Context, event *domain.ArtifactEvent) error
	Close() error
}

// Source binds a configured source to its fetcher and fingerprint strategy.
type Source struct {
	ID        string
	OutputDir string
	Fetcher   Fetcher
	Strategy  strategy.Strategy
}

// Request carries the per-job inputs of one sync.
type Request struct {
	JobID  string
	Mode   domain.RunMode
	Params map[string]string
}
