package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"doc_syncer/internal/domain"
)

type FingerprintStore struct {
	db        *sqlx.DB
	txManager *TransactionManager
}

func NewFingerprintStore(db *sqlx.DB, txManager *TransactionManager) *FingerprintStore {
	return &FingerprintStore{db: db, txManager: txManager}
}

type fingerprintRow struct {
	IdentityKey string    `db:"identity_key"`
	ChangeToken string    `db:"change_token"`
	Path        string    `db:"path"`
	IndexedAt   time.Time `db:"indexed_at"`
}

func (s *FingerprintStore) Load(ctx context.Context, sourceID string) (*domain.Fingerprints, error) {
	fp := domain.NewFingerprints(sourceID)

	var rows []fingerprintRow
	query := `
		SELECT identity_key, change_token, path, indexed_at
		FROM fingerprints
		WHERE source_id = $1`
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, sourceID); err != nil {
		return nil, fmt.Errorf("%w: select fingerprints: %w", domain.ErrStoreIO, err)
	}
	for _, r := range rows {
		fp.Records[r.IdentityKey] = domain.FingerprintRecord{
			ChangeToken: r.ChangeToken,
			Path:        r.Path,
			IndexedAt:   r.IndexedAt,
		}
	}

	var updatedAt time.Time
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &updatedAt,
		`SELECT updated_at FROM fingerprint_sources WHERE source_id = $1`, sourceID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("%w: select source: %w", domain.ErrStoreIO, err)
	default:
		fp.UpdatedAt = updatedAt
	}

	return fp, nil
}

// Save upserts every record in one transaction. Rows are never deleted.
func (s *FingerprintStore) Save(ctx context.Context, fp *domain.Fingerprints) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := GetExecutor(txCtx, s.db)

		upsert := `
			INSERT INTO fingerprints (source_id, identity_key, change_token, path, indexed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source_id, identity_key) DO UPDATE SET
				change_token = EXCLUDED.change_token,
				path = EXCLUDED.path,
				indexed_at = EXCLUDED.indexed_at
			WHERE fingerprints.indexed_at <= EXCLUDED.indexed_at`

		for key, rec := range fp.Records {
			if _, err := exec.ExecContext(txCtx, upsert, fp.SourceID, key, rec.ChangeToken, rec.Path, rec.IndexedAt); err != nil {
				return fmt.Errorf("upsert fingerprint %q: %w", key, err)
			}
		}

		_, err := exec.ExecContext(txCtx, `
			INSERT INTO fingerprint_sources (source_id, updated_at)
			VALUES ($1, $2)
			ON CONFLICT (source_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
			fp.SourceID, fp.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert source: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreIO, err)
	}
	return nil
}
