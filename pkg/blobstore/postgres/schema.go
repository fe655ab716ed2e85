// Package postgres implements blobstore.Store on a PostgreSQL table, for
// deployments where several workers share lesson state without a shared
// filesystem.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteFile(ctx, "vocab/el/a1/manifest.json", data)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlBlobs = `
CREATE TABLE IF NOT EXISTS blobs (
    path        TEXT         PRIMARY KEY,
    data        BYTEA        NOT NULL,
    size        BIGINT       NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_blobs_path_pattern
    ON blobs (path text_pattern_ops);
`

// Migrate creates the blobs table if it does not exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlBlobs); err != nil {
		return fmt.Errorf("postgres blobstore: migrate: %w", err)
	}
	return nil
}
