package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lingocast/pkg/blobstore"
)

// Compile-time interface assertion.
var _ blobstore.Store = (*Store)(nil)

// Store is a PostgreSQL-backed blob store. Each blob is one row; a write is a
// single upsert statement and therefore atomic. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connection pool to the database at dsn, verifies it with a
// ping, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres blobstore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres blobstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres blobstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity. It is registered as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WriteFile implements blobstore.Store.
func (s *Store) WriteFile(ctx context.Context, p string, data []byte) error {
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO blobs (path, data, size, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (path) DO UPDATE
		    SET data = EXCLUDED.data, size = EXCLUDED.size, updated_at = now()`
	if data == nil {
		data = []byte{}
	}
	if _, err := s.pool.Exec(ctx, q, c, data, len(data)); err != nil {
		return fmt.Errorf("postgres blobstore: write %s: %w", c, err)
	}
	return nil
}

// ReadFile implements blobstore.Store.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE path = $1`, c).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres blobstore: read %s: %w", c, blobstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres blobstore: read %s: %w", c, err)
	}
	return data, nil
}

// Exists implements blobstore.Store.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE path = $1)`, c).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres blobstore: exists %s: %w", c, err)
	}
	return ok, nil
}

// List implements blobstore.Store.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	prefix, err := blobstore.DirPrefix(dir)
	if err != nil {
		return nil, err
	}
	const q = `SELECT path FROM blobs WHERE path LIKE $1 ESCAPE '\' ORDER BY path COLLATE "C"`
	rows, err := s.pool.Query(ctx, q, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("postgres blobstore: list %s: %w", dir, err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres blobstore: list %s: %w", dir, err)
	}
	return paths, nil
}

// Delete implements blobstore.Store.
func (s *Store) Delete(ctx context.Context, p string) error {
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE path = $1`, c); err != nil {
		return fmt.Errorf("postgres blobstore: delete %s: %w", c, err)
	}
	return nil
}

// likePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
