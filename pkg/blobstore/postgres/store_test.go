package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/blobstore/blobstoretest"
	"github.com/MrWong99/lingocast/pkg/blobstore/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if LINGOCAST_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LINGOCAST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LINGOCAST_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store on a freshly dropped schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS blobs CASCADE"); err != nil {
		t.Fatalf("drop blobs: %v", err)
	}
	pool.Close()

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStoreContract(t *testing.T) {
	testDSN(t)
	blobstoretest.Run(t, func(t *testing.T) blobstore.Store { return newTestStore(t) })
}

func TestList_EscapesLikeMetacharacters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, p := range []string{"lessons/el_a1/x", "lessons/elXa1/y", "lessons/el%/z"} {
		if err := s.WriteFile(ctx, p, []byte("x")); err != nil {
			t.Fatalf("WriteFile(%s): %v", p, err)
		}
	}
	got, err := s.List(ctx, "lessons/el_a1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0] != "lessons/el_a1/x" {
		t.Errorf("List = %v, want [lessons/el_a1/x]", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
