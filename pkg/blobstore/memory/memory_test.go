package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/blobstore/blobstoretest"
)

func TestStoreContract(t *testing.T) {
	blobstoretest.Run(t, func(*testing.T) blobstore.Store { return New() })
}

func TestFailWrites(t *testing.T) {
	boom := errors.New("disk full")
	s := &Store{FailWrites: map[string]error{"a/b.json": boom}}
	ctx := context.Background()

	if err := s.WriteFile(ctx, "a/b.json", []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if ok, _ := s.Exists(ctx, "a/b.json"); ok {
		t.Error("failed write left a blob behind")
	}
	if err := s.WriteFile(ctx, "a/c.json", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if len(s.Writes) != 1 || s.Writes[0] != "a/c.json" {
		t.Errorf("Writes = %v", s.Writes)
	}
}

func TestReadReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.WriteFile(ctx, "x", []byte("abc"))
	got, _ := s.ReadFile(ctx, "x")
	got[0] = 'z'
	again, _ := s.ReadFile(ctx, "x")
	if string(again) != "abc" {
		t.Errorf("stored blob mutated through returned slice: %q", again)
	}
}
