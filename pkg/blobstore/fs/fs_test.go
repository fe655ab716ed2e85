package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/blobstore/blobstoretest"
)

func TestStoreContract(t *testing.T) {
	blobstoretest.Run(t, func(t *testing.T) blobstore.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestNew_EmptyRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestList_SkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.WriteFile(ctx, "vocab/el/a1/manifest.json", []byte("{}")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Simulate a crash between CreateTemp and Rename.
	leftover := filepath.Join(root, "vocab", "el", "a1", ".tmp-manifest.json-123")
	if err := os.WriteFile(leftover, []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "vocab")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0] != "vocab/el/a1/manifest.json" {
		t.Errorf("List = %v", got)
	}
}
