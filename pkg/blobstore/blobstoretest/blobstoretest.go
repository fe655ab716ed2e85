// Package blobstoretest provides a behavioural test suite every
// blobstore.Store implementation must pass.
package blobstoretest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/lingocast/pkg/blobstore"
)

// Run exercises the Store contract against stores produced by newStore. Each
// sub-test receives a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) blobstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("WriteThenRead", func(t *testing.T) {
		s := newStore(t)
		if err := s.WriteFile(ctx, "vocab/el/a1/audio/00001.wav", []byte("one")); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		got, err := s.ReadFile(ctx, "vocab/el/a1/audio/00001.wav")
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(got) != "one" {
			t.Errorf("ReadFile = %q, want %q", got, "one")
		}
	})

	t.Run("OverwriteReplaces", func(t *testing.T) {
		s := newStore(t)
		_ = s.WriteFile(ctx, "a/b.json", []byte("old content"))
		if err := s.WriteFile(ctx, "a/b.json", []byte("new")); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		got, _ := s.ReadFile(ctx, "a/b.json")
		if string(got) != "new" {
			t.Errorf("ReadFile = %q, want %q", got, "new")
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.ReadFile(ctx, "nope/missing.wav"); !errors.Is(err, blobstore.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		s := newStore(t)
		_ = s.WriteFile(ctx, "lessons/el/a1/l1/lesson.wav", []byte("x"))
		ok, err := s.Exists(ctx, "lessons/el/a1/l1/lesson.wav")
		if err != nil || !ok {
			t.Errorf("Exists(file) = (%v, %v), want (true, nil)", ok, err)
		}
		ok, err = s.Exists(ctx, "lessons/el/a1/l1/timing.json")
		if err != nil || ok {
			t.Errorf("Exists(missing) = (%v, %v), want (false, nil)", ok, err)
		}
		ok, err = s.Exists(ctx, "lessons/el/a1/l1")
		if err != nil || ok {
			t.Errorf("Exists(dir) = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("ListRecursiveSorted", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{
			"lessons/el/a1/l2/timing.json",
			"lessons/el/a1/l1/timing.json",
			"lessons/el/a1/l1/lesson.wav",
			"lessons/el/a10/l9/timing.json",
			"vocab/el/a1/manifest.json",
		} {
			if err := s.WriteFile(ctx, p, []byte("x")); err != nil {
				t.Fatalf("WriteFile(%s): %v", p, err)
			}
		}
		got, err := s.List(ctx, "lessons/el/a1")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []string{
			"lessons/el/a1/l1/lesson.wav",
			"lessons/el/a1/l1/timing.json",
			"lessons/el/a1/l2/timing.json",
		}
		if !slices.Equal(got, want) {
			t.Errorf("List = %v, want %v", got, want)
		}
	})

	t.Run("ListMissingDir", func(t *testing.T) {
		s := newStore(t)
		got, err := s.List(ctx, "scripts/zz/z9")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("List = %v, want empty", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		_ = s.WriteFile(ctx, "lessons/el/a1/l1/timing.json", []byte("x"))
		_ = s.WriteFile(ctx, "lessons/el/a1/l1/lesson.wav", []byte("y"))
		if err := s.Delete(ctx, "lessons/el/a1/l1/timing.json"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if ok, _ := s.Exists(ctx, "lessons/el/a1/l1/timing.json"); ok {
			t.Error("deleted path still exists")
		}
		if ok, _ := s.Exists(ctx, "lessons/el/a1/l1/lesson.wav"); !ok {
			t.Error("Delete removed a sibling path")
		}
		if err := s.Delete(ctx, "lessons/el/a1/l1/timing.json"); err != nil {
			t.Errorf("Delete(missing) = %v, want nil", err)
		}
	})

	t.Run("RejectsEscapingPaths", func(t *testing.T) {
		s := newStore(t)
		if err := s.WriteFile(ctx, "../outside", []byte("x")); err == nil {
			t.Error("WriteFile accepted a path outside the root")
		}
		if _, err := s.ReadFile(ctx, "/abs"); err == nil {
			t.Error("ReadFile accepted an absolute path")
		}
	})
}
