// Package memory provides an in-memory blobstore.Store for tests and dry runs.
//
// Besides the Store contract it exposes fault injection (FailWrites) and a
// write log so tests can assert on write ordering, e.g. that lesson audio is
// persisted before its timing manifest.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/lingocast/pkg/blobstore"
)

// Compile-time interface assertion.
var _ blobstore.Store = (*Store)(nil)

// Store is a map-backed blob store. The zero value is ready to use.
type Store struct {
	mu    sync.Mutex
	files map[string][]byte

	// FailWrites maps paths to errors returned by WriteFile for that path.
	// The blob is left untouched when a write fails.
	FailWrites map[string]error

	// FailDeletes maps paths to errors returned by Delete for that path.
	FailDeletes map[string]error

	// Writes records every successful WriteFile path in order.
	Writes []string
}

// New returns an empty Store.
func New() *Store { return &Store{} }

// WriteFile implements blobstore.Store.
func (s *Store) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailWrites[c]; err != nil {
		return fmt.Errorf("memory store: write %s: %w", c, err)
	}
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[c] = slices.Clone(data)
	s.Writes = append(s.Writes, c)
	return nil
}

// ReadFile implements blobstore.Store.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[c]
	if !ok {
		return nil, fmt.Errorf("memory store: read %s: %w", c, blobstore.ErrNotFound)
	}
	return slices.Clone(data), nil
}

// Exists implements blobstore.Store.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[c]
	return ok, nil
}

// List implements blobstore.Store.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, err := blobstore.DirPrefix(dir)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range slices.Sorted(maps.Keys(s.files)) {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Delete implements blobstore.Store. Tests also use it to simulate lost
// files.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailDeletes[c]; err != nil {
		return fmt.Errorf("memory store: delete %s: %w", c, err)
	}
	delete(s.files, c)
	return nil
}

// Snapshot returns a copy of every stored blob keyed by path.
func (s *Store) Snapshot() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.files))
	for k, v := range s.files {
		out[k] = slices.Clone(v)
	}
	return out
}
