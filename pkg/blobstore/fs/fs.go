// Package fs implements blobstore.Store on a local directory tree.
//
// Writes go to a temporary file in the destination directory followed by a
// rename, so readers never observe a partially written blob.
package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MrWong99/lingocast/pkg/blobstore"
)

// Compile-time interface assertion.
var _ blobstore.Store = (*Store)(nil)

// Store is a filesystem-backed blob store rooted at a directory.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("fs store: root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fs store: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("fs store: create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) resolve(p string) (string, error) {
	c, err := blobstore.CleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(c)), nil
}

// WriteFile implements blobstore.Store.
func (s *Store) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fs store: write %s: %w", p, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(full)+"-*")
	if err != nil {
		return fmt.Errorf("fs store: write %s: %w", p, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("fs store: write %s: %w", p, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("fs store: sync %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("fs store: close %s: %w", p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		cleanup()
		return fmt.Errorf("fs store: rename %s: %w", p, err)
	}
	return nil
}

// ReadFile implements blobstore.Store.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("fs store: read %s: %w", p, blobstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fs store: read %s: %w", p, err)
	}
	return data, nil
}

// Exists implements blobstore.Store.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("fs store: stat %s: %w", p, err)
	default:
		return info.Mode().IsRegular(), nil
	}
}

// Delete implements blobstore.Store.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("fs store: delete %s: %w", p, err)
	}
	return nil
}

// List implements blobstore.Store. Temporary files from interrupted writes
// are not listed.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	prefix, err := blobstore.DirPrefix(dir)
	if err != nil {
		return nil, err
	}
	start := filepath.Join(s.root, filepath.FromSlash(prefix))

	var out []string
	err = filepath.WalkDir(start, func(full string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return iofs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs store: list %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
