// Package blobstore defines the persistent path-addressed storage the lesson
// pipeline reads and writes: vocabulary audio, manifests, scripts, and final
// lesson audio.
//
// Paths are slash-separated and relative (e.g. "vocab/el/a1/manifest.json").
// Writes are atomic per file; there are no multi-file transactions, so callers
// order their writes (audio before manifest) to keep artifacts consistent.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by ReadFile when the path does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// Store is the abstraction over any blob backend.
//
// Implementations must be safe for concurrent use across distinct paths.
type Store interface {
	// WriteFile stores data under p, replacing any existing content
	// atomically.
	WriteFile(ctx context.Context, p string, data []byte) error

	// ReadFile returns the content stored under p, or an error wrapping
	// ErrNotFound.
	ReadFile(ctx context.Context, p string) ([]byte, error)

	// Exists reports whether p holds content.
	Exists(ctx context.Context, p string) (bool, error)

	// List returns every path below dir (recursively), sorted
	// lexicographically. A missing dir yields an empty list.
	List(ctx context.Context, dir string) ([]string, error)

	// Delete removes p. Deleting a missing path is not an error.
	Delete(ctx context.Context, p string) error
}

// CleanPath validates p and returns its canonical form. Absolute paths,
// parent-directory escapes, and empty paths are rejected.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("blobstore: empty path")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("blobstore: path %q must be relative and slash-separated", p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("blobstore: path %q escapes the store root", p)
	}
	return c, nil
}

// DirPrefix turns a directory argument of List into a prefix that matches
// only paths below it. An empty dir lists the whole store.
func DirPrefix(dir string) (string, error) {
	if dir == "" || dir == "." {
		return "", nil
	}
	c, err := CleanPath(dir)
	if err != nil {
		return "", err
	}
	return c + "/", nil
}
