// Package vocab implements the vocabulary store: a per-scope,
// content-addressed cache of short synthesised phrases that lessons reuse.
//
// Entries are keyed by [script.Key] of their text and stored as
// sequentially numbered audio files next to a JSON manifest. Filenames are
// allocated monotonically and never reused; a corrupted entry is repaired
// in place under the same filename.
//
// A Store is loaded at the start of work on a scope and saved after each
// batch of mutations. It is not safe for concurrent use: callers serialise
// work per scope.
package vocab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/lingocast/internal/script"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/types"
)

const defaultExtension = ".wav"

// Option is a functional option for Load.
type Option func(*Store)

// WithExtension sets the extension of newly allocated audio files.
func WithExtension(ext string) Option {
	return func(s *Store) {
		s.ext = ext
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Store is the loaded vocabulary of one scope.
type Store struct {
	blobs blobstore.Store
	ext   string
	now   func() time.Time
	log   *slog.Logger

	m      Manifest
	byKey  map[string]int
	byFile map[string]int
	dirty  bool
}

// Load reads the manifest of scope from blobs, or starts an empty one with
// the counter at 1 when none exists.
func Load(ctx context.Context, blobs blobstore.Store, scope types.Scope, opts ...Option) (*Store, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("vocab: load: %w", err)
	}
	s := &Store{
		blobs: blobs,
		ext:   defaultExtension,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	data, err := blobs.ReadFile(ctx, scope.VocabManifestPath())
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		s.m = Manifest{Scope: scope, NextFile: 1}
	case err != nil:
		return nil, fmt.Errorf("vocab: load %s: %w", scope, err)
	default:
		if s.m, err = decodeManifest(data, scope); err != nil {
			return nil, err
		}
	}
	if err := s.m.check(); err != nil {
		return nil, err
	}
	s.reindex()
	s.log.Debug("vocabulary loaded", "scope", scope, "entries", len(s.m.Entries), "next_file", s.m.NextFile)
	return s, nil
}

func (s *Store) reindex() {
	s.byKey = make(map[string]int, len(s.m.Entries))
	s.byFile = make(map[string]int, len(s.m.Entries))
	for i, e := range s.m.Entries {
		s.byKey[e.Key] = i
		s.byFile[e.File] = i
	}
}

// Scope returns the scope this store belongs to.
func (s *Store) Scope() types.Scope { return s.m.Scope }

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.m.Entries) }

// Has reports whether an entry exists for text. The lookup ignores case,
// Unicode composition and whitespace differences.
func (s *Store) Has(text string) bool {
	_, ok := s.byKey[script.Key(text)]
	return ok
}

// Get returns the entry for text.
func (s *Store) Get(text string) (Entry, bool) {
	i, ok := s.byKey[script.Key(text)]
	if !ok {
		return Entry{}, false
	}
	return s.m.Entries[i], true
}

// Lookup returns the entry stored under file.
func (s *Store) Lookup(file string) (Entry, bool) {
	i, ok := s.byFile[file]
	if !ok {
		return Entry{}, false
	}
	return s.m.Entries[i], true
}

// Entries returns a copy of all entries in allocation order.
func (s *Store) Entries() []Entry { return slices.Clone(s.m.Entries) }

// Manifest returns a copy of the in-memory manifest.
func (s *Store) Manifest() Manifest {
	m := s.m
	m.Entries = slices.Clone(s.m.Entries)
	return m
}

// AudioPath returns the blob path of file.
func (s *Store) AudioPath(file string) string { return s.m.Scope.VocabAudioPath(file) }

// ReadAudio returns the audio stored for file.
func (s *Store) ReadAudio(ctx context.Context, file string) ([]byte, error) {
	return s.blobs.ReadFile(ctx, s.AudioPath(file))
}

// Put stores audio for text and returns its filename. When an entry for
// text already exists Put changes nothing and returns the existing
// filename; use Has to tell the two cases apart.
//
// The filename number is consumed even if writing the audio fails, so a
// half-written file can never be claimed by another phrase.
func (s *Store) Put(ctx context.Context, text string, audio []byte, voice, provenance string) (string, error) {
	key := script.Key(text)
	if key == "" {
		return "", errors.New("vocab: put: empty text")
	}
	if i, ok := s.byKey[key]; ok {
		return s.m.Entries[i].File, nil
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("vocab: put %q: empty audio", text)
	}

	file := fileName(s.m.NextFile, s.ext)
	if _, taken := s.byFile[file]; taken {
		return "", fmt.Errorf("%w: %s: counter points at allocated file %s", ErrInvariant, s.m.Scope, file)
	}
	s.m.NextFile++
	s.dirty = true

	if err := s.blobs.WriteFile(ctx, s.AudioPath(file), audio); err != nil {
		return "", fmt.Errorf("vocab: put %q: %w", text, err)
	}

	now := s.now().UTC()
	s.m.Entries = append(s.m.Entries, Entry{
		Text:       script.Normalize(text),
		Key:        key,
		File:       file,
		Voice:      voice,
		Provenance: provenance,
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     StatusOK,
	})
	i := len(s.m.Entries) - 1
	s.byKey[key] = i
	s.byFile[file] = i
	s.log.Debug("vocabulary entry created", "scope", s.m.Scope, "file", file, "text", text)
	return file, nil
}

// Replace overwrites the audio of an existing entry in place, keeping its
// filename, and touches its update timestamp.
func (s *Store) Replace(ctx context.Context, file string, audio []byte) error {
	i, ok := s.byFile[file]
	if !ok {
		return fmt.Errorf("vocab: replace %s: unknown file", file)
	}
	if len(audio) == 0 {
		return fmt.Errorf("vocab: replace %s: empty audio", file)
	}
	if err := s.blobs.WriteFile(ctx, s.AudioPath(file), audio); err != nil {
		return fmt.Errorf("vocab: replace %s: %w", file, err)
	}
	s.m.Entries[i].UpdatedAt = s.now().UTC()
	s.dirty = true
	return nil
}

// SetStatus records the health of file's audio.
func (s *Store) SetStatus(file string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("vocab: set status %s: unknown status %q", file, status)
	}
	i, ok := s.byFile[file]
	if !ok {
		return fmt.Errorf("vocab: set status %s: unknown file", file)
	}
	if s.m.Entries[i].Status != status {
		s.m.Entries[i].Status = status
		s.dirty = true
	}
	return nil
}

// Save flushes the manifest when it has unsaved changes. It is idempotent.
func (s *Store) Save(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	if err := s.m.check(); err != nil {
		return err
	}
	m := s.m
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("vocab: encode manifest: %w", err)
	}
	if err := s.blobs.WriteFile(ctx, s.m.Scope.VocabManifestPath(), data); err != nil {
		return fmt.Errorf("vocab: save %s: %w", s.m.Scope, err)
	}
	s.dirty = false
	return nil
}

// Dirty reports whether the manifest has unsaved changes.
func (s *Store) Dirty() bool { return s.dirty }
