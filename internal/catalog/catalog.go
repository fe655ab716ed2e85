// Package catalog derives the lesson directory that delivery tooling
// publishes from what is actually in the blob store.
package catalog

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/lingocast/internal/timing"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/types"
)

// Status is the state of one lesson on disk.
type Status string

const (
	// StatusGenerated means audio and timing manifest both exist.
	StatusGenerated Status = "generated"
	// StatusPending means a script exists but the lesson was not assembled.
	StatusPending Status = "pending"
	// StatusInconsistent means the timing manifest is unreadable, its audio
	// is missing, or a patch of the audio was interrupted.
	StatusInconsistent Status = "inconsistent"
)

// Lesson is one catalog row.
type Lesson struct {
	Language     string     `json:"language"`
	Level        string     `json:"level"`
	LessonID     string     `json:"lesson_id"`
	AudioPath    string     `json:"audio_path,omitempty"`
	TimingPath   string     `json:"timing_path,omitempty"`
	DurationMs   int        `json:"duration_ms"`
	Segments     int        `json:"segments"`
	Status       Status     `json:"status"`
	LastRepairAt *time.Time `json:"last_repair_at,omitempty"`
}

// Catalog is the directory of all known lessons.
type Catalog struct {
	GeneratedAt time.Time `json:"generated_at"`
	Lessons     []Lesson  `json:"lessons"`
}

// Count returns how many lessons have status s.
func (c *Catalog) Count(s Status) int {
	n := 0
	for _, l := range c.Lessons {
		if l.Status == s {
			n++
		}
	}
	return n
}

// Option is a functional option for NewBuilder.
type Option func(*Builder)

// WithClock replaces time.Now for the catalog timestamp.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

// Builder scans a blob store for scripts and lessons.
type Builder struct {
	blobs blobstore.Store
	now   func() time.Time
	log   *slog.Logger
}

// NewBuilder creates a Builder over blobs.
func NewBuilder(blobs blobstore.Store, opts ...Option) *Builder {
	b := &Builder{blobs: blobs, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

type lessonKey struct {
	scope types.Scope
	id    string
}

// Build lists every script and timing manifest and returns the catalog,
// sorted by language, level and lesson ID.
func (b *Builder) Build(ctx context.Context) (*Catalog, error) {
	found := make(map[lessonKey]bool) // value: has timing manifest

	scripts, err := b.blobs.List(ctx, types.ScriptRoot)
	if err != nil {
		return nil, fmt.Errorf("catalog: list scripts: %w", err)
	}
	for _, p := range scripts {
		sc, ok := types.ScopeOf(p)
		if !ok {
			continue
		}
		if id, ok := sc.LessonIDFromScript(p); ok {
			if _, seen := found[lessonKey{sc, id}]; !seen {
				found[lessonKey{sc, id}] = false
			}
		}
	}

	lessons, err := b.blobs.List(ctx, types.LessonRoot)
	if err != nil {
		return nil, fmt.Errorf("catalog: list lessons: %w", err)
	}
	for _, p := range lessons {
		sc, ok := types.ScopeOf(p)
		if !ok {
			continue
		}
		if id, ok := sc.IsTimingPath(p); ok {
			found[lessonKey{sc, id}] = true
		}
	}

	c := &Catalog{GeneratedAt: b.now().UTC(), Lessons: make([]Lesson, 0, len(found))}
	for k, hasTiming := range found {
		l := Lesson{Language: k.scope.Language, Level: k.scope.Level, LessonID: k.id, Status: StatusPending}
		if hasTiming {
			if err := b.describe(ctx, k, &l); err != nil {
				return nil, err
			}
		}
		c.Lessons = append(c.Lessons, l)
	}
	slices.SortFunc(c.Lessons, func(x, y Lesson) int {
		return cmp.Or(
			cmp.Compare(x.Language, y.Language),
			cmp.Compare(x.Level, y.Level),
			cmp.Compare(x.LessonID, y.LessonID),
		)
	})
	return c, nil
}

// describe fills l from the lesson's timing manifest and audio.
func (b *Builder) describe(ctx context.Context, k lessonKey, l *Lesson) error {
	l.TimingPath = k.scope.TimingPath(k.id)
	m, err := timing.Load(ctx, b.blobs, k.scope, k.id)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Warn("unreadable timing manifest", "scope", k.scope, "lesson", k.id, "err", err)
		l.Status = StatusInconsistent
		return nil
	}
	l.AudioPath = m.AudioPath()
	l.DurationMs = m.TotalDurationMs
	l.Segments = len(m.Segments)
	l.LastRepairAt = m.LastRepairAt

	ok, err := b.blobs.Exists(ctx, l.AudioPath)
	if err != nil {
		return fmt.Errorf("catalog: %s: %w", l.AudioPath, err)
	}
	if !ok {
		b.log.Warn("lesson audio missing", "scope", k.scope, "lesson", k.id, "path", l.AudioPath)
		l.Status = StatusInconsistent
		return nil
	}
	if m.PendingPatch != nil {
		b.log.Warn("lesson patch interrupted", "scope", k.scope, "lesson", k.id, "at", m.PendingPatch.At)
		l.Status = StatusInconsistent
		return nil
	}
	l.Status = StatusGenerated
	return nil
}

// Write stores c at the catalog path.
func (b *Builder) Write(ctx context.Context, c *Catalog) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	if err := b.blobs.WriteFile(ctx, types.CatalogPath, data); err != nil {
		return fmt.Errorf("catalog: write: %w", err)
	}
	return nil
}
