// Package lesson drives lesson generation: it reads scripts, resolves their
// phrases to audio, assembles each lesson and persists the result.
package lesson

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/lingocast/internal/assemble"
	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/internal/resolve"
	"github.com/MrWong99/lingocast/internal/script"
	"github.com/MrWong99/lingocast/internal/timing"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
	"github.com/MrWong99/lingocast/pkg/types"
)

// ErrEmptyScript is returned for a script without any spoken phrase.
var ErrEmptyScript = errors.New("lesson: script has no spoken phrases")

// Generator builds single lessons of one scope.
type Generator struct {
	blobs     blobstore.Store
	engine    *resolve.Engine
	assembler *assemble.Assembler
}

// NewGenerator creates a Generator. engine must serve the same scope as the
// lessons passed to Generate.
func NewGenerator(blobs blobstore.Store, engine *resolve.Engine, assembler *assemble.Assembler) *Generator {
	return &Generator{blobs: blobs, engine: engine, assembler: assembler}
}

// Outcome describes one generated lesson.
type Outcome struct {
	Manifest *timing.Manifest
	Stats    resolve.Stats
}

// Generate tokenizes raw, resolves and assembles it, then writes the lesson
// audio followed by its timing manifest. Nothing is written for the lesson
// when any phrase fails to resolve. An existing manifest is removed before
// the audio is replaced.
func (g *Generator) Generate(ctx context.Context, scope types.Scope, lessonID, raw string, voice tts.VoiceProfile) (out Outcome, err error) {
	ctx, span := observe.StartSpan(ctx, "lesson.generate")
	span.SetAttributes(attribute.String("scope", scope.String()), attribute.String("lesson", lessonID))
	defer func() { observe.EndSpan(span, err) }()

	phrases := script.Tokenize(raw)
	pieces := make([]assemble.Piece, 0, len(phrases))
	spoken := 0
	g.engine.Reset()
	for _, p := range phrases {
		if p.Silent() {
			pieces = append(pieces, assemble.Piece{PauseMs: p.PauseMs})
			continue
		}
		r, err := g.engine.Resolve(ctx, p, voice)
		if err != nil {
			return Outcome{Stats: g.engine.Stats()}, fmt.Errorf("lesson %s: %w", lessonID, err)
		}
		pieces = append(pieces, assemble.Piece{
			Text:       p.Text,
			Normalized: p.Normalized,
			Audio:      r.Audio,
			Source:     r.Source,
			PauseMs:    p.PauseMs,
		})
		spoken++
	}
	if spoken == 0 {
		return Outcome{}, fmt.Errorf("lesson %s: %w", lessonID, ErrEmptyScript)
	}

	clip, m, err := g.assembler.Assemble(ctx, scope, lessonID, pieces)
	if err != nil {
		return Outcome{Stats: g.engine.Stats()}, fmt.Errorf("lesson %s: %w", lessonID, err)
	}
	// A manifest left from an earlier run would describe the audio about to
	// be replaced; drop it first so a failed manifest write leaves the lesson
	// pending rather than mismatched.
	if err := g.blobs.Delete(ctx, scope.TimingPath(lessonID)); err != nil {
		return Outcome{Stats: g.engine.Stats()}, fmt.Errorf("lesson %s: drop stale manifest: %w", lessonID, err)
	}
	if err := g.blobs.WriteFile(ctx, m.AudioPath(), clip); err != nil {
		return Outcome{Stats: g.engine.Stats()}, fmt.Errorf("lesson %s: write audio: %w", lessonID, err)
	}
	if err := timing.Save(ctx, g.blobs, m); err != nil {
		return Outcome{Stats: g.engine.Stats()}, fmt.Errorf("lesson %s: %w", lessonID, err)
	}
	span.SetAttributes(attribute.Int("segments", len(m.Segments)), attribute.Int("duration_ms", m.TotalDurationMs))
	return Outcome{Manifest: m, Stats: g.engine.Stats()}, nil
}
