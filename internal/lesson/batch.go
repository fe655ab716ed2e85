package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lingocast/internal/assemble"
	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/internal/resolve"
	"github.com/MrWong99/lingocast/internal/timing"
	"github.com/MrWong99/lingocast/internal/vocab"
	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
	"github.com/MrWong99/lingocast/pkg/types"
)

// Failure is a lesson that could not be generated.
type Failure struct {
	LessonID string
	Err      error
}

// Report summarises a batch run over one scope.
type Report struct {
	Scope          types.Scope
	Generated      []string
	Skipped        []string
	Failed         []Failure
	EntriesCreated int
	Synthesized    int
}

// Option is a functional option for NewBatch.
type Option func(*Batch)

// WithForce regenerates lessons that already have a timing manifest.
func WithForce(force bool) Option {
	return func(b *Batch) {
		b.force = force
	}
}

// WithEngineOptions passes options to every resolution engine the batch
// creates.
func WithEngineOptions(opts ...resolve.Option) Option {
	return func(b *Batch) {
		b.engineOpts = append(b.engineOpts, opts...)
	}
}

// WithAssemblerOptions passes options to the assembler.
func WithAssemblerOptions(opts ...assemble.Option) Option {
	return func(b *Batch) {
		b.assemblerOpts = append(b.assemblerOpts, opts...)
	}
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Batch) {
		b.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Batch) {
		b.log = l
	}
}

// Batch generates every lesson script of a scope.
type Batch struct {
	blobs   blobstore.Store
	synth   tts.Synthesizer
	toolkit audio.Toolkit

	force         bool
	engineOpts    []resolve.Option
	assemblerOpts []assemble.Option
	metrics       *observe.Metrics
	log           *slog.Logger
}

// NewBatch creates a Batch.
func NewBatch(blobs blobstore.Store, synth tts.Synthesizer, tk audio.Toolkit, opts ...Option) *Batch {
	b := &Batch{blobs: blobs, synth: synth, toolkit: tk, log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Run generates the lessons of scope in script order. A lesson that fails
// is logged and reported, and the run continues. The vocabulary manifest is
// saved after every lesson, aborted ones included.
//
// An error is returned when ctx is done, the scope's state cannot be read
// or saved, or an invariant is violated.
func (b *Batch) Run(ctx context.Context, scope types.Scope, voice tts.VoiceProfile) (rep Report, err error) {
	rep.Scope = scope
	log := b.log.With("scope", scope)

	store, err := vocab.Load(ctx, b.blobs, scope, vocab.WithExtension(b.toolkit.Extension()), vocab.WithLogger(b.log))
	if err != nil {
		return rep, err
	}
	engineOpts := append([]resolve.Option{resolve.WithLogger(b.log), resolve.WithMetrics(b.metrics)}, b.engineOpts...)
	engine := resolve.New(b.synth, store, engineOpts...)
	assemblerOpts := append([]assemble.Option{assemble.WithLogger(b.log)}, b.assemblerOpts...)
	gen := NewGenerator(b.blobs, engine, assemble.New(b.toolkit, assemblerOpts...))

	ids, err := b.scripts(ctx, scope)
	if err != nil {
		return rep, err
	}
	log.Info("generating lessons", "scripts", len(ids), "entries", store.Len())

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !b.force {
			exists, err := b.blobs.Exists(ctx, scope.TimingPath(id))
			if err != nil {
				return rep, fmt.Errorf("lesson: %w", err)
			}
			if exists {
				log.Debug("lesson already generated", "lesson", id)
				rep.Skipped = append(rep.Skipped, id)
				continue
			}
		}

		out, genErr := b.generate(ctx, gen, scope, id, voice)
		rep.EntriesCreated += out.Stats.EntriesAdded
		rep.Synthesized += out.Stats.Synthesized
		if err := store.Save(ctx); err != nil {
			return rep, err
		}

		switch {
		case genErr == nil:
			rep.Generated = append(rep.Generated, id)
			observe.Count(ctx, b.metrics.LessonsAssembled, scope.String(), 1)
			log.Info("lesson generated", "lesson", id,
				"duration_ms", out.Manifest.TotalDurationMs, "segments", len(out.Manifest.Segments),
				"synthesized", out.Stats.Synthesized, "session_hits", out.Stats.SessionHits, "vocab_hits", out.Stats.VocabHits)
		case isFatal(genErr) || ctx.Err() != nil:
			return rep, genErr
		default:
			rep.Failed = append(rep.Failed, Failure{LessonID: id, Err: genErr})
			observe.Count(ctx, b.metrics.LessonsFailed, scope.String(), 1)
			log.Warn("lesson aborted", "lesson", id, "err", genErr)
		}
	}
	return rep, nil
}

func (b *Batch) generate(ctx context.Context, gen *Generator, scope types.Scope, id string, voice tts.VoiceProfile) (Outcome, error) {
	raw, err := b.blobs.ReadFile(ctx, scope.ScriptPath(id))
	if err != nil {
		return Outcome{}, fmt.Errorf("lesson %s: read script: %w", id, err)
	}
	return gen.Generate(ctx, scope, id, string(raw), voice)
}

// scripts returns the lesson IDs of all scripts in scope, sorted.
func (b *Batch) scripts(ctx context.Context, scope types.Scope) ([]string, error) {
	paths, err := b.blobs.List(ctx, scope.ScriptDir())
	if err != nil {
		return nil, fmt.Errorf("lesson: list scripts of %s: %w", scope, err)
	}
	var ids []string
	for _, p := range paths {
		if id, ok := scope.LessonIDFromScript(p); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// isFatal reports whether err must stop all work on the scope.
func isFatal(err error) bool {
	return errors.Is(err, vocab.ErrInvariant) || errors.Is(err, timing.ErrInvariant)
}
