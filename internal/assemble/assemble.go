// Package assemble renders resolved phrases into a lesson's final audio and
// builds the matching timing manifest in the same pass.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/MrWong99/lingocast/internal/resolve"
	"github.com/MrWong99/lingocast/internal/timing"
	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/types"
)

// driftToleranceMs is how far the rendered length may differ from the sum
// of segment durations before a warning is logged. Compressed encoders pad
// frames, so small differences are expected.
const driftToleranceMs = 50

// Piece is one resolved phrase with the silence that follows it. A piece
// without audio contributes only its pause.
type Piece struct {
	Text       string
	Normalized string
	Audio      []byte
	Source     resolve.Source
	PauseMs    int
}

// Option is a functional option for New.
type Option func(*Assembler)

// WithLeadingSilence sets the silence before the first phrase.
func WithLeadingSilence(ms int) Option {
	return func(a *Assembler) {
		a.leadingMs = ms
	}
}

// WithClock replaces time.Now for the manifest timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		a.log = l
	}
}

// Assembler concatenates pieces with a [audio.Toolkit].
type Assembler struct {
	toolkit   audio.Toolkit
	leadingMs int
	now       func() time.Time
	log       *slog.Logger
}

// New creates an Assembler.
func New(tk audio.Toolkit, opts ...Option) *Assembler {
	a := &Assembler{
		toolkit: tk,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Extension returns the extension of the audio this assembler produces.
func (a *Assembler) Extension() string { return a.toolkit.Extension() }

// Assemble renders pieces into one clip and returns it with its timing
// manifest. Segment offsets come from the length each clip occupies in the
// rendered output: toolkits implementing [audio.Layouter] report it
// directly, otherwise every clip is measured on its own.
//
// A piece whose source carries a vocabulary file becomes a vocab segment;
// every other spoken piece is synthesized. Adjacent silences are merged.
func (a *Assembler) Assemble(ctx context.Context, scope types.Scope, lessonID string, pieces []Piece) ([]byte, *timing.Manifest, error) {
	if len(pieces) == 0 {
		return nil, nil, errors.New("assemble: lesson has no phrases")
	}

	fragments := make([][]byte, 0, len(pieces)+1)
	pauses := make([]int, 0, len(pieces)+1)
	lead := 0
	if a.leadingMs > 0 {
		fragments = append(fragments, nil)
		pauses = append(pauses, a.leadingMs)
		lead = 1
	}
	for i, p := range pieces {
		if p.PauseMs < 0 {
			return nil, nil, fmt.Errorf("assemble: piece %d has negative pause", i)
		}
		fragments = append(fragments, p.Audio)
		pauses = append(pauses, p.PauseMs)
	}

	fragMs, pauseMs, err := a.layout(ctx, pieces, lead, fragments, pauses)
	if err != nil {
		return nil, nil, err
	}

	var segs []timing.Segment
	offset := 0
	addSilence := func(ms int) {
		if ms <= 0 {
			return
		}
		if n := len(segs); n > 0 && segs[n-1].Kind == timing.KindSilence {
			segs[n-1].DurationMs += ms
		} else {
			segs = append(segs, timing.Segment{Index: len(segs), StartMs: offset, DurationMs: ms, Kind: timing.KindSilence})
		}
		offset += ms
	}
	for j, frag := range fragments {
		if len(frag) > 0 {
			p := pieces[j-lead]
			seg := timing.Segment{
				Index:      len(segs),
				StartMs:    offset,
				DurationMs: fragMs[j],
				Kind:       timing.KindSynthesized,
				Text:       p.Text,
				Normalized: p.Normalized,
			}
			if p.Source.VocabFile != "" {
				seg.Kind = timing.KindVocab
				seg.VocabFile = p.Source.VocabFile
			}
			segs = append(segs, seg)
			offset += fragMs[j]
		}
		addSilence(pauseMs[j])
	}

	out, err := a.toolkit.ConcatWithSilence(ctx, fragments, pauses)
	if err != nil {
		return nil, nil, fmt.Errorf("assemble: concat: %w", err)
	}
	if got, err := a.toolkit.MeasureDurationMs(ctx, out); err == nil && abs(got-offset) > driftToleranceMs {
		a.log.Warn("rendered lesson length differs from timing",
			"scope", scope, "lesson", lessonID, "rendered_ms", got, "timing_ms", offset)
	}

	m := &timing.Manifest{
		LessonID:        lessonID,
		Scope:           scope,
		AudioFile:       path.Base(scope.LessonAudioPath(lessonID, a.toolkit.Extension())),
		TotalDurationMs: offset,
		CreatedAt:       a.now().UTC(),
		Segments:        segs,
		Dependencies:    timing.BuildDependencies(segs),
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return out, m, nil
}

// layout returns the milliseconds every fragment and pause occupies in the
// rendered clip. pieces[j-lead] is the piece behind fragments[j].
func (a *Assembler) layout(ctx context.Context, pieces []Piece, lead int, fragments [][]byte, pauses []int) ([]int, []int, error) {
	if l, ok := a.toolkit.(audio.Layouter); ok {
		fragMs, pauseMs, err := l.Layout(ctx, fragments, pauses)
		if err != nil {
			return nil, nil, fmt.Errorf("assemble: layout: %w", err)
		}
		return fragMs, pauseMs, nil
	}

	fragMs := make([]int, len(fragments))
	for j, frag := range fragments {
		if len(frag) == 0 {
			continue
		}
		ms, err := a.toolkit.MeasureDurationMs(ctx, frag)
		if err != nil {
			return nil, nil, fmt.Errorf("assemble: measure %q: %w", pieces[j-lead].Text, err)
		}
		fragMs[j] = ms
	}
	return fragMs, pauses, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
