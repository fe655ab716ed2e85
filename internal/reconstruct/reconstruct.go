// Package reconstruct patches assembled lessons after vocabulary entries
// were repaired, without re-rendering the rest of the lesson.
//
// Every lesson whose timing manifest depends on a repaired file gets one
// mix: the existing lesson audio plus each repaired fragment delayed to its
// segment's start offset. Segment offsets and durations never change.
//
// A patch is recorded in the manifest before the patched audio is written,
// so an interrupted patch is finished or discarded on the next run instead
// of being mixed twice.
package reconstruct

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/internal/timing"
	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/types"
)

// Status is the outcome for one affected lesson.
type Status string

const (
	// StatusPatched means the audio and manifest were both updated.
	StatusPatched Status = "patched"
	// StatusSkipped means no affected segment had a readable fragment.
	StatusSkipped Status = "skipped"
	// StatusFailed means nothing was written for the lesson.
	StatusFailed Status = "failed"
	// StatusInconsistent means the audio was patched but the manifest could
	// not be updated. The next run completes the manifest from the pending
	// patch record.
	StatusInconsistent Status = "inconsistent"
)

// LessonReport is the result for one affected lesson.
type LessonReport struct {
	LessonID string
	Status   Status
	// Patched lists the segment indices mixed into the lesson audio.
	Patched []int
	// Missing lists affected segment indices whose fragment was missing.
	Missing []int
	// Unpatched lists the vocabulary files this lesson still has to receive.
	Unpatched []string
	Err       error
}

// Report is the result of one Reconstruct call.
type Report struct {
	Scope   types.Scope
	Lessons []LessonReport
	// Malformed lists lessons whose timing manifest could not be decoded.
	Malformed []string
}

// Count returns how many lessons ended with status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, l := range r.Lessons {
		if l.Status == s {
			n++
		}
	}
	return n
}

// Unpatched returns every vocabulary file some lesson still has to receive.
func (r Report) Unpatched() map[string]struct{} {
	out := make(map[string]struct{})
	for _, l := range r.Lessons {
		for _, f := range l.Unpatched {
			out[f] = struct{}{}
		}
	}
	return out
}

// Fix is a repaired vocabulary file and the time its audio was replaced.
type Fix struct {
	File       string
	RepairedAt time.Time
}

// Option is a functional option for New.
type Option func(*Reconstructor)

// WithReadConcurrency bounds parallel fragment reads per lesson.
func WithReadConcurrency(n int) Option {
	return func(r *Reconstructor) {
		r.readers = n
	}
}

// WithClock replaces time.Now for repair timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconstructor) {
		r.now = now
	}
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reconstructor) {
		r.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconstructor) {
		r.log = l
	}
}

// Reconstructor patches lesson audio in a blob store.
type Reconstructor struct {
	blobs   blobstore.Store
	toolkit audio.Toolkit
	readers int
	now     func() time.Time
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Reconstructor.
func New(blobs blobstore.Store, tk audio.Toolkit, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		blobs:   blobs,
		toolkit: tk,
		readers: 4,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Reconstruct patches every lesson of scope that depends on one of files
// (vocabulary filenames), regardless of earlier patches. With no files it
// does nothing.
func (r *Reconstructor) Reconstruct(ctx context.Context, scope types.Scope, files []string) (Report, error) {
	fixes := make([]Fix, len(files))
	for i, f := range files {
		fixes[i] = Fix{File: f}
	}
	return r.ReconstructFixes(ctx, scope, fixes)
}

// ReconstructFixes patches every segment of scope that depends on a fixed
// file and was neither assembled nor patched since the fix. Calling it again
// with the same fixes only touches lessons that were not patched before.
//
// Per-lesson problems are recorded in the report. An error is returned only
// when ctx is done, the lessons cannot be listed, or a manifest breaks a
// timing invariant, which stops work on the scope.
func (r *Reconstructor) ReconstructFixes(ctx context.Context, scope types.Scope, fixes []Fix) (Report, error) {
	rep := Report{Scope: scope}
	if len(fixes) == 0 {
		return rep, nil
	}
	repaired := make(map[string]time.Time, len(fixes))
	for _, f := range fixes {
		repaired[f.File] = f.RepairedAt
	}

	ids, err := timing.List(ctx, r.blobs, scope)
	if err != nil {
		return rep, fmt.Errorf("reconstruct: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		m, err := timing.Load(ctx, r.blobs, scope, id)
		switch {
		case errors.Is(err, timing.ErrMalformed):
			r.log.Warn("skipping lesson with malformed timing manifest", "scope", scope, "lesson", id, "err", err)
			rep.Malformed = append(rep.Malformed, id)
			continue
		case err != nil:
			return rep, fmt.Errorf("reconstruct: lesson %s: %w", id, err)
		}

		var settleErr error
		if m.PendingPatch != nil {
			if settleErr = r.settle(ctx, m); settleErr != nil {
				r.log.Warn("interrupted lesson patch not settled", "scope", scope, "lesson", id, "err", settleErr)
			}
		}
		affected := m.Affected(repaired)
		if len(affected) == 0 {
			continue
		}
		var lr LessonReport
		if settleErr != nil {
			lr = LessonReport{LessonID: id, Status: StatusFailed, Unpatched: filesOf(m, affected), Err: settleErr}
		} else {
			lr = r.patch(ctx, m, affected)
		}
		if lr.Err != nil && ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Lessons = append(rep.Lessons, lr)
	}
	observe.Count(ctx, r.metrics.ReconstructPatched, scope.String(), rep.Count(StatusPatched))
	return rep, nil
}

// settle resolves a patch interrupted after its pending record was saved.
// When the lesson audio matches the recorded hash the patch landed and its
// segments are marked patched; otherwise the record is dropped. m is only
// changed when the resolved manifest was saved.
func (r *Reconstructor) settle(ctx context.Context, m *timing.Manifest) error {
	log := r.log.With("scope", m.Scope, "lesson", m.LessonID)
	p := m.PendingPatch
	current, err := r.blobs.ReadFile(ctx, m.AudioPath())
	if err != nil {
		return fmt.Errorf("reconstruct: read lesson audio: %w", err)
	}

	next := *m
	next.Segments = slices.Clone(m.Segments)
	next.PendingPatch = nil
	if digest(current) == p.AudioSHA256 {
		next.MarkPatched(p.At, p.Segments)
		log.Info("completing interrupted lesson patch", "segments", p.Segments)
	} else {
		log.Warn("discarding interrupted lesson patch, audio was not replaced", "segments", p.Segments)
	}
	if err := timing.Save(ctx, r.blobs, &next); err != nil {
		return fmt.Errorf("reconstruct: settle pending patch: %w", err)
	}
	*m = next
	return nil
}

// patch mixes the fragments of the affected segments into one lesson.
func (r *Reconstructor) patch(ctx context.Context, m *timing.Manifest, affected []int) (lr LessonReport) {
	ctx, span := observe.StartSpan(ctx, "reconstruct.lesson")
	span.SetAttributes(
		attribute.String("lesson", m.LessonID),
		attribute.Int("segments", len(affected)),
	)
	defer func() {
		span.SetAttributes(attribute.String("status", string(lr.Status)))
		observe.EndSpan(span, lr.Err)
	}()

	log := observe.Logger(ctx, r.log).With("scope", m.Scope, "lesson", m.LessonID)
	lr = LessonReport{LessonID: m.LessonID}
	fail := func(err error) LessonReport {
		log.Warn("lesson not patched", "err", err)
		lr.Status = StatusFailed
		lr.Patched = nil
		lr.Unpatched = filesOf(m, affected)
		lr.Err = err
		return lr
	}

	base, err := r.blobs.ReadFile(ctx, m.AudioPath())
	if err != nil {
		return fail(fmt.Errorf("reconstruct: read lesson audio: %w", err))
	}

	fragments, err := r.readFragments(ctx, m, affected)
	if err != nil {
		return fail(err)
	}

	var overlays []audio.Overlay
	for _, idx := range affected {
		seg := m.Segments[idx]
		clip, ok := fragments[seg.VocabFile]
		if !ok {
			log.Warn("repaired fragment missing, skipping segment", "segment", idx, "file", seg.VocabFile)
			lr.Missing = append(lr.Missing, idx)
			continue
		}
		overlays = append(overlays, audio.Overlay{Audio: clip, DelayMs: seg.StartMs})
		lr.Patched = append(lr.Patched, idx)
	}
	lr.Unpatched = filesOf(m, lr.Missing)
	if len(overlays) == 0 {
		log.Warn("no repairable segments, lesson left unchanged")
		lr.Status = StatusSkipped
		return lr
	}

	mixed, err := r.toolkit.MixWithDelays(ctx, base, overlays)
	if err != nil {
		return fail(fmt.Errorf("reconstruct: mix: %w", err))
	}

	now := r.now().UTC()
	pending := *m
	pending.PendingPatch = &timing.PendingPatch{At: now, Segments: lr.Patched, AudioSHA256: digest(mixed)}
	if err := timing.Save(ctx, r.blobs, &pending); err != nil {
		return fail(fmt.Errorf("reconstruct: record pending patch: %w", err))
	}
	if err := r.blobs.WriteFile(ctx, m.AudioPath(), mixed); err != nil {
		if rerr := timing.Save(context.WithoutCancel(ctx), r.blobs, m); rerr != nil {
			log.Warn("pending patch record left behind", "err", rerr)
		}
		return fail(fmt.Errorf("reconstruct: write lesson audio: %w", err))
	}

	m.MarkPatched(now, lr.Patched)
	if err := timing.Save(ctx, r.blobs, m); err != nil {
		log.Error("lesson audio patched but timing manifest not updated", "err", err)
		lr.Status = StatusInconsistent
		lr.Unpatched = filesOf(m, affected)
		lr.Err = err
		return lr
	}
	log.Info("lesson patched", "segments", lr.Patched)
	lr.Status = StatusPatched
	return lr
}

// filesOf returns the sorted vocabulary files behind segments idx.
func filesOf(m *timing.Manifest, idx []int) []string {
	var out []string
	for _, i := range idx {
		if f := m.Segments[i].VocabFile; !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// readFragments loads the vocabulary audio of the affected segments
// concurrently. Missing files are left out of the result.
func (r *Reconstructor) readFragments(ctx context.Context, m *timing.Manifest, affected []int) (map[string][]byte, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]byte)
	)
	seen := make(map[string]struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.readers, 1))
	for _, idx := range affected {
		file := m.Segments[idx].VocabFile
		if _, ok := seen[file]; ok {
			continue
		}
		seen[file] = struct{}{}
		g.Go(func() error {
			clip, err := r.blobs.ReadFile(gctx, m.Scope.VocabAudioPath(file))
			switch {
			case errors.Is(err, blobstore.ErrNotFound):
				return nil
			case err != nil:
				return fmt.Errorf("reconstruct: read %s: %w", file, err)
			}
			mu.Lock()
			out[file] = clip
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
