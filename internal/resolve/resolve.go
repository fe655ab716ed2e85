// Package resolve turns phrases into audio clips with as few synthesis calls
// as possible.
//
// Resolution tries, in order: the per-lesson session cache, the vocabulary
// store (reusable phrases only), and finally the synthesizer. Freshly
// synthesised reusable phrases are written through to the vocabulary store
// so later lessons can reuse them.
//
// An Engine serves one scope and is not safe for concurrent use.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/internal/resilience"
	"github.com/MrWong99/lingocast/internal/script"
	"github.com/MrWong99/lingocast/internal/vocab"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// DefaultProvenance tags vocabulary entries created by the engine.
const DefaultProvenance = "lesson-generator"

// Origin says where a resolved clip came from.
type Origin int

const (
	// OriginSession is a hit in the per-lesson session cache.
	OriginSession Origin = iota
	// OriginVocab is a hit in the vocabulary store.
	OriginVocab
	// OriginSynthesis is a fresh synthesizer call.
	OriginSynthesis
)

// String returns the metric label of o.
func (o Origin) String() string {
	switch o {
	case OriginSession:
		return observe.SourceSession
	case OriginVocab:
		return observe.SourceVocab
	case OriginSynthesis:
		return observe.SourceSynthesis
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// Source describes how a clip was resolved.
type Source struct {
	Origin Origin

	// VocabFile is the vocabulary filename the clip is stored under. It is
	// set for store hits and for reusable phrases written through to the
	// store. Session hits carry it only when provenance tracking is on.
	VocabFile string
}

// Result is one resolved clip.
type Result struct {
	Audio  []byte
	Source Source
}

// Stats counts what an Engine did since the last Reset.
type Stats struct {
	SessionHits  int
	VocabHits    int
	Synthesized  int
	EntriesAdded int
}

// Option is a functional option for New.
type Option func(*Engine)

// WithThrottle sets the minimum gap between consecutive synthesis calls.
func WithThrottle(d time.Duration) Option {
	return func(e *Engine) {
		e.throttle = d
	}
}

// WithRetry sets the retry policy for synthesis calls. Retryable defaults
// to tts.IsTransient.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg
	}
}

// WithCacheProvenance keeps the vocabulary filename on session cache hits,
// so repeated store-backed phrases are recorded as vocabulary segments.
func WithCacheProvenance(track bool) Option {
	return func(e *Engine) {
		e.trackProvenance = track
	}
}

// WithProvenance sets the provenance tag of entries the engine creates.
func WithProvenance(tag string) Option {
	return func(e *Engine) {
		e.provenance = tag
	}
}

// WithProviderName labels synthesis metrics. Defaults to "tts".
func WithProviderName(name string) Option {
	return func(e *Engine) {
		e.provider = name
	}
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

type cacheKey struct {
	voice string
	text  string
}

// Engine resolves phrases for one scope.
type Engine struct {
	synth tts.Synthesizer
	store *vocab.Store

	throttle        time.Duration
	retry           resilience.RetryConfig
	trackProvenance bool
	provenance      string
	provider        string
	metrics         *observe.Metrics
	log             *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	cache     map[cacheKey]Result
	lastSynth time.Time
	stats     Stats
}

// New creates an Engine that synthesises with synth and reuses entries of
// store.
func New(synth tts.Synthesizer, store *vocab.Store, opts ...Option) *Engine {
	e := &Engine{
		synth:      synth,
		store:      store,
		provenance: DefaultProvenance,
		provider:   "tts",
		log:        slog.Default(),
		now:        time.Now,
		sleep:      resilience.Sleep,
		cache:      make(map[cacheKey]Result),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.retry.Retryable == nil {
		e.retry.Retryable = tts.IsTransient
	}
	if e.retry.Logger == nil {
		e.retry.Logger = e.log
	}
	if e.retry.Name == "" {
		e.retry.Name = e.provider
	}
	return e
}

// Reset clears the session cache and statistics. Call it at the start of
// every lesson.
func (e *Engine) Reset() {
	clear(e.cache)
	e.stats = Stats{}
}

// Stats returns the counters accumulated since the last Reset.
func (e *Engine) Stats() Stats { return e.stats }

// Resolve returns the audio for p spoken by voice.
//
// Synthesis failures are returned as-is after retries; the caller aborts
// the lesson. Vocabulary entries created before the failure stay in the
// store and are persisted by the next Save.
func (e *Engine) Resolve(ctx context.Context, p script.Phrase, voice tts.VoiceProfile) (Result, error) {
	if p.Silent() {
		return Result{}, errors.New("resolve: silent phrase has no audio")
	}
	key := cacheKey{voice: voice.ID, text: p.Normalized}

	if r, ok := e.cache[key]; ok {
		e.stats.SessionHits++
		e.metrics.RecordResolve(ctx, observe.SourceSession)
		src := Source{Origin: OriginSession}
		if e.trackProvenance {
			src.VocabFile = r.Source.VocabFile
		}
		return Result{Audio: r.Audio, Source: src}, nil
	}

	if p.Reusable {
		r, ok, err := e.fromVocab(ctx, p, voice)
		if err != nil {
			return Result{}, err
		}
		if ok {
			e.cache[key] = r
			return r, nil
		}
	}

	text := p.Normalized
	if p.Reusable {
		text = p.BareKey
	}
	clip, err := e.synthesize(ctx, text, voice)
	if err != nil {
		return Result{}, fmt.Errorf("resolve: %q: %w", p.Text, err)
	}
	r := Result{Audio: clip, Source: Source{Origin: OriginSynthesis}}

	if p.Reusable {
		created := !e.store.Has(p.BareKey)
		file, err := e.store.Put(ctx, p.BareKey, clip, voice.ID, e.provenance)
		if err != nil {
			return Result{}, fmt.Errorf("resolve: store %q: %w", p.BareKey, err)
		}
		if created {
			e.stats.EntriesAdded++
			observe.Count(ctx, e.metrics.VocabEntriesCreated, e.store.Scope().String(), 1)
		}
		r.Source.VocabFile = file
	}
	e.cache[key] = r
	return r, nil
}

// fromVocab looks p up in the vocabulary store. An entry whose audio has
// gone missing is re-synthesised into its original filename.
func (e *Engine) fromVocab(ctx context.Context, p script.Phrase, voice tts.VoiceProfile) (Result, bool, error) {
	entry, ok := e.store.Get(p.BareKey)
	if !ok {
		return Result{}, false, nil
	}
	clip, err := e.store.ReadAudio(ctx, entry.File)
	switch {
	case err == nil:
		e.stats.VocabHits++
		e.metrics.RecordResolve(ctx, observe.SourceVocab)
		return Result{Audio: clip, Source: Source{Origin: OriginVocab, VocabFile: entry.File}}, true, nil
	case !errors.Is(err, blobstore.ErrNotFound):
		return Result{}, false, fmt.Errorf("resolve: read %s: %w", entry.File, err)
	}

	e.log.Warn("vocabulary audio missing, re-synthesising in place",
		"scope", e.store.Scope(), "file", entry.File, "text", entry.Text)
	v := voice
	if entry.Voice != "" {
		v.ID = entry.Voice
	}
	clip, err = e.synthesize(ctx, entry.Text, v)
	if err != nil {
		return Result{}, false, fmt.Errorf("resolve: restore %s: %w", entry.File, err)
	}
	if err := e.store.Replace(ctx, entry.File, clip); err != nil {
		return Result{}, false, err
	}
	if entry.Status != vocab.StatusPatchPending {
		if err := e.store.SetStatus(entry.File, vocab.StatusOK); err != nil {
			return Result{}, false, err
		}
	}
	return Result{Audio: clip, Source: Source{Origin: OriginSynthesis, VocabFile: entry.File}}, true, nil
}

// synthesize calls the synthesizer with throttling and retries.
func (e *Engine) synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return resilience.Retry(ctx, e.retry, func(ctx context.Context) ([]byte, error) {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		start := e.now()
		e.lastSynth = start
		clip, err := e.synth.Synthesize(ctx, text, voice)
		if err == nil && len(clip) == 0 {
			err = tts.ErrEmptyAudio
		}
		e.metrics.RecordSynthesis(ctx, e.provider, outcome(err), e.now().Sub(start).Seconds())
		if err != nil {
			return nil, err
		}
		e.stats.Synthesized++
		return clip, nil
	})
}

// wait enforces the throttle gap since the previous synthesis call.
func (e *Engine) wait(ctx context.Context) error {
	if e.throttle <= 0 || e.lastSynth.IsZero() {
		return ctx.Err()
	}
	return e.sleep(ctx, e.throttle-e.now().Sub(e.lastSynth))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case tts.IsTransient(err):
		return "transient"
	default:
		return "fatal"
	}
}
