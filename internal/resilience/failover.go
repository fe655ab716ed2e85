package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// ErrAllFailed is returned when no backend of a [Failover] produced a clip.
// The error of the last backend called stays in the chain, or
// [ErrCircuitOpen] when none was called.
var ErrAllFailed = errors.New("resilience: all synthesizers failed")

// FailoverConfig configures a [Failover].
type FailoverConfig struct {
	// Breaker is the template of every backend's breaker. Name is replaced
	// by the backend name, and IsFailure defaults to [tts.IsTransient].
	Breaker BreakerConfig

	Logger *slog.Logger
}

type backend struct {
	name    string
	synth   tts.Synthesizer
	breaker *Breaker
}

// Failover is a [tts.Synthesizer] that tries its backends in order and
// skips those whose breaker is open. A backend that rejects one phrase is
// not unhealthy: only transient errors count against a breaker by default.
//
// When every backend is skipped the error is transient, so an outer [Retry]
// backs off until a breaker starts probing.
type Failover struct {
	cfg      FailoverConfig
	log      *slog.Logger
	backends []backend
}

var _ tts.Synthesizer = (*Failover)(nil)

// NewFailover creates a [Failover] preferring primary.
func NewFailover(primary tts.Synthesizer, name string, cfg FailoverConfig) *Failover {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = cfg.Logger
	}
	if cfg.Breaker.IsFailure == nil {
		cfg.Breaker.IsFailure = tts.IsTransient
	}
	f := &Failover{cfg: cfg, log: cfg.Logger}
	f.Add(name, primary)
	return f
}

// Add appends a backend tried after all earlier ones. It must not be called
// concurrently with Synthesize.
func (f *Failover) Add(name string, s tts.Synthesizer) {
	bc := f.cfg.Breaker
	bc.Name = name
	f.backends = append(f.backends, backend{name: name, synth: s, breaker: NewBreaker(bc)})
}

// Names returns the backend names in the order they are tried.
func (f *Failover) Names() []string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.name
	}
	return names
}

// States returns the breaker state of every backend, keyed by name.
func (f *Failover) States() map[string]State {
	out := make(map[string]State, len(f.backends))
	for _, b := range f.backends {
		out[b.name] = b.breaker.State()
	}
	return out
}

// Synthesize renders text with the first backend that succeeds.
func (f *Failover) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	var lastErr error
	for _, b := range f.backends {
		done, err := b.breaker.Allow()
		if err != nil {
			f.log.Debug("synthesizer skipped, circuit open", "synthesizer", b.name)
			continue
		}
		clip, err := b.synth.Synthesize(ctx, text, voice)
		done(err)
		if err == nil {
			return clip, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		f.log.Warn("synthesizer failed, trying next", "synthesizer", b.name, "err", err)
		lastErr = err
	}
	if lastErr == nil {
		return nil, tts.Transient(fmt.Errorf("%w: %w", ErrAllFailed, ErrCircuitOpen))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
