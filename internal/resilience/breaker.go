// Package resilience keeps long synthesis batches alive when a provider
// misbehaves. [Retry] re-runs transient failures with exponential backoff,
// a [Breaker] stops calling a provider that keeps failing, and [Failover]
// moves work to the next healthy synthesizer.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Allow] and [Breaker.Do] while the
// breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets a few probe calls through. Enough successes close
	// the breaker, any failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls that close the
	// breaker again. Default: 3.
	Probes int

	// IsFailure selects the errors that count against the breaker.
	// Default: every non-nil error.
	IsFailure func(error) bool

	Logger *slog.Logger

	now func() time.Time
}

func (c *BreakerConfig) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	openedAt  time.Time
	inflight  int // probes handed out while half-open
	successes int // successful probes while half-open
}

// NewBreaker creates a closed [Breaker]. Zero config fields take their
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg}
}

// Allow reserves one call. It returns [ErrCircuitOpen] when the breaker
// rejects it; otherwise the caller must pass the call's error to done.
func (b *Breaker) Allow() (done func(error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return nil, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
	}
	probe := b.state == StateHalfOpen
	if probe {
		if b.inflight >= b.cfg.Probes {
			return nil, ErrCircuitOpen
		}
		b.inflight++
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(probe, err) })
	}, nil
}

// Do runs fn when the breaker allows it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && b.cfg.IsFailure(err)
	switch {
	case probe && b.state != StateHalfOpen:
		// Another probe already decided the outcome.
	case probe && failed:
		b.trip(err)
	case probe:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.setState(StateClosed)
		}
	case failed:
		b.failures++
		if b.failures >= b.cfg.Threshold && b.state == StateClosed {
			b.trip(err)
		}
	default:
		b.failures = 0
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip(err error) {
	b.openedAt = b.cfg.now()
	b.cfg.Logger.Warn("circuit breaker opened", "name", b.cfg.Name, "failures", b.failures, "err", err)
	b.setState(StateOpen)
}

// setState switches to s and clears the counters of the previous state.
// b.mu must be held.
func (b *Breaker) setState(s State) {
	if s != StateOpen {
		b.cfg.Logger.Info("circuit breaker "+s.String(), "name", b.cfg.Name)
	}
	b.state = s
	b.failures, b.inflight, b.successes = 0, 0, 0
}

// State returns the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen] before the next call moves it there.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
}
