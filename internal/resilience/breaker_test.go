package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errTest      = errors.New("test error")
	errRejected  = errors.New("rejected input")
	onlyTestErrs = func(err error) bool { return errors.Is(err, errTest) }
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clk *fakeClock, threshold, probes int) *Breaker {
	return NewBreaker(BreakerConfig{Name: "test", Threshold: threshold, Cooldown: time.Minute, Probes: probes, now: clk.Now})
}

func fail(b *Breaker, n int) {
	for range n {
		_ = b.Do(func() error { return errTest })
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.cfg.Threshold != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 3 {
		t.Errorf("config = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(b *Breaker, clk *fakeClock)
		want State
	}{
		{"below threshold", func(b *Breaker, _ *fakeClock) { fail(b, 2) }, StateClosed},
		{"threshold reached", func(b *Breaker, _ *fakeClock) { fail(b, 3) }, StateOpen},
		{"success resets count", func(b *Breaker, _ *fakeClock) {
			fail(b, 2)
			_ = b.Do(func() error { return nil })
			fail(b, 2)
		}, StateClosed},
		{"cool-down passed", func(b *Breaker, clk *fakeClock) {
			fail(b, 3)
			clk.Advance(time.Minute)
		}, StateHalfOpen},
		{"probes succeed", func(b *Breaker, clk *fakeClock) {
			fail(b, 3)
			clk.Advance(time.Minute)
			for range 2 {
				_ = b.Do(func() error { return nil })
			}
		}, StateClosed},
		{"probe fails", func(b *Breaker, clk *fakeClock) {
			fail(b, 3)
			clk.Advance(time.Minute)
			_ = b.Do(func() error { return nil })
			fail(b, 1)
		}, StateOpen},
		{"reset", func(b *Breaker, _ *fakeClock) {
			fail(b, 3)
			b.Reset()
		}, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			b := newTestBreaker(clk, 3, 2)
			tt.run(b, clk)
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 1, 1)
	fail(b, 1)

	called := false
	if err := b.Do(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, IsFailure: onlyTestErrs})
	for range 5 {
		if err := b.Do(func() error { return errRejected }); !errors.Is(err, errRejected) {
			t.Fatalf("err = %v, want errRejected passed through", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk, 1, 2)
	fail(b, 1)
	clk.Advance(time.Minute)

	var dones []func(error)
	for range 2 {
		done, err := b.Allow()
		if err != nil {
			t.Fatalf("probe rejected: %v", err)
		}
		dones = append(dones, done)
	}
	if _, err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("third probe err = %v, want ErrCircuitOpen", err)
	}

	dones[0](errTest)
	dones[1](nil)
	dones[1](nil)
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open: the first probe failed", b.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", s, got, want)
		}
	}
}
