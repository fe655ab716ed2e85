package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig controls [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the wait after the first failure. It doubles after each
	// further failure. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Default: 30s.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth another attempt. Default:
	// nothing is retried.
	Retryable func(error) bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Name labels log lines.
	Name string

	sleep func(context.Context, time.Duration) error
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Retryable == nil {
		c.Retryable = func(error) bool { return false }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.sleep == nil {
		c.sleep = Sleep
	}
	return c
}

// Backoff returns the wait before attempt n+1 after n failed attempts.
func (c RetryConfig) Backoff(n int) time.Duration {
	c = c.withDefaults()
	d := c.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(d, c.MaxDelay)
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. The last error is returned wrapped
// with the attempt count.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !cfg.Retryable(err) || ctx.Err() != nil {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			return zero, fmt.Errorf("resilience: %d attempts: %w", attempt, err)
		}
		d := cfg.Backoff(attempt)
		cfg.Logger.Warn("retrying after transient failure",
			"name", cfg.Name, "attempt", attempt, "delay", d, "err", err)
		if err := cfg.sleep(ctx, d); err != nil {
			return zero, err
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
