package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAdapterTimeout wraps any outbound adapter call that exhausted its
// attempts. Callers match it with errors.Is.
var ErrAdapterTimeout = errors.New("adapter call timed out")

// Config bounds one adapter call: per-attempt timeout, attempt count and
// the pause between attempts.
type Config struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	return c
}

// Do runs op with a bounded per-attempt timeout, retrying up to
// cfg.Attempts times. Every external adapter call in this codebase goes
// through here so no provider can hang a session loop.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		v, err := op(attemptCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if cfg.Backoff > 0 && attempt < cfg.Attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.Backoff):
			}
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAdapterTimeout, lastErr)
}

// DoWithFallback is Do plus a local recovery path: when all attempts
// fail, fallback supplies the substitute value and the call reports
// success. The session loop never stalls on a failing adapter.
func DoWithFallback[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error), fallback func(error) T) (T, error) {
	v, err := Do(ctx, cfg, op)
	if err == nil {
		return v, nil
	}
	if fallback == nil {
		return v, err
	}
	return fallback(err), nil
}
