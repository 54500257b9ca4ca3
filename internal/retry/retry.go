// Package retry runs fallible external calls with bounded attempts and
// exponential backoff, failing fast on errors that can never succeed.
package retry

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
)

// Policy controls how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles per attempt.
	BaseDelay time.Duration
	// CallTimeout bounds each individual attempt when positive.
	CallTimeout time.Duration
	// Sleep waits between attempts. Defaults to a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives a warning per retried failure.
	Logger *slog.Logger
}

// DefaultPolicy returns a policy of 3 attempts starting at a 1s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Backoff returns the wait after the failed attempt with the given
// zero-based index: BaseDelay * 2^attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << attempt
}

// Do runs op until it succeeds, fails with a fatal error, or runs out of
// attempts. The last error is returned unchanged so callers can inspect the
// original cause. If ctx ends while waiting, ctx.Err() is returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := call(ctx, p.CallTimeout, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsFatal(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == attempts-1 {
			break
		}

		backoff := p.Backoff(attempt)
		logger.Warn("Call failed, will retry.",
			"attempt", attempt+1,
			"maxAttempts", attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func call[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(callCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

