// Package retry runs an operation with capped exponential backoff.
//
// Whether an error is worth repeating is decided by services.Retryable, and a
// vendor Retry-After hint attached with services.WithRetryAfter replaces the
// computed delay (still capped). Cancellation of the context stops retries
// immediately and is returned unwrapped.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"gitloop/internal/services"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 8 * time.Second
)

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	// Attempts is the total number of tries including the first. Values
	// below one mean a single try.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Sleeper overrides how delays are waited out. Tests use it to avoid
	// real sleeps.
	Sleeper func(time.Duration)

	// OnRetry is called before each wait with the failed attempt number.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt >= attempts || !ShouldRetry(err) {
			break
		}
		delay := policy.delay(attempt, err)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if err := policy.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	if attempts > 1 && ShouldRetry(lastErr) {
		return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return zero, lastErr
}

// ShouldRetry reports whether err is transient. Marked errors defer to
// services.Retryable; unmarked network timeouts are also retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if services.Retryable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// Markers that forbid retry still win.
		return !errors.Is(err, services.ErrPayloadTooLarge) && !errors.Is(err, services.ErrConfiguration)
	}
	return false
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultMaxDelay
}

func (p Policy) delay(attempt int, err error) time.Duration {
	if hint, ok := services.RetryAfter(err); ok {
		return p.capDelay(hint)
	}
	return p.Backoff(attempt)
}

// Backoff returns the wait after the given 1-based failed attempt:
// base, base*2, base*4, ... capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base < 0 {
		return 0
	}
	if base == 0 {
		base = defaultBaseDelay
	}
	if attempt <= 0 {
		attempt = 1
	}
	maxDelay := p.maxDelay()
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay := p.maxDelay(); delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
