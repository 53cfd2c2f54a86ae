// Package retry provides a bounded retry combinator with pluggable backoff schedules.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Schedule returns the delay to wait after the given failed attempt (0-based).
type Schedule func(attempt int) time.Duration

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxTries int
	Backoff  Schedule
	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Attempt runs fn until it succeeds, returns a Permanent error, the context ends or
// MaxTries attempts have been made. The last error is returned on exhaustion.
func Attempt[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	tries := p.MaxTries
	if tries <= 0 {
		tries = 1
	}

	var lastErr error
	for attempt := range tries {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if attempt == tries-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Backoff != nil {
			if err := Sleep(ctx, p.Backoff(attempt)); err != nil {
				return zero, lastErr
			}
		}
	}
	return zero, lastErr
}

// Do is Attempt for operations without a result.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := Attempt(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Exponential doubles base on every attempt up to max and adds up to jitter*delay of noise.
func Exponential(base, max time.Duration, jitter float64) Schedule {
	return func(attempt int) time.Duration {
		backoff := base * time.Duration(1<<uint(attempt))
		if backoff > max || backoff <= 0 {
			backoff = max
		}
		return backoff + time.Duration(float64(backoff)*jitter*rand.Float64())
	}
}

// Jittered waits a uniformly random duration in [min, max) regardless of the attempt.
func Jittered(min, max time.Duration) Schedule {
	return func(int) time.Duration {
		return Between(min, max)
	}
}

// Increasing waits (attempt+1) times a random duration in [min, max).
func Increasing(min, max time.Duration) Schedule {
	return func(attempt int) time.Duration {
		return time.Duration(attempt+1) * Between(min, max)
	}
}

// Between returns a uniformly random duration in [min, max).
func Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
