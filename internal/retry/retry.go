// Package retry repeats idempotent calls with capped exponential backoff.
// The gateway adapter never retries on its own; callers that know an
// operation is safe to repeat, such as verify polling, wrap it here.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as final. Do returns the unwrapped error at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// Policy describes how often and how patiently to retry.
type Policy struct {
	MaxAttempts int           // total calls, including the first; <= 0 means 1
	BaseDelay   time.Duration // wait before the second call
	MaxDelay    time.Duration // cap on any single wait; 0 means uncapped
	// Retryable filters errors worth another call. nil retries every
	// error that is not Permanent.
	Retryable func(error) bool
	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff returns the un-jittered wait after the given failed attempt
// (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// jitter spreads d uniformly over [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

// Do runs fn until it succeeds, returns a final error, runs out of
// attempts, or ctx ends.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	_, err := Value(ctx, p, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}

		var perm permanent
		if errors.As(err, &perm) {
			return v, perm.err
		}
		if attempt >= attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return v, err
		}

		wait := jitter(p.Backoff(attempt))
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, ctx.Err()
		case <-t.C:
		}
	}
}
