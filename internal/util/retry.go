package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Backoff describes how a failing call is retried.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps the doubled delay. Zero leaves it uncapped.
	MaxDelay time.Duration
	// Jitter is the fraction of each delay, in [0, 1], drawn at random so
	// concurrent workers do not retry in lockstep.
	Jitter float64
}

// Delay returns the pause after failed attempt n (counting from zero). r is
// a uniform draw in [0, 1) that removes up to Jitter of the delay.
func (b Backoff) Delay(n int, r float64) time.Duration {
	d := b.BaseDelay
	for i := 0; i < n && d > 0 && (b.MaxDelay <= 0 || d < b.MaxDelay); i++ {
		d *= 2
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	j := min(max(b.Jitter, 0), 1)
	return time.Duration(float64(d) * (1 - j*r))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error or
// b.MaxAttempts calls have failed, sleeping b.Delay between attempts. It
// returns the last error. Cancellation between attempts returns ctx.Err().
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	attempts := max(b.MaxAttempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		// Don't sleep after the last failed attempt.
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Delay(attempt, rand.Float64())):
			}
		}
	}
	return err
}
