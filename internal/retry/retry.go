// Package retry runs an operation in a bounded loop with exponential
// backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Class is the verdict of a Policy's Classify function on an error.
type Class int

const (
	// Retryable errors are attempted again after a backoff.
	Retryable Class = iota
	// Fatal errors end the loop immediately and are returned unwrapped.
	Fatal
)

// Policy bounds a retry loop. Attempt n waits BaseDelay*2^(n-1), capped at
// MaxDelay, plus up to Jitter of random delay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Classify decides whether an error is worth another attempt. Nil means
	// every error is retryable.
	Classify func(error) Class

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ErrExhausted wraps the last error once MaxAttempts is reached.
var ErrExhausted = errors.New("retry budget exhausted")

// Delay returns the backoff before attempt+1, without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.BaseDelay
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Classify == nil {
		p.Classify = func(error) Class { return Retryable }
	}
	return p
}

// Do calls fn until it succeeds, returns a Fatal error, ctx ends, or the
// attempt budget is spent. In the last case the returned error wraps both
// ErrExhausted and the final error from fn.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Classify(err) == Fatal {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Delay(attempt)
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return errors.Join(ErrExhausted, lastErr)
}
