package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Waiter is anything that can hold a caller until it may issue a request.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Limiter implements a token bucket shared by every ledger call in the
// process. All bucket state sits behind mu.
type Limiter struct {
	rate       float64 // tokens per second
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// New creates a limiter refilling at rps tokens per second with room for
// burst tokens. A non-positive burst defaults to one second of refill.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	maxTokens := float64(burst)
	if maxTokens < 1 {
		maxTokens = rps
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &Limiter{
		rate:       rps,
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token if one is available, otherwise it reports how long
// until the next token lands.
func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return 0, true
	}

	missing := 1.0 - l.tokens
	return time.Duration(missing / l.rate * float64(time.Second)), false
}

// Available reports the tokens currently in the bucket. It backs the
// amlwatch_ledger_tokens_available gauge.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// refill credits tokens for the time since the last update. Callers hold mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.maxTokens {
			l.tokens = l.maxTokens
		}
	}
	l.lastUpdate = now
}

// Unlimited never blocks. Tests and offline tools use it in place of Limiter.
type Unlimited struct{}

// Wait returns immediately unless ctx is already done.
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
