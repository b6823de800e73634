package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiterBurstThenBlocks(t *testing.T) {
	l := New(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, ok := l.reserve(); !ok {
			t.Fatalf("token %d: expected burst capacity", i)
		}
	}
	wait, ok := l.reserve()
	if ok {
		t.Fatal("expected empty bucket after burst")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("wait = %v, want (0, 1s]", wait)
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on empty bucket: got %v, want deadline exceeded", err)
	}
}

func TestLimiterRefill(t *testing.T) {
	l := New(10, 1)
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }
	l.lastUpdate = clock

	if _, ok := l.reserve(); !ok {
		t.Fatal("first token should be available")
	}
	if _, ok := l.reserve(); ok {
		t.Fatal("bucket should be empty")
	}

	clock = clock.Add(100 * time.Millisecond)
	if _, ok := l.reserve(); !ok {
		t.Error("one token should refill after 100ms at 10 rps")
	}
}

func TestLimiterAvailableRefills(t *testing.T) {
	l := New(10, 2)
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }
	l.lastUpdate = clock

	l.reserve()
	l.reserve()
	if got := l.Available(); got != 0 {
		t.Fatalf("Available() after burst = %f, want 0", got)
	}

	clock = clock.Add(150 * time.Millisecond)
	if got := l.Available(); got < 1.49 || got > 1.51 {
		t.Errorf("Available() after 150ms = %f, want 1.5", got)
	}

	clock = clock.Add(time.Hour)
	if got := l.Available(); got != 2 {
		t.Errorf("Available() = %f, want capped at burst 2", got)
	}
}

func TestLimiterConcurrentCallers(t *testing.T) {
	l := New(1000, 50)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Wait(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
	}
	if got := l.Available(); got > 50 {
		t.Errorf("Available() = %f exceeds burst", got)
	}
}

func TestUnlimited(t *testing.T) {
	var u Unlimited
	if err := u.Wait(context.Background()); err != nil {
		t.Errorf("Unlimited.Wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := u.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Unlimited.Wait on cancelled ctx: %v", err)
	}
}
