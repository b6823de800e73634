package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const key = "0x00000000000000000000000000000000000000aa"

func newTestCache() *Cache {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(log)
}

func reportWithScore(score float64) *aml.AnalysisReport {
	return &aml.AnalysisReport{Seed: aml.Address(key), Score: score}
}

// counting returns a ComputeFunc that counts its calls and yields a fresh report.
func counting(calls *int32) ComputeFunc {
	return func(ctx context.Context) (*aml.AnalysisReport, error) {
		n := atomic.AddInt32(calls, 1)
		return reportWithScore(float64(n)), nil
	}
}

func TestHitWithinTTL(t *testing.T) {
	c := newTestCache()
	var calls int32

	first, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Same(t, first, second)
}

func TestExpiryRecomputes(t *testing.T) {
	c := newTestCache()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	var calls int32

	_, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	r, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2.0, r.Score)
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	c := newTestCache()
	var calls int32
	release := make(chan struct{})

	compute := func(ctx context.Context) (*aml.AnalysisReport, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return reportWithScore(42), nil
	}

	const callers = 25
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results = make([]*aml.AnalysisReport, callers)
	)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			r, err := c.GetOrCompute(context.Background(), key, compute, time.Minute)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestFailureNotCached(t *testing.T) {
	c := newTestCache()
	boom := errors.New("ledger down")
	var calls int32

	_, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*aml.AnalysisReport, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}, time.Minute)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	r, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.NotNil(t, r)
}

func TestWaiterCancellation(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "cancelled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			wantErr: aml.ErrCancelled,
		},
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			wantErr: aml.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache()
			release := make(chan struct{})
			done := make(chan struct{})
			var computeErr error

			compute := func(ctx context.Context) (*aml.AnalysisReport, error) {
				defer close(done)
				<-release
				computeErr = ctx.Err()
				return reportWithScore(7), nil
			}

			ctx, cancel := tt.ctx()
			defer cancel()
			_, err := c.GetOrCompute(ctx, key, compute, time.Minute)
			assert.ErrorIs(t, err, tt.wantErr)

			close(release)
			<-done
			assert.NoError(t, computeErr, "computation saw the waiter's cancellation")

			// the detached computation still populated the cache
			require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
			r, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*aml.AnalysisReport, error) {
				t.Error("unexpected recompute")
				return nil, nil
			}, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, 7.0, r.Score)
		})
	}
}

func TestAlreadyCancelledCallerDoesNotCompute(t *testing.T) {
	c := newTestCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := c.GetOrCompute(ctx, key, counting(&calls), time.Minute)
	assert.ErrorIs(t, err, aml.ErrCancelled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestInvalidate(t *testing.T) {
	c := newTestCache()
	var calls int32

	_, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(context.Background(), "other", counting(&calls), time.Minute)
	require.NoError(t, err)

	c.Invalidate(key)
	assert.Equal(t, 1, c.Len())

	_, err = c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	c.InvalidateAll()
	assert.Zero(t, c.Len())
}

func TestInvalidateAllDuringFlight(t *testing.T) {
	c := newTestCache()
	release := make(chan struct{})
	var calls int32

	slow := func(ctx context.Context) (*aml.AnalysisReport, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return reportWithScore(1), nil
	}

	firstDone := make(chan *aml.AnalysisReport)
	go func() {
		r, _ := c.GetOrCompute(context.Background(), key, slow, time.Minute)
		firstDone <- r
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)

	c.InvalidateAll()

	// a caller after the invalidation does not join the stale flight
	fresh, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*aml.AnalysisReport, error) {
		atomic.AddInt32(&calls, 1)
		return reportWithScore(2), nil
	}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2.0, fresh.Score)

	close(release)
	stale := <-firstDone
	require.NotNil(t, stale)
	assert.Equal(t, 1.0, stale.Score)

	cached, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cached.Score)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestComputeBypassesHit(t *testing.T) {
	c := newTestCache()
	var calls int32

	_, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	r, err := c.Compute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2.0, r.Score)

	cached, err := c.GetOrCompute(context.Background(), key, counting(&calls), time.Minute)
	require.NoError(t, err)
	assert.Same(t, r, cached)
}
