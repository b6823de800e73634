// Package cache memoizes analysis reports per key with single-flight
// coalescing of concurrent misses.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the report for a key. The context it receives is
// detached from any single caller's cancellation.
type ComputeFunc func(ctx context.Context) (*aml.AnalysisReport, error)

type entry struct {
	report    *aml.AnalysisReport
	expiresAt time.Time
}

// Cache holds reports until their TTL passes or they are invalidated.
// Expired entries are evicted lazily on lookup.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	generation uint64
	versions   map[string]uint64
	group      singleflight.Group
	now        func() time.Time
	log        *logrus.Logger
}

// New creates an empty cache
func New(log *logrus.Logger) *Cache {
	return &Cache{
		entries:  make(map[string]entry),
		versions: make(map[string]uint64),
		now:      time.Now,
		log:      log,
	}
}

// GetOrCompute returns the cached report for key, or runs compute once for
// all concurrent callers of the same key and caches a successful result for
// ttl. A caller whose ctx ends while waiting gets aml.ErrCancelled or
// aml.ErrTimeout; the computation itself keeps running for the others.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, ttl time.Duration) (*aml.AnalysisReport, error) {
	if r, ok := c.lookup(key); ok {
		metrics.RecordCacheLookup("hit")
		return r, nil
	}
	return c.Compute(ctx, key, compute, ttl)
}

// Compute skips the lookup but still coalesces with any computation already
// in flight for key and stores the result.
func (c *Cache) Compute(ctx context.Context, key string, compute ComputeFunc, ttl time.Duration) (*aml.AnalysisReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, aml.FromContext(err)
	}

	c.mu.Lock()
	gen, ver := c.generation, c.versions[key]
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(gen, ver, key), func() (interface{}, error) {
		metrics.RecordCacheLookup("miss")
		r, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.store(gen, ver, key, r, ttl)
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			metrics.RecordCacheLookup("shared")
		}
		return res.Val.(*aml.AnalysisReport), nil
	case <-ctx.Done():
		c.log.WithFields(logrus.Fields{
			"key":   key,
			"cause": ctx.Err().Error(),
		}).Debug("Caller stopped waiting for in-flight analysis")
		return nil, aml.FromContext(ctx.Err())
	}
}

// Invalidate drops key. A computation for key already in flight still answers
// its waiters but is neither stored nor joined by later callers.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.versions[key]++
	c.mu.Unlock()

	metrics.CacheInvalidations.Inc()
}

// InvalidateAll drops every entry. Computations started before the call still
// answer their waiters but their results are not stored.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.versions = make(map[string]uint64)
	c.generation++
	c.mu.Unlock()

	metrics.CacheInvalidations.Inc()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (*aml.AnalysisReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.report, true
}

func (c *Cache) store(gen, ver uint64, key string, r *aml.AnalysisReport, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || ver != c.versions[key] {
		return
	}
	c.entries[key] = entry{report: r, expiresAt: c.now().Add(ttl)}
}

// flightKey scopes single-flight registrations to the invalidation state they
// started under, so callers arriving after an invalidation start fresh.
func flightKey(gen, ver uint64, key string) string {
	return strconv.FormatUint(gen, 10) + "." + strconv.FormatUint(ver, 10) + "/" + key
}
