// Package cache keeps search results in Redis. Keys embed the catalog
// version, so publishing a new snapshot makes every older entry
// unreachable without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OpenModelDB/model-search/internal/searcher"
	"github.com/OpenModelDB/model-search/pkg/metrics"
	pkgredis "github.com/OpenModelDB/model-search/pkg/redis"
	"github.com/OpenModelDB/model-search/pkg/resilience"
)

const keyPrefix = "modelsearch:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Store = (*pkgredis.Client)(nil)

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// New wraps store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			c.logger.Warn("cache circuit changed state", "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Key derives the cache key of req against catalog version.
func Key(version string, req searcher.Request) string {
	raw := fmt.Sprintf("%s|limit=%d|offset=%d|all=%t", req.Plan.Fingerprint(), req.Limit, req.Offset, req.All)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, version, hash[:16])
}

func (c *QueryCache) Get(ctx context.Context, key string) (*searcher.SearchResult, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil || data == nil {
		if err != nil {
			c.errors.Add(1)
			c.logger.Debug("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result searcher.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key string, result *searcher.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error { return c.store.Set(ctx, key, data, c.ttl) }); err != nil {
		c.errors.Add(1)
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req at version, computing and
// storing it on a miss. Concurrent misses for the same key share one
// computation. The result is stored under the version it was computed
// against, which differs from version if a reload happened in between.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version string,
	req searcher.Request,
	compute func() (*searcher.SearchResult, error),
) (*searcher.SearchResult, bool, error) {
	key := Key(version, req)
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, Key(result.Version, req), result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*searcher.SearchResult), false, nil
}

// Invalidate drops every cached result. It talks to the store even while
// the circuit is open; a successful flush shows the store is back and closes
// the circuit.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	if c.breaker.GetState() != resilience.StateClosed {
		c.breaker.Reset()
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Entries int64   `json:"entries"`
	Circuit string  `json:"circuit"`
}

func (c *QueryCache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errors.Load(),
		Entries: -1,
		Circuit: c.breaker.GetState().String(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if n, err := c.store.CountByPattern(ctx, keyPrefix+"*"); err == nil {
		s.Entries = n
	}
	return s
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
