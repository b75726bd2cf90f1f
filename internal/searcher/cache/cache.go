package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "similar:"

// Store is the key/value backend of the cache. *pkgredis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// SimilarCache caches similar-image results per image ID and limit. Store
// calls go through a circuit breaker so a failing Redis degrades to uncached
// queries instead of adding latency to every request.
type SimilarCache struct {
	store   Store
	cfg     config.RedisConfig
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a SimilarCache. m may be nil.
func New(store Store, cfg config.RedisConfig, m *metrics.Metrics) *SimilarCache {
	return &SimilarCache{
		store:   store,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.BreakerConfig{}, m),
		metrics: m,
		logger:  slog.Default().With("component", "similar-cache"),
	}
}

func (c *SimilarCache) Get(ctx context.Context, imageID string, limit int) (*executor.SearchResult, bool) {
	key := buildKey(imageID, limit)
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	if data == "" {
		c.recordMiss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "image_id", imageID, "key", key)
	return &result, true
}

func (c *SimilarCache) Set(ctx context.Context, imageID string, limit int, result *executor.SearchResult) {
	key := buildKey(imageID, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.cfg.CacheTTL)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for (imageID, limit) or runs
// computeFn once for all concurrent callers asking for the same key.
// computeFn runs on a context detached from the caller's cancellation, so a
// departing caller does not fail the others waiting on the same key.
func (c *SimilarCache) GetOrCompute(
	ctx context.Context,
	imageID string,
	limit int,
	computeFn func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, imageID, limit); ok {
		return result, true, nil
	}
	key := buildKey(imageID, limit)
	shared := context.WithoutCancel(ctx)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn(shared)
		if err != nil {
			return nil, err
		}
		c.Set(shared, imageID, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached result. Adding one image can change the
// neighbours of any other, so invalidation is never per-key.
func (c *SimilarCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + "*"
	var deleted int64
	err := c.breaker.Execute(func() error {
		var err error
		deleted, err = c.store.FlushByPattern(ctx, pattern)
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *SimilarCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState returns the state of the circuit guarding the store.
func (c *SimilarCache) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *SimilarCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(imageID string, limit int) string {
	return keyPrefix + strconv.Itoa(limit) + ":" + imageID
}
