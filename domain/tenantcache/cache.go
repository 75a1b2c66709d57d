package tenantcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/emergent-company/pilgrimops/pkg/logger"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pilgrimops_tenant_cache_lookups_total",
	Help: "Tenant cache lookups by resource and result",
}, []string{"resource", "result"})

// Invalidator is told when cached data changed so clients can refetch.
type Invalidator interface {
	CacheInvalidated(ctx context.Context, tenantID, resource, id string, pattern bool) error
}

// Cache is a tenant-scoped cache-aside layer over a Store. Store failures
// are logged and read as misses; callers never depend on the cache being up.
type Cache struct {
	store       Store
	invalidator Invalidator
	log         *slog.Logger
	defaultTTL  time.Duration
	ttls        map[string]time.Duration
	group       singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithInvalidator announces deletions.
func WithInvalidator(inv Invalidator) Option {
	return func(c *Cache) {
		c.invalidator = inv
	}
}

// WithDefaultTTL changes the TTL of resources without a specific one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithResourceTTL sets the TTL of one resource.
func WithResourceTTL(resource string, ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttls[resource] = ttl
	}
}

// New creates a cache over store.
func New(store Store, log *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:      store,
		log:        log.With(logger.Scope("tenantcache")),
		defaultTTL: DefaultTTL,
		ttls:       make(map[string]time.Duration, len(resourceTTLs)),
	}
	for r, ttl := range resourceTTLs {
		c.ttls[r] = ttl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the TTL used for resource when none is given.
func (c *Cache) TTL(resource string) time.Duration {
	if ttl, ok := c.ttls[resource]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get decodes the cached value into dest. It reports false on a miss,
// including when the store is unavailable.
func (c *Cache) Get(ctx context.Context, tenantID, resource, id string, dest any) (bool, error) {
	key, err := Key(tenantID, resource, id)
	if err != nil {
		return false, err
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get failed, treating as miss", slog.String("key", key), logger.Error(err))
		cacheLookups.WithLabelValues(resource, "error").Inc()
		return false, nil
	}
	if !ok {
		cacheLookups.WithLabelValues(resource, "miss").Inc()
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("discarding undecodable cache entry", slog.String("key", key), logger.Error(err))
		_ = c.store.Delete(ctx, key)
		cacheLookups.WithLabelValues(resource, "miss").Inc()
		return false, nil
	}
	cacheLookups.WithLabelValues(resource, "hit").Inc()
	return true, nil
}

// Set stores value. A zero ttl uses the resource TTL.
func (c *Cache) Set(ctx context.Context, tenantID, resource, id string, value any, ttl time.Duration) error {
	key, err := Key(tenantID, resource, id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if ttl <= 0 {
		ttl = c.TTL(resource)
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.log.Warn("cache set failed", slog.String("key", key), logger.Error(err))
	}
	return nil
}

// Delete removes one entry and announces cache.invalidated to the tenant.
func (c *Cache) Delete(ctx context.Context, tenantID, resource, id string) error {
	key, err := Key(tenantID, resource, id)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.log.Warn("cache delete failed", slog.String("key", key), logger.Error(err))
	}
	c.announce(ctx, tenantID, resource, id, false)
	return nil
}

// InvalidateResource removes every entry of a resource for one tenant and
// announces a single pattern invalidation.
func (c *Cache) InvalidateResource(ctx context.Context, tenantID, resource string) (int, error) {
	key, err := Key(tenantID, resource, "")
	if err != nil {
		return 0, err
	}

	removed, err := c.store.DeletePrefix(ctx, resourcePrefix(tenantID, resource))
	if err != nil {
		c.log.Warn("cache pattern delete failed", slog.String("prefix", key), logger.Error(err))
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.log.Warn("cache delete failed", slog.String("key", key), logger.Error(err))
	}
	c.announce(ctx, tenantID, resource, "", true)
	return removed, nil
}

func (c *Cache) announce(ctx context.Context, tenantID, resource, id string, pattern bool) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.CacheInvalidated(ctx, tenantID, resource, id, pattern); err != nil {
		c.log.Warn("failed to announce cache invalidation",
			slog.String("tenant_id", tenantID),
			slog.String("resource", resource),
			logger.Error(err),
		)
	}
}

// GetOrSet returns the cached value or calls fetch, stores its result and
// returns it. Concurrent callers for the same key share one fetch. Fetch
// errors are returned and nothing is cached.
func GetOrSet[T any](ctx context.Context, c *Cache, tenantID, resource, id string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	key, err := Key(tenantID, resource, id)
	if err != nil {
		return zero, err
	}

	var cached T
	if ok, _ := c.Get(ctx, tenantID, resource, id, &cached); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// a caller that lost the race may find the winner's value
		var again T
		if ok, _ := c.Get(ctx, tenantID, resource, id, &again); ok {
			return again, nil
		}
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, tenantID, resource, id, fresh, ttl); err != nil {
			c.log.Warn("failed to cache fetched value", slog.String("key", key), logger.Error(err))
		}
		return fresh, nil
	})
	if err != nil {
		return zero, err
	}
	// nil interface results carry no dynamic type
	out, _ := v.(T)
	return out, nil
}
