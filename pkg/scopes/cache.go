package scopes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

const (
	// DefaultCacheTTL bounds how long a permission set may be served
	// without recomputation, even when its version vector still matches.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheSize is the maximum number of (principal, group-set)
	// entries held in memory.
	DefaultCacheSize = 4096
)

// PermissionCache memoizes resolver output keyed by principal identity and
// sorted group set. Entries stay valid while their recorded source versions
// match the store's current vector and their age is under the TTL.
// Recomputation is single-flight per key: concurrent callers for the same
// key await one resolve instead of each triggering their own.
type PermissionCache struct {
	resolver *Resolver
	store    Store

	cache *expirable.LRU[string, *EffectivePermissionSet]

	// lastGood retains the most recent successful computation per key
	// without a TTL, so a store outage can be bridged with a degraded
	// last-known-good set.
	lastGood *lru.Cache[string, *EffectivePermissionSet]

	flight singleflight.Group

	hits       atomic.Int64
	misses     atomic.Int64
	recomputes atomic.Int64
	degraded   atomic.Int64

	metrics *observability.Metrics
}

// SetMetrics attaches Prometheus counters; call before serving traffic
func (c *PermissionCache) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

// NewPermissionCache creates a permission cache in front of the resolver.
// size and ttl fall back to defaults when zero.
func NewPermissionCache(resolver *Resolver, store Store, size int, ttl time.Duration) (*PermissionCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	lastGood, err := lru.New[string, *EffectivePermissionSet](size)
	if err != nil {
		return nil, err
	}

	return &PermissionCache{
		resolver: resolver,
		store:    store,
		cache:    expirable.NewLRU[string, *EffectivePermissionSet](size, nil, ttl),
		lastGood: lastGood,
	}, nil
}

// GetOrCompute returns the effective permission set for the principal,
// computing and caching it on miss or staleness. On StoreUnavailableError
// during recompute it serves the last-known-good value flagged Degraded,
// and only fails when no prior value exists.
func (c *PermissionCache) GetOrCompute(ctx context.Context, principalKey string, groups []string) (*EffectivePermissionSet, error) {
	key := cacheKey(principalKey, groups)

	if set, ok := c.cache.Get(key); ok {
		vector, err := c.store.VersionVector(ctx)
		if err == nil && vector.Covers(set.SourceVersions) {
			c.countHit()
			return set, nil
		}
		if err != nil {
			// Staleness cannot be judged while the store is down;
			// the cached value is still the best available answer.
			c.countDegraded()
			return degradedCopy(set), nil
		}
		// Version mismatch: fall through and recompute.
	}

	c.countMiss()
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// A concurrent flight may already have refreshed the entry.
		if set, ok := c.cache.Get(key); ok {
			vector, verr := c.store.VersionVector(ctx)
			if verr == nil && vector.Covers(set.SourceVersions) {
				return set, nil
			}
		}

		c.countRecompute()
		set, err := c.resolver.Resolve(ctx, groups)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, set)
		c.lastGood.Add(key, set)
		return set, nil
	})

	if err != nil {
		if IsStoreUnavailable(err) {
			if set, ok := c.lastGood.Get(key); ok {
				c.countDegraded()
				return degradedCopy(set), nil
			}
		}
		return nil, err
	}
	return v.(*EffectivePermissionSet), nil
}

// Invalidate drops the cached entry for one (principal, group-set) pair
func (c *PermissionCache) Invalidate(principalKey string, groups []string) {
	c.cache.Remove(cacheKey(principalKey, groups))
}

// Purge drops every cached entry. Last-known-good values survive so a purge
// during an outage does not turn degraded service into hard denials.
func (c *PermissionCache) Purge() {
	c.cache.Purge()
}

// CacheStats is a point-in-time snapshot of cache counters
type CacheStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Recomputes int64   `json:"recomputes"`
	Degraded   int64   `json:"degraded"`
	Entries    int     `json:"entries"`
	HitRate    float64 `json:"hit_rate"`
}

// Stats returns current cache counters
func (c *PermissionCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Recomputes: c.recomputes.Load(),
		Degraded:   c.degraded.Load(),
		Entries:    c.cache.Len(),
	}
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *PermissionCache) countHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *PermissionCache) countMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *PermissionCache) countRecompute() {
	c.recomputes.Add(1)
	if c.metrics != nil {
		c.metrics.CacheRecomputesTotal.Inc()
	}
}

func (c *PermissionCache) countDegraded() {
	c.degraded.Add(1)
	if c.metrics != nil {
		c.metrics.CacheDegradedTotal.Inc()
	}
}

// cacheKey builds a stable hash of principal identity and sorted group set
func cacheKey(principalKey string, groups []string) string {
	sorted := append([]string(nil), groups...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(principalKey))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// degradedCopy returns a shallow copy flagged Degraded; the original stays
// immutable for other readers.
func degradedCopy(set *EffectivePermissionSet) *EffectivePermissionSet {
	out := *set
	out.Degraded = true
	return &out
}
