package directory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ledger/pkg/logging"
	"ledger/pkg/metrics"
)

// CacheConfig controls Cached
type CacheConfig struct {
	// TTL is how long a found owner is served from memory
	TTL time.Duration
	// NegativeTTL is how long a miss is remembered
	NegativeTTL time.Duration
	// MaxEntries bounds the cache. Zero means unbounded.
	MaxEntries int
	// LookupTimeout bounds a shared lookup against the inner directory
	LookupTimeout time.Duration
	Metrics       metrics.Collector
	Logger        *logging.Logger
}

// DefaultCacheConfig caches owners for five minutes and misses for thirty seconds
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:           5 * time.Minute,
		NegativeTTL:   30 * time.Second,
		MaxEntries:    100000,
		LookupTimeout: 5 * time.Second,
	}
}

type cacheEntry struct {
	owner     *Owner
	expiresAt time.Time
}

// Cached wraps a Directory with a TTL cache, negative caching and
// coalescing of concurrent lookups for the same ID.
type Cached struct {
	inner         Directory
	ttl           time.Duration
	negativeTTL   time.Duration
	maxEntries    int
	lookupTimeout time.Duration
	metrics       metrics.Collector
	logger        *logging.Logger

	mu       sync.RWMutex
	entries  map[int64]cacheEntry
	negative map[int64]time.Time
	group    singleflight.Group

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewCached wraps inner. Call Close to stop the cleanup goroutine.
func NewCached(inner Directory, config CacheConfig) *Cached {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig().TTL
	}
	if config.NegativeTTL <= 0 {
		config.NegativeTTL = DefaultCacheConfig().NegativeTTL
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = DefaultCacheConfig().LookupTimeout
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	c := &Cached{
		inner:         inner,
		ttl:           config.TTL,
		negativeTTL:   config.NegativeTTL,
		maxEntries:    config.MaxEntries,
		lookupTimeout: config.LookupTimeout,
		metrics:       config.Metrics,
		logger:        config.Logger.Named("directory"),
		entries:       make(map[int64]cacheEntry),
		negative:      make(map[int64]time.Time),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// FindByID serves from cache when possible
func (c *Cached) FindByID(ctx context.Context, id int64) (*Owner, error) {
	now := time.Now()

	c.mu.RLock()
	if e, ok := c.entries[id]; ok && now.Before(e.expiresAt) {
		c.mu.RUnlock()
		c.metrics.RecordDirectoryLookup(true)
		o := *e.owner
		return &o, nil
	}
	if until, ok := c.negative[id]; ok && now.Before(until) {
		c.mu.RUnlock()
		c.metrics.RecordDirectoryLookup(true)
		return nil, ErrOwnerNotFound
	}
	c.mu.RUnlock()

	c.metrics.RecordDirectoryLookup(false)

	// The shared lookup outlives any single caller; each caller still
	// returns as soon as its own context is done.
	ch := c.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		owner, err := c.inner.FindByID(lookupCtx, id)
		switch {
		case err == nil:
			c.store(id, owner)
		case errors.Is(err, ErrOwnerNotFound):
			c.storeNegative(id)
		}
		return owner, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("owner lookup coalesced", zap.Int64("owner_id", id))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		o := *res.Val.(*Owner)
		return &o, nil
	}
}

// Invalidate drops any cached result for id
func (c *Cached) Invalidate(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	delete(c.negative, id)
	c.mu.Unlock()
}

// Close stops background cleanup
func (c *Cached) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
		<-c.cleanupDone
	})
	return nil
}

// Len returns the number of positive and negative entries
func (c *Cached) Len() (positive, negative int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), len(c.negative)
}

func (c *Cached) store(id int64, owner *Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	o := *owner
	c.entries[id] = cacheEntry{owner: &o, expiresAt: time.Now().Add(c.ttl)}
	delete(c.negative, id)
}

func (c *Cached) storeNegative(id int64) {
	c.mu.Lock()
	c.negative[id] = time.Now().Add(c.negativeTTL)
	c.mu.Unlock()
}

// evictOneLocked removes the entry closest to expiry
func (c *Cached) evictOneLocked() {
	var (
		victim int64
		oldest time.Time
		found  bool
	)
	for id, e := range c.entries {
		if !found || e.expiresAt.Before(oldest) {
			victim, oldest, found = id, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}

func (c *Cached) cleanup() {
	defer close(c.cleanupDone)

	interval := c.negativeTTL
	if c.ttl < interval {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cached) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
	for id, until := range c.negative {
		if now.After(until) {
			delete(c.negative, id)
		}
	}
}
