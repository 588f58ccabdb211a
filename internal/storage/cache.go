package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CountCache holds recently computed frequency counts.
type CountCache interface {
	Get(ctx context.Context, key string) (int, bool)
	Set(ctx context.Context, key string, n int)
}

// RecentCounter is the subset of Store used for frequency lookups.
type RecentCounter interface {
	CountRecent(ctx context.Context, category string, window time.Duration) (int, error)
}

// CachedCounter serves CountRecent from a CountCache, falling through to
// the underlying counter on a miss. Errors are never cached.
type CachedCounter struct {
	counter RecentCounter
	cache   CountCache
}

// NewCachedCounter wraps counter with cache.
func NewCachedCounter(counter RecentCounter, cache CountCache) *CachedCounter {
	return &CachedCounter{counter: counter, cache: cache}
}

// CountRecent implements RecentCounter.
func (c *CachedCounter) CountRecent(ctx context.Context, category string, window time.Duration) (int, error) {
	key := countKey(category, window)
	if n, ok := c.cache.Get(ctx, key); ok {
		return n, nil
	}
	n, err := c.counter.CountRecent(ctx, category, window)
	if err != nil {
		return 0, err
	}
	c.cache.Set(ctx, key, n)
	return n, nil
}

func countKey(category string, window time.Duration) string {
	return fmt.Sprintf("%s:%d", category, int64(window/time.Second))
}

// ── In-process cache ─────────────────────────────────────────────────────

type countEntry struct {
	n         int
	expiresAt time.Time
}

func (e *countEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryCountCache is a thread-safe in-process CountCache whose entries
// expire after a fixed TTL.
type MemoryCountCache struct {
	mu      sync.RWMutex
	entries map[string]*countEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCountCache creates a MemoryCountCache.
func NewMemoryCountCache(ttl time.Duration) *MemoryCountCache {
	return &MemoryCountCache{
		entries: make(map[string]*countEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements CountCache.
func (c *MemoryCountCache) Get(_ context.Context, key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return 0, false
	}
	return e.n, true
}

// Set implements CountCache.
func (c *MemoryCountCache) Set(_ context.Context, key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &countEntry{n: n, expiresAt: c.now().Add(c.ttl)}
}

// Evict removes expired entries and returns how many were removed.
func (c *MemoryCountCache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries, including expired ones.
func (c *MemoryCountCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartEviction evicts expired entries every interval until ctx is done.
func (c *MemoryCountCache) StartEviction(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Evict(); n > 0 {
					logger.Debug("evicted expired frequency counts", zap.Int("count", n))
				}
			}
		}
	}()
}
