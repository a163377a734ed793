package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 16

// Stats is a point-in-time snapshot of cache counters. Hits, Misses and
// Evictions are monotonic within a process lifetime; Size is the current
// entry count.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// Entry carries a cached value together with its lifecycle timestamps.
// Returned by [Cache.GetEntry] so callers can inspect freshness without
// resetting it.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Cache is a thread-safe key/value store with per-entry expiry, a background
// expiry sweep, and a best-effort capacity bound. The zero value is not
// usable; construct with [New].
type Cache[V any] struct {
	shards     [shardCount]*shard[V]
	maxEntries int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	size      atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a cache bounded to maxEntries entries, swept for expired
// entries every sweepInterval. maxEntries <= 0 means unbounded;
// sweepInterval <= 0 disables the background sweep (lazy expiry still
// applies).
func New[V any](maxEntries int, sweepInterval time.Duration) *Cache[V] {
	c := &Cache[V]{
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}

	if sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(sweepInterval)
	}

	return c
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() & (shardCount - 1))
}

// Set stores value under key with the given ttl. Non-positive TTLs are
// rejected silently: an entry that would be born expired is never stored.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}

	now := time.Now()
	s := c.shards[shardIndex(key)]

	s.mu.Lock()
	_, existed := s.entries[key]
	s.entries[key] = entry[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	if !existed {
		c.size.Add(1)
	}
	evicted := c.enforceCapacityLocked(s, now)
	s.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
		c.size.Add(-int64(evicted))
	}
}

// Get returns the live value for key. Expired entries behave as a miss and
// are removed lazily. Repeated Gets do not extend an entry's expiry.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.GetEntry(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// GetEntry is Get plus the entry's creation and expiry timestamps.
func (c *Cache[V]) GetEntry(key string) (Entry[V], bool) {
	if c == nil {
		return Entry[V]{}, false
	}

	s := c.shards[shardIndex(key)]

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return Entry[V]{}, false
	}

	if !e.expiresAt.After(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it.
		if cur, still := s.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
			c.size.Add(-1)
		}
		s.mu.Unlock()
		c.misses.Add(1)
		return Entry[V]{}, false
	}

	c.hits.Add(1)
	return Entry[V]{Value: e.value, CreatedAt: e.createdAt, ExpiresAt: e.expiresAt}, true
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	if c == nil {
		return false
	}

	s := c.shards[shardIndex(key)]

	s.mu.Lock()
	_, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if ok {
		c.size.Add(-1)
	}
	return ok
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	return int(c.size.Load())
}

// Stats returns the current counter snapshot.
func (c *Cache[V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      int(c.size.Load()),
	}
}

// Close stops the background sweep. The cache remains readable after Close.
func (c *Cache[V]) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache[V]) sweep(now time.Time) {
	for _, s := range c.shards {
		var removed int64

		s.mu.Lock()
		for key, e := range s.entries {
			if !e.expiresAt.After(now) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()

		if removed > 0 {
			c.size.Add(-removed)
		}
	}
}

// enforceCapacityLocked evicts soonest-to-expire entries while the shard is
// over its share of the capacity bound. Caller holds s.mu.
func (c *Cache[V]) enforceCapacityLocked(s *shard[V], now time.Time) int {
	if c.maxEntries <= 0 {
		return 0
	}

	perShard := c.maxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}

	evicted := 0
	for len(s.entries) > perShard {
		var (
			victim   string
			earliest time.Time
			found    bool
		)
		for key, e := range s.entries {
			// Expired entries are free wins; otherwise pick the soonest expiry.
			if !e.expiresAt.After(now) {
				victim, found = key, true
				break
			}
			if !found || e.expiresAt.Before(earliest) {
				victim, earliest, found = key, e.expiresAt, true
			}
		}
		if !found {
			break
		}
		delete(s.entries, victim)
		evicted++
	}

	return evicted
}
