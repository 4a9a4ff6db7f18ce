// Package cache implements the tenant-scoped TTL cache that fronts dashboard
// read views.
//
// Entries live in per-tenant shards, each guarded by its own lock, so churn
// in one tenant never contends with or evicts another tenant's entries.
// Expiry is lazy on access, plus an optional periodic sweep. Hit, miss and
// eviction counters are aggregated across tenants and only reset explicitly.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

// DefaultTTL is used when Set is called with a non-positive ttl and the cache
// was built without an explicit default.
const DefaultTTL = 30 * time.Second

type item struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]item
}

// Cache is safe for concurrent use. The zero value is not usable; use New.
type Cache struct {
	mu     sync.RWMutex
	shards map[string]*shard
	// gens counts invalidations per tenant. A load that started under an
	// older generation must not populate the cache.
	gens map[string]uint64

	ttl time.Duration
	now func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	loads    singleflight.Group
	inflight sync.Map // load key -> *string tenant id, one per running load
}

// New returns an empty cache whose Set falls back to defaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		shards: make(map[string]*shard),
		gens:   make(map[string]uint64),
		ttl:    defaultTTL,
		now:    time.Now,
	}
}

func (c *Cache) shardFor(tenantID string, create bool) *shard {
	c.mu.RLock()
	s := c.shards[tenantID]
	c.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s = c.shards[tenantID]; s == nil {
		s = &shard{items: make(map[string]item)}
		c.shards[tenantID] = s
	}
	return s
}

// Get returns the live value for (tenantID, key). An expired entry is
// removed and reported as a miss.
func (c *Cache) Get(tenantID, key string) (any, bool) {
	s := c.shardFor(tenantID, false)
	if s == nil {
		c.misses.Add(1)
		return nil, false
	}

	now := c.now()
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()

	if ok && now.Before(it.expiresAt) {
		c.hits.Add(1)
		return it.value, true
	}
	if ok {
		s.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, still := s.items[key]; still && !now.Before(cur.expiresAt) {
			delete(s.items, key)
			c.evictions.Add(1)
		}
		s.mu.Unlock()
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores value under (tenantID, key) for ttl, or the default TTL when ttl
// is not positive.
func (c *Cache) Set(tenantID, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	s := c.shardFor(tenantID, true)
	s.mu.Lock()
	s.items[key] = item{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
}

func loadKey(tenantID, key string) string { return tenantID + "\x00" + key }

func (c *Cache) generation(tenantID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[tenantID]
}

// bump advances tenantID's generation and detaches in-flight loads whose key
// matches, so later callers start a fresh load.
func (c *Cache) bump(tenantID string, match func(key string) bool) {
	c.mu.Lock()
	c.gens[tenantID]++
	c.mu.Unlock()

	c.inflight.Range(func(k, v any) bool {
		lk := k.(string)
		if *v.(*string) == tenantID && match(strings.TrimPrefix(lk, tenantID+"\x00")) {
			c.loads.Forget(lk)
		}
		return true
	})
}

// Invalidate removes (tenantID, key). Removing a missing key is a no-op.
func (c *Cache) Invalidate(tenantID, key string) {
	c.bump(tenantID, func(k string) bool { return k == key })
	s := c.shardFor(tenantID, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// InvalidatePrefix removes every key of tenantID starting with prefix and
// returns how many were removed.
func (c *Cache) InvalidatePrefix(tenantID, prefix string) int {
	c.bump(tenantID, func(k string) bool { return strings.HasPrefix(k, prefix) })
	s := c.shardFor(tenantID, false)
	if s == nil {
		return 0
	}
	n := 0
	s.mu.Lock()
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
			n++
		}
	}
	s.mu.Unlock()
	return n
}

// InvalidateTenant drops the whole shard of tenantID.
func (c *Cache) InvalidateTenant(tenantID string) {
	c.bump(tenantID, func(string) bool { return true })
	c.mu.Lock()
	delete(c.shards, tenantID)
	c.mu.Unlock()
}

// setAt stores value only while tenantID is still at generation gen. The
// generation check and the insert happen under c.mu so an invalidation
// cannot land between them.
func (c *Cache) setAt(tenantID, key string, value any, ttl time.Duration, gen uint64) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	s := c.shardFor(tenantID, true)
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.gens[tenantID] != gen || c.shards[tenantID] != s {
		return false
	}
	s.mu.Lock()
	s.items[key] = item{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
	return true
}

// GetOrLoad returns the cached value or calls load once per (tenantID, key)
// across concurrent callers, caching a successful result for ttl. Errors are
// not cached, and neither is a result whose key was invalidated while load
// was running.
func (c *Cache) GetOrLoad(tenantID, key string, ttl time.Duration, load func() (any, error)) (any, error) {
	if v, ok := c.Get(tenantID, key); ok {
		return v, nil
	}
	lk := loadKey(tenantID, key)
	v, err, _ := c.loads.Do(lk, func() (any, error) {
		owner := &tenantID
		c.inflight.Store(lk, owner)
		defer c.inflight.CompareAndDelete(lk, owner)

		gen := c.generation(tenantID)
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.setAt(tenantID, key, v, ttl, gen)
		return v, nil
	})
	return v, err
}

// Stats is an aggregate snapshot across all tenants.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
	Tenants   int    `json:"tenants"`
}

// Stats returns the current counters and entry count. Entries includes
// expired entries that have not been swept yet.
func (c *Cache) Stats() Stats {
	st := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	c.mu.RLock()
	shards := make([]*shard, 0, len(c.shards))
	for _, s := range c.shards {
		shards = append(shards, s)
	}
	c.mu.RUnlock()

	st.Tenants = len(shards)
	for _, s := range shards {
		s.mu.RLock()
		st.Entries += len(s.items)
		s.mu.RUnlock()
	}
	return st
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Sweep removes every expired entry and drops shards left empty. It returns
// the number of entries removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.RLock()
	ids := make([]string, 0, len(c.shards))
	for id := range c.shards {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		s := c.shardFor(id, false)
		if s == nil {
			continue
		}
		s.mu.Lock()
		for k, it := range s.items {
			if !now.Before(it.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		empty := len(s.items) == 0
		s.mu.Unlock()

		if empty {
			c.mu.Lock()
			// Only drop the shard if it is still the same, still-empty one.
			if cur := c.shards[id]; cur == s {
				s.mu.RLock()
				if len(s.items) == 0 {
					delete(c.shards, id)
				}
				s.mu.RUnlock()
			}
			c.mu.Unlock()
		}
	}
	c.evictions.Add(uint64(removed))
	return removed
}

// StartSweeper runs Sweep every interval and registers the ticker with tr
// under "cache.sweeper".
func (c *Cache) StartSweeper(tr *tracker.Tracker, interval time.Duration) tracker.Releaser {
	return c.StartSweeperNamed(tr, "cache.sweeper", interval)
}

// StartSweeperNamed is StartSweeper under a caller-chosen tracker name, for
// processes that run more than one cache.
func (c *Cache) StartSweeperNamed(tr *tracker.Tracker, name string, interval time.Duration) tracker.Releaser {
	if interval <= 0 {
		interval = time.Minute
	}
	return tr.Ticker(name, interval, func() { c.Sweep() })
}
