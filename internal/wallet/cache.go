// Package wallet provides wallet age knowledge: the TTL-keyed cache of
// earliest-activity timestamps and the data-api client that fetches them.
package wallet

import (
	"strings"
	"sync"
	"time"
)

// Cache maps lower-cased wallet addresses to their earliest known activity
// timestamp (epoch seconds). A nil value means "looked up, still unknown".
//
// Get applies the TTL: a stale entry looks like a miss so the live
// enrichment path re-fetches. Snapshot deliberately ignores the TTL and
// returns everything currently believed, which is what the backfill sweep
// wants even from entries too stale to trust for fresh classification.
type Cache interface {
	Get(addr string) (earliest *int64, found bool)
	Set(addr string, earliest *int64)
	Snapshot() map[string]*int64
}

type memoryEntry struct {
	earliest  *int64
	fetchedAt time.Time
}

// MemoryCache is the in-process Cache implementation.
type MemoryCache struct {
	mu  sync.RWMutex
	m   map[string]memoryEntry
	ttl time.Duration

	now func() time.Time
}

// NewMemoryCache creates a cache whose Get path treats entries older than
// ttl as absent.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		m:   make(map[string]memoryEntry),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the earliest activity for addr, honoring the TTL.
func (c *MemoryCache) Get(addr string) (*int64, bool) {
	key := strings.ToLower(addr)

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(rec.fetchedAt) > c.ttl {
		return nil, false
	}
	return rec.earliest, true
}

// Set overwrites the entry for addr unconditionally, refreshing its fetch time.
func (c *MemoryCache) Set(addr string, earliest *int64) {
	key := strings.ToLower(addr)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = memoryEntry{earliest: earliest, fetchedAt: c.now()}
}

// Snapshot returns a copy of every held entry regardless of TTL.
func (c *MemoryCache) Snapshot() map[string]*int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*int64, len(c.m))
	for k, rec := range c.m {
		out[k] = rec.earliest
	}
	return out
}
