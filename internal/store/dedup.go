package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupRing is a bounded, insertion-ordered set of transaction hashes with
// strict FIFO eviction. It gates Ledger admission so a tx is never counted
// twice for the life of the process (within capacity).
//
// The ring is backed by a fixed-size LRU cache, but recency is never
// refreshed: lookups use Contains and Add is guarded, so eviction order
// stays pure insertion order.
type DedupRing struct {
	cache *lru.Cache[string, struct{}]
}

// NewDedupRing creates a ring holding at most capacity hashes.
func NewDedupRing(capacity int) *DedupRing {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		// capacity is validated by config; a non-positive value here is a bug
		panic(err)
	}
	return &DedupRing{cache: cache}
}

// Has reports whether tx is currently in the ring.
func (r *DedupRing) Has(tx string) bool {
	return r.cache.Contains(tx)
}

// Add inserts tx, evicting the oldest entry at capacity. Re-adding a present
// tx is a no-op and does not disturb eviction order.
func (r *DedupRing) Add(tx string) {
	if r.cache.Contains(tx) {
		return
	}
	r.cache.Add(tx, struct{}{})
}

// Size returns the number of hashes currently held.
func (r *DedupRing) Size() int {
	return r.cache.Len()
}
