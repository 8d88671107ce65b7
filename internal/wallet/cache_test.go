package wallet

import (
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := NewMemoryCache(60 * time.Second)
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	c.Set("0xABCD", i64(500))

	got, ok := c.Get("0xabcd")
	if !ok || got == nil || *got != 500 {
		t.Fatalf("expected fresh hit with 500, got %v %v", got, ok)
	}

	clock = clock.Add(61 * time.Second)
	if _, ok := c.Get("0xabcd"); ok {
		t.Error("expected stale entry to look like a miss")
	}

	// A re-set refreshes the fetch time.
	c.Set("0xabcd", i64(500))
	if _, ok := c.Get("0xabcd"); !ok {
		t.Error("expected hit after refresh")
	}
}

func TestMemoryCacheSnapshotIgnoresTTL(t *testing.T) {
	c := NewMemoryCache(60 * time.Second)
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	c.Set("0xa", i64(100))
	c.Set("0xb", nil)

	clock = clock.Add(time.Hour)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries in snapshot, got %d", len(snap))
	}
	if v, ok := snap["0xa"]; !ok || v == nil || *v != 100 {
		t.Errorf("unexpected snapshot entry for 0xa: %v %v", v, ok)
	}
	if v, ok := snap["0xb"]; !ok || v != nil {
		t.Errorf("expected known-unknown nil entry for 0xb, got %v %v", v, ok)
	}
}

func TestMemoryCacheNilMeansLookedUp(t *testing.T) {
	c := NewMemoryCache(time.Hour)

	if _, ok := c.Get("0xa"); ok {
		t.Fatal("expected miss before any Set")
	}

	c.Set("0xa", nil)
	got, ok := c.Get("0xa")
	if !ok {
		t.Fatal("expected hit for looked-up-but-unknown wallet")
	}
	if got != nil {
		t.Errorf("expected nil earliest, got %v", *got)
	}
}

func TestMemoryCacheLowercasesKeys(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	c.Set("0xAbCd", i64(42))

	snap := c.Snapshot()
	if _, ok := snap["0xabcd"]; !ok {
		t.Errorf("expected lower-cased key in snapshot, got %v", snap)
	}
	if got, ok := c.Get("0xABCD"); !ok || *got != 42 {
		t.Error("expected case-insensitive Get hit")
	}
}
