package store

import "testing"

func TestDedupRingEviction(t *testing.T) {
	r := NewDedupRing(3)

	for _, tx := range []string{"a", "b", "c", "d"} {
		r.Add(tx)
	}

	if r.Has("a") {
		t.Error("expected oldest entry 'a' to be evicted")
	}
	for _, tx := range []string{"b", "c", "d"} {
		if !r.Has(tx) {
			t.Errorf("expected %q to be present", tx)
		}
	}
	if r.Size() != 3 {
		t.Errorf("expected size 3, got %d", r.Size())
	}
}

func TestDedupRingIdempotentAdd(t *testing.T) {
	r := NewDedupRing(3)

	r.Add("x")
	for i := 0; i < 10; i++ {
		r.Add("x")
	}

	if !r.Has("x") {
		t.Error("expected 'x' to be present")
	}
	if r.Size() != 1 {
		t.Errorf("expected size 1 after repeated adds, got %d", r.Size())
	}
}

func TestDedupRingReaddDoesNotRefreshOrder(t *testing.T) {
	r := NewDedupRing(2)

	r.Add("a")
	r.Add("b")
	// Re-adding "a" must not make it newer than "b".
	r.Add("a")
	r.Add("c")

	if r.Has("a") {
		t.Error("expected 'a' to be evicted as the oldest insertion")
	}
	if !r.Has("b") || !r.Has("c") {
		t.Error("expected 'b' and 'c' to be present")
	}
}

func TestDedupRingHasMissing(t *testing.T) {
	r := NewDedupRing(5)
	if r.Has("never-added") {
		t.Error("expected miss for never-added id")
	}
	if r.Size() != 0 {
		t.Errorf("expected size 0, got %d", r.Size())
	}
}
