package cache

import (
	"testing"
	"time"
)

func TestGetSetHitsMisses(t *testing.T) {
	c := New[string, int](10, time.Hour)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected hit with 1, got %v %v", v, ok)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string, int](10, time.Millisecond)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a", 1)

	c.now = func() time.Time { return now.Add(10 * time.Millisecond) }
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New[string, int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the LRU
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c present")
	}
}

func TestDeleteFunc(t *testing.T) {
	c := New[string, string](10, time.Hour)
	c.Set("u1:q1", "user1")
	c.Set("u1:q2", "user1")
	c.Set("u2:q1", "user2")

	n := c.DeleteFunc(func(_ string, v string) bool { return v == "user1" })
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("u2:q1"); !ok {
		t.Fatal("expected user2 entry to survive")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	c := New[string, int](10, time.Hour)
	c.Set("a", 1)
	if !c.Delete("a") {
		t.Fatal("expected first delete to succeed")
	}
	if c.Delete("a") {
		t.Fatal("expected second delete to report absent")
	}
}
