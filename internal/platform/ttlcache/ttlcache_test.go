package ttlcache

import (
	"testing"
	"time"
)

func TestGetReturnsUnexpiredValue(t *testing.T) {
	cache := New[string, int](time.Minute)
	cache.Put("sku-1", 42)

	got, ok := cache.Get("sku-1")
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestGetMissesAfterTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := New[string, int](time.Minute)
	cache.SetClock(func() time.Time { return now })
	cache.Put("sku-1", 42)

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get("sku-1"); ok {
		t.Fatal("expected the entry to expire")
	}
}

func TestInvalidate(t *testing.T) {
	cache := New[string, bool](time.Minute)
	cache.Put("loc-A", true)
	cache.Invalidate("loc-A")

	if _, ok := cache.Get("loc-A"); ok {
		t.Fatal("expected the entry to be removed")
	}
}
