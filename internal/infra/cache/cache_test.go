package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("acc-1", "default-category-1")
	val, ok := c.Get("acc-1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "default-category-1" {
		t.Errorf("expected 'default-category-1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("acc-1", "cat")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("acc-1"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_JanitorSweeps(t *testing.T) {
	c := cache.New[int](20 * time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(100 * time.Millisecond)

	if n := c.Len(); n != 0 {
		t.Errorf("expected janitor to remove expired entries, %d left", n)
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("acc-1", "cat")
	c.Delete("acc-1")

	if _, ok := c.Get("acc-1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Close()
	c.Close()

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Error("expected cache to remain usable after Close")
	}
}
