package svcaccount

import "testing"

func TestLRUEvictsOldest(t *testing.T) {
	c := newLRU(2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts "a"

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be evicted")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatal("expected b to survive")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatal("expected c to survive")
	}
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	c := newLRU(2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now more recent than b
	c.Set("c", 3) // should evict b, not a

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted after a was refreshed")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
}

func TestLRUClear(t *testing.T) {
	c := newLRU(2)
	c.Set("a", 1)
	c.Clear()
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected Clear to empty the cache")
	}
}
