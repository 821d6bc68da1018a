package cache

import (
	"testing"
	"time"
)

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("least recently used entry must be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %d (ok=%v)", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCacheTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute).WithClock(func() time.Time { return now })

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected fresh entry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry")
	}

	c.Set("x", "1")
	c.Set("y", "2")
	now = now.Add(2 * time.Minute)
	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("CleanExpired() = %d, want 2", n)
	}
}

func TestInvalidateTags(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	c.SetTagged("members:1", "page", TagMembers)
	c.SetTagged("member:M001", "detail", TagMember)
	c.SetTagged("meat:2024:1", "meat", TagMeatStatus)
	c.Set("plain", "untagged")

	if n := c.InvalidateTags(TagMember, TagMembers); n != 2 {
		t.Fatalf("InvalidateTags() = %d, want 2", n)
	}
	if _, ok := c.Get("member:M001"); ok {
		t.Fatal("member detail must be invalidated")
	}
	if _, ok := c.Get("meat:2024:1"); !ok {
		t.Fatal("meat view must survive")
	}
	if _, ok := c.Get("plain"); !ok {
		t.Fatal("untagged entry must survive")
	}
}

func TestSetTaggedReplacesTags(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.SetTagged("k", 1, TagMembers)
	c.SetTagged("k", 2, TagMeatStatus)

	if n := c.InvalidateTags(TagMembers); n != 0 {
		t.Fatalf("old tag must be dropped, removed %d", n)
	}
	if v, _ := c.Get("k"); v != 2 {
		t.Fatalf("expected replaced value 2, got %d", v)
	}
}

func TestManagerInvalidateFansOut(t *testing.T) {
	m := NewManager(nil)
	pages := NewLRUCache[[]string](10, time.Minute)
	details := NewLRUCache[string](10, time.Minute)
	m.Register(pages)
	m.Register(details)

	pages.SetTagged("members:1", []string{"a"}, TagMembers)
	details.SetTagged("member:M1", "a", TagMember)
	details.SetTagged("member:M2", "b", TagMember)

	if n := m.Invalidate(TagMember, TagMembers); n != 3 {
		t.Fatalf("Invalidate() = %d, want 3", n)
	}
	if pages.Size() != 0 || details.Size() != 0 {
		t.Fatal("expected both caches to be empty")
	}
}

func TestManagerFillSkipsStaleGeneration(t *testing.T) {
	m := NewManager(nil)
	details := NewLRUCache[string](10, time.Minute)
	m.Register(details)

	gen := m.Generation(TagMember)
	// A mutation lands while the read is still fetching.
	m.Invalidate(TagMember, TagMembers)
	if m.Fill(gen, []Tag{TagMember}, func() { details.SetTagged("M1", "stale", TagMember) }) {
		t.Fatal("Fill() ran after its tag was invalidated")
	}
	if _, ok := details.Get("M1"); ok {
		t.Fatal("stale entry was cached")
	}

	gen = m.Generation(TagMember)
	m.Invalidate(TagMeatStatus)
	if !m.Fill(gen, []Tag{TagMember}, func() { details.SetTagged("M1", "fresh", TagMember) }) {
		t.Fatal("Fill() skipped although only an unrelated tag changed")
	}
	if v, ok := details.Get("M1"); !ok || v != "fresh" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
