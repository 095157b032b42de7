package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSetGetNoTTL(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithClock(clock.Now))
	c.Set("k", "v", 0)

	clock.Advance(365 * 24 * time.Hour)
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Errorf("expected hit with 'v', got %q ok=%v", v, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string](WithClock(clock.Now))
	c.Set("k", "v", time.Second)

	clock.Advance(999 * time.Millisecond)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit before expiry, got %q ok=%v", v, ok)
	}

	clock.Advance(time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss once ttl has elapsed")
	}
}

func TestExpiredEntryEvictedOnRead(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithClock(clock.Now))
	c.Set("a", 1, time.Second)
	c.Set("b", 2, 0)

	clock.Advance(2 * time.Second)
	if c.Len() != 2 {
		t.Fatalf("expected expired entry to linger until read, len=%d", c.Len())
	}
	c.Get("a")
	if c.Len() != 1 {
		t.Errorf("expected expired entry evicted on read, len=%d", c.Len())
	}
}

func TestDelAndClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	c.Del("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected 'a' deleted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected 'b' to remain")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, len=%d", c.Len())
	}
}

func TestBackfillBuckets(t *testing.T) {
	clock := newFakeClock()
	b := NewBackfill[string]("socialdata", WithClock(clock.Now))

	b.SetBucket("alice", "2026-02-05", []string{"p1", "p2"}, time.Hour)
	b.SetBucket("bob", "2026-02-05", []string{"p3"}, time.Hour)

	got, ok := b.GetBucket("alice", "2026-02-05")
	if !ok || len(got) != 2 {
		t.Fatalf("expected alice bucket with 2 items, got %v ok=%v", got, ok)
	}
	if _, ok := b.GetBucket("alice", "2026-02-04"); ok {
		t.Error("expected miss for a different day")
	}

	clock.Advance(time.Hour)
	if _, ok := b.GetBucket("bob", "2026-02-05"); ok {
		t.Error("expected bucket to expire after its ttl")
	}
}

func TestBackfillCursorTTL(t *testing.T) {
	clock := newFakeClock()
	b := NewBackfill[string]("socialdata", WithClock(clock.Now))

	b.SetCursor("alice", "cursor-1")
	clock.Advance(CursorTTL - time.Second)
	if c, ok := b.GetCursor("alice"); !ok || c != "cursor-1" {
		t.Fatalf("expected fresh cursor, got %q ok=%v", c, ok)
	}

	clock.Advance(time.Second)
	if _, ok := b.GetCursor("alice"); ok {
		t.Error("expected cursor to expire after CursorTTL")
	}
}

func TestBackfillCursorIndependentOfBuckets(t *testing.T) {
	b := NewBackfill[string]("x")
	b.SetBucket("alice", "cursor", []string{"not a cursor"}, 0)
	if _, ok := b.GetCursor("alice"); ok {
		t.Error("bucket named 'cursor' must not collide with the cursor slot")
	}
	b.SetCursor("alice", "c")
	b.ClearCursor("alice")
	if _, ok := b.GetCursor("alice"); ok {
		t.Error("expected cursor cleared")
	}
}

func TestBackfillLockSerializesEntity(t *testing.T) {
	b := NewBackfill[int]("x")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := b.Lock("alice")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one concurrent holder, saw %d", maxSeen)
	}
}
