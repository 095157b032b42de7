package cache

import (
	"sync"
	"time"
)

// CursorTTL bounds how long a pagination cursor may be reused.
const CursorTTL = 300 * time.Second

// Backfill buckets fetched values per (entity, day) and tracks a pagination
// cursor per entity so a backward walk can resume instead of restarting.
type Backfill[T any] struct {
	prefix  string
	buckets *Cache[[]T]
	cursors *Cache[string]

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBackfill creates a backfill cache whose keys are namespaced by prefix.
func NewBackfill[T any](prefix string, opts ...Option) *Backfill[T] {
	return &Backfill[T]{
		prefix:  prefix,
		buckets: New[[]T](opts...),
		cursors: New[string](opts...),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (b *Backfill[T]) bucketKey(entity, day string) string {
	return b.prefix + ":" + entity + ":" + day
}

func (b *Backfill[T]) cursorKey(entity string) string {
	return b.prefix + ":" + entity + ":cursor"
}

// SetBucket stores the items fetched for entity on day.
func (b *Backfill[T]) SetBucket(entity, day string, items []T, ttl time.Duration) {
	b.buckets.Set(b.bucketKey(entity, day), items, ttl)
}

// GetBucket returns the items cached for entity on day.
func (b *Backfill[T]) GetBucket(entity, day string) ([]T, bool) {
	return b.buckets.Get(b.bucketKey(entity, day))
}

// SetCursor records the resumption token for entity. It expires after CursorTTL.
func (b *Backfill[T]) SetCursor(entity, cursor string) {
	b.cursors.Set(b.cursorKey(entity), cursor, CursorTTL)
}

// GetCursor returns the resumption token for entity, if still fresh.
func (b *Backfill[T]) GetCursor(entity string) (string, bool) {
	return b.cursors.Get(b.cursorKey(entity))
}

// ClearCursor drops the resumption token for entity.
func (b *Backfill[T]) ClearCursor(entity string) {
	b.cursors.Del(b.cursorKey(entity))
}

// Clear drops every bucket and cursor.
func (b *Backfill[T]) Clear() {
	b.buckets.Clear()
	b.cursors.Clear()
}

// Lock serializes backfills for one entity. The returned func releases it.
func (b *Backfill[T]) Lock(entity string) (unlock func()) {
	b.mu.Lock()
	m, ok := b.locks[entity]
	if !ok {
		m = &sync.Mutex{}
		b.locks[entity] = m
	}
	b.mu.Unlock()

	m.Lock()
	return m.Unlock
}
