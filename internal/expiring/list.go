// Package expiring provides a capacity-bounded collection whose items also
// expire after a fixed timeout. Capacity-based eviction and time-based
// eviction are independent expiry paths racing on the same structure, so
// removal is a no-op when the other path got there first.
package expiring

import (
	"sync"
	"time"
)

type entry[T comparable] struct {
	value T
	timer *time.Timer // nil when ttl is disabled
}

// List holds up to limit items. Inserting beyond the limit evicts the
// oldest item. Every inserted item is also removed automatically after
// ttl, unless evicted by capacity or removed explicitly first.
type List[T comparable] struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	entries []entry[T]
}

// NewList creates a list with the given capacity and per-item ttl.
// A ttl of zero disables time-based expiry.
func NewList[T comparable](limit int, ttl time.Duration) *List[T] {
	return &List[T]{limit: limit, ttl: ttl}
}

// Add inserts item, evicting the oldest entry when the list is full.
func (l *List[T]) Add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.limit && len(l.entries) > 0 {
		l.evictLocked(0)
	}

	e := entry[T]{value: item}
	if l.ttl > 0 {
		e.timer = time.AfterFunc(l.ttl, func() {
			l.Remove(item)
		})
	}
	l.entries = append(l.entries, e)
}

// Remove deletes the oldest entry equal to item, stops its expiry timer,
// and reports whether anything was removed. Removing an item not present
// is a no-op.
func (l *List[T]) Remove(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.value == item {
			l.evictLocked(i)
			return true
		}
	}
	return false
}

// Contains reports whether item is currently present.
func (l *List[T]) Contains(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.value == item {
			return true
		}
	}
	return false
}

// Items returns the current items, oldest first.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]T, len(l.entries))
	for i, e := range l.entries {
		items[i] = e.value
	}
	return items
}

// Full reports whether the list is at capacity.
func (l *List[T]) Full() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) >= l.limit
}

// Len returns the current item count.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictLocked removes the entry at index i and cancels its timer so an
// early removal never leaves a dangling expiry firing later.
func (l *List[T]) evictLocked(i int) {
	if t := l.entries[i].timer; t != nil {
		t.Stop()
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}
