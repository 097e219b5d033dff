// Package buffers provides the fixed-capacity ring used for live-data
// history and packet traces. Oldest entries are evicted first.
package buffers

import "sync"

// Ring is a generic fixed-capacity circular buffer.
// Safe for concurrent use.
type Ring[T any] struct {
	mu sync.RWMutex

	entries  []T
	capacity int
	head     int // index where the next write goes once full

	total uint64 // entries ever written
}

// NewRing creates a ring holding at most capacity entries
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends one entry, evicting the oldest when full
func (r *Ring[T]) Push(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushLocked(entry)
}

func (r *Ring[T]) pushLocked(entry T) {
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
	} else {
		r.entries[r.head] = entry
	}
	r.head = (r.head + 1) % r.capacity
	r.total++
}

// Snapshot returns all entries, oldest first
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil
	}

	out := make([]T, len(r.entries))
	if len(r.entries) < r.capacity {
		copy(out, r.entries)
	} else {
		n := copy(out, r.entries[r.head:])
		copy(out[n:], r.entries[:r.head])
	}
	return out
}

// Last returns the newest n entries, oldest first
func (r *Ring[T]) Last(n int) []T {
	all := r.Snapshot()
	if n <= 0 || len(all) == 0 {
		return nil
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:]
}

// Len returns the number of buffered entries
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Total returns how many entries were ever pushed, including evicted ones
func (r *Ring[T]) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Reset drops all entries. Total keeps counting.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
	r.head = 0
}
