package util

import "sync"

// Recent remembers the last max values added to it. Safe for concurrent use.
type Recent[T any] struct {
	mu    sync.Mutex
	max   int
	items []T
}

// NewRecent returns a Recent keeping at most max values; max < 1 keeps one.
func NewRecent[T any](max int) *Recent[T] {
	if max < 1 {
		max = 1
	}
	return &Recent[T]{max: max, items: make([]T, 0, 2*max)}
}

// Add appends v, forgetting the oldest value once more than max are held.
func (r *Recent[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 2*r.max {
		// compact in place; the backing array never grows past 2*max
		n := copy(r.items, r.items[r.max:])
		clear(r.items[n:])
		r.items = r.items[:n]
	}
	r.items = append(r.items, v)
}

// Tail returns a copy of the newest n values, oldest first. n <= 0 returns
// everything remembered.
func (r *Recent[T]) Tail(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items
	if len(kept) > r.max {
		kept = kept[len(kept)-r.max:]
	}
	if n > 0 && n < len(kept) {
		kept = kept[len(kept)-n:]
	}
	return append([]T(nil), kept...)
}

// Len returns how many values are remembered.
func (r *Recent[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return min(len(r.items), r.max)
}
