package window

// Ring is a fixed-capacity buffer that keeps the most recently pushed items.
// Pushing into a full ring silently overwrites the oldest item.
// Ring is not safe for concurrent use; Store adds the locking.
type Ring[T any] struct {
	buf  []T
	next int // slot the next Push writes to
	size int
}

// NewRing creates a ring holding at most capacity items. Capacity below 1 is raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push inserts v as the newest item, evicting the oldest one when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Recent returns up to n items, newest first. A negative n returns everything.
// The result is a fresh slice.
func (r *Ring[T]) Recent(n int) []T {
	if n < 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

// All returns every held item, newest first.
func (r *Ring[T]) All() []T {
	return r.Recent(-1)
}

// Len returns the number of held items.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Reset drops every item.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.next = 0
	r.size = 0
}
