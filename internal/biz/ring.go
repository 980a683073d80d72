package biz

import "sync"

// Ring is a fixed-capacity buffer that overwrites its oldest entries once
// full. It backs the telemetry metric and error buffers so memory stays
// bounded no matter how long the process runs.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	next  int
	count int
}

// NewRing creates a ring buffer holding at most capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest one when the buffer is full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns a copy of the buffered entries, oldest first. The buffer
// is left untouched.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.copyLocked()
}

// Drain returns the buffered entries, oldest first, and empties the buffer.
// Used by the sink flusher so entries are forwarded at most once.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.copyLocked()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.next = 0
	r.count = 0
	return out
}

// Len returns the number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity of the buffer.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

func (r *Ring[T]) copyLocked() []T {
	out := make([]T, 0, r.count)
	if r.count < len(r.buf) {
		out = append(out, r.buf[:r.count]...)
		return out
	}
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
