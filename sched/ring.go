// Package sched implements the two-goroutine scheduling harness (spec.md
// §5): a cooperative loop standing in for "Core A" and a pinned real-time
// worker standing in for "Core B", handed off through a lock-free
// single-producer/single-consumer ring buffer rather than a mutex, so the
// real-time side never blocks on the cooperative side.
package sched

import "sync/atomic"

// Ring is a fixed-capacity SPSC ring buffer. Exactly one goroutine may call
// Push; exactly one (possibly different) goroutine may call Pop. capacity
// is rounded up to the next power of two so index wrapping is a mask, not
// a modulo.
type Ring[T any] struct {
	buf  []T
	mask uint64
	head atomic.Uint64 // next write index, producer-owned
	tail atomic.Uint64 // next read index, consumer-owned
}

// NewRing constructs a Ring with room for at least capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Ring[T]{buf: make([]T, n), mask: uint64(n - 1)}
}

// Push appends v. ok is false if the ring is full (the producer must not
// block; spec.md §5 "no suspension points on the real-time side").
func (r *Ring[T]) Push(v T) (ok bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail > r.mask {
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// Pop removes and returns the oldest element, if any.
func (r *Ring[T]) Pop() (v T, ok bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		return v, false
	}
	v = r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return v, true
}

// Len reports the number of buffered-but-unread elements. Approximate
// under concurrent access, suitable only for diagnostics.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}
