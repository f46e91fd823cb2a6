// Package handle provides a reference-counted shared handle to a live value.
//
// A Handle grants shared read access to the value it wraps. Clones share the
// same reference count. The last outstanding handle can be reclaimed, which
// consumes it and yields the value for exclusive use; the orchestrator relies
// on this during teardown, after every dependent has released its clones.
//
// Go's garbage collector still owns the memory. The count tracks who may
// still be using the value, not when it is freed.
package handle

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrNotExclusive is returned by Reclaim when other clones are still alive.
	ErrNotExclusive = errors.New("handle is not exclusive")

	// ErrReleased is returned by Reclaim on a handle that was already released
	// or reclaimed.
	ErrReleased = errors.New("handle already released")
)

type cell[T any] struct {
	value T
	refs  atomic.Int64
}

// Handle is one reference to a shared value.
type Handle[T any] struct {
	c        *cell[T]
	released atomic.Bool
}

// New wraps v in a handle with a reference count of one.
func New[T any](v T) *Handle[T] {
	c := &cell[T]{value: v}
	c.refs.Store(1)
	return &Handle[T]{c: c}
}

// Clone returns a new reference to the same value. Cloning a released handle
// panics.
func (h *Handle[T]) Clone() *Handle[T] {
	if h.released.Load() {
		panic("handle: clone of released handle")
	}
	h.c.refs.Add(1)
	return &Handle[T]{c: h.c}
}

// Borrow returns the shared value. It never blocks.
func (h *Handle[T]) Borrow() T {
	return h.c.value
}

// Release drops this handle's reference. Calling it more than once has no
// further effect. It reports whether this was the last reference.
func (h *Handle[T]) Release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	return h.c.refs.Add(-1) == 0
}

// Refs returns the number of live references to the shared value.
func (h *Handle[T]) Refs() int64 {
	return h.c.refs.Load()
}

// Reclaim consumes the handle and returns the value for exclusive use. It
// only succeeds when this handle is the last live reference.
func (h *Handle[T]) Reclaim() (T, error) {
	var zero T
	if h.released.Load() {
		return zero, ErrReleased
	}
	if !h.c.refs.CompareAndSwap(1, 0) {
		return zero, ErrNotExclusive
	}
	h.released.Store(true)
	return h.c.value, nil
}
