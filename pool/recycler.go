// File: pool/recycler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Owner-local free list for the allocator's own bookkeeping objects.

package pool

import "github.com/momentics/hioload-mem/api"

const defaultRecyclerCapacity = 4096

// Recycler is a LIFO stack of reusable objects. It is not safe for
// concurrent use; each ThreadCache owns its recyclers.
type Recycler[T any] struct {
	newFn       func() T
	reset       func(T)
	stack       []T
	maxCapacity int
}

var _ api.ObjectPool[*cacheEntry] = (*Recycler[*cacheEntry])(nil)

// NewRecycler creates a recycler. reset runs on every Put; objects beyond
// maxCapacity are left to the GC. maxCapacity <= 0 selects the default.
func NewRecycler[T any](newFn func() T, reset func(T), maxCapacity int) *Recycler[T] {
	if maxCapacity <= 0 {
		maxCapacity = defaultRecyclerCapacity
	}
	return &Recycler[T]{newFn: newFn, reset: reset, maxCapacity: maxCapacity}
}

// Get pops a recycled object or creates one.
func (r *Recycler[T]) Get() T {
	n := len(r.stack)
	if n == 0 {
		return r.newFn()
	}
	obj := r.stack[n-1]
	var zero T
	r.stack[n-1] = zero
	r.stack = r.stack[:n-1]
	return obj
}

// Put resets obj and keeps it for reuse.
func (r *Recycler[T]) Put(obj T) {
	if r.reset != nil {
		r.reset(obj)
	}
	if len(r.stack) < r.maxCapacity {
		r.stack = append(r.stack, obj)
	}
}

// Len is the number of idle objects.
func (r *Recycler[T]) Len() int { return len(r.stack) }
