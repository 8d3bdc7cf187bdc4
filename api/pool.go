// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Object recycling contract used by the allocator for its own bookkeeping
// objects (buffer handles, thread cache entries).

package api

// ObjectPool provides generic pooling of Go objects allocated transiently.
// Implementations must hand out objects in a fully reset state.
type ObjectPool[T any] interface {
	// Get returns an available instance from pool, creating one if empty.
	Get() T

	// Put resets obj and makes it available for reuse.
	Put(obj T)
}
