// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
)

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
	defaultErr   error
)

// Default returns the process-wide allocator built from DefaultConfig on
// first use. Components that need other settings construct their own
// Allocator and pass it explicitly.
func Default() (*Allocator, error) {
	defaultOnce.Do(func() {
		defaultAlloc, defaultErr = New(DefaultConfig())
	})
	return defaultAlloc, defaultErr
}

// DefaultBuffer is a shortcut for Default().Buffer.
func DefaultBuffer(initialCapacity, maxCapacity int) (*PooledByteBuf, error) {
	a, err := Default()
	if err != nil {
		return nil, err
	}
	return a.Buffer(initialCapacity, maxCapacity)
}
