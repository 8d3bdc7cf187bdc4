// File: pool/memory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw memory backing for chunks.

package pool

// chunkMemory provides and reclaims chunk extents.
type chunkMemory interface {
	allocate(size int) ([]byte, error)
	release(b []byte) error
	name() string
}

// heapMemory hands out Go heap slices; release leaves them to the GC.
type heapMemory struct{}

func (heapMemory) allocate(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapMemory) release([]byte) error { return nil }

func (heapMemory) name() string { return "heap" }
