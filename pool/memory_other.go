//go:build !linux

// File: pool/memory_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

func newChunkMemory(bool) chunkMemory {
	return heapMemory{}
}
