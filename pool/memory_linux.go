//go:build linux

// File: pool/memory_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Anonymous private mappings for chunk memory. Chunks live outside the Go
// heap, so large pools add no GC scan work and are returned to the OS on
// destroy.

package pool

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-mem/api"
	"golang.org/x/sys/unix"
)

type mmapMemory struct{}

func (mmapMemory) allocate(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("%w: mmap %d bytes: %v", api.ErrOutOfMemory, size, err)
		}
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return b, nil
}

func (mmapMemory) release(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap %d bytes: %w", len(b), err)
	}
	return nil
}

func (mmapMemory) name() string { return "mmap" }

func newChunkMemory(useMmap bool) chunkMemory {
	if useMmap {
		return mmapMemory{}
	}
	return heapMemory{}
}
