// Package api
// Author: momentics <momentics@gmail.com>
//
// Pooled byte buffer contract shared by the allocator and its consumers
// (reactor loops, connection codecs).
//
// A ByteBuf addresses a block carved out of an allocator chunk. The block is
// owned by the chunk; the ByteBuf only owns the right to use it until Release.

package api

import "io"

// ByteBuf describes a growable, index-based view over a pooled memory block.
//
// Layout:
//
//	+-------------------+------------------+------------------+
//	| discardable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0        <=    readerIndex   <=   writerIndex    <=    capacity
type ByteBuf interface {
	io.Reader
	io.Writer

	// Capacity is the number of bytes the buffer may hold without reallocation.
	Capacity() int

	// SetCapacity grows or shrinks the buffer, reallocating when the backing
	// block cannot serve the new size.
	SetCapacity(newCapacity int) error

	// MaxCapacity is the hard upper bound for Capacity.
	MaxCapacity() int

	ReaderIndex() int
	WriterIndex() int
	ReadableBytes() int
	WritableBytes() int

	// EnsureWritable grows the buffer so that at least n bytes can be written.
	EnsureWritable(n int) error

	// Bytes returns the readable region without copying. The slice is only
	// valid until the next mutating call or Release.
	Bytes() []byte

	// Retrieve discards n readable bytes.
	Retrieve(n int)

	// Release returns the backing block to its pool.
	// After Release, the buffer must not be used.
	Release() error
}
