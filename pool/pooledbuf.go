// File: pool/pooledbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PooledByteBuf is the handle callers hold for one pooled block. The bytes
// belong to the chunk; the buffer only owns the handle until Release, after
// which the buffer object itself is recycled.

package pool

import (
	"io"

	"github.com/momentics/hioload-mem/api"
)

// PooledByteBuf is not safe for concurrent use. A buffer obtained through a
// ThreadCache must be released by the goroutine that owns that cache.
type PooledByteBuf struct {
	chunk     *chunk
	handle    int64
	memory    []byte
	offset    int
	length    int
	maxLength int
	cache     *ThreadCache

	maxCapacity int
	readerIndex int
	writerIndex int

	pool api.ObjectPool[*PooledByteBuf]
}

var _ api.ByteBuf = (*PooledByteBuf)(nil)

func newPooledByteBuf(pool api.ObjectPool[*PooledByteBuf]) *PooledByteBuf {
	return &PooledByteBuf{handle: noHandle, pool: pool}
}

func (b *PooledByteBuf) init(c *chunk, handle int64, offset, length, maxLength int, cache *ThreadCache) {
	b.chunk = c
	b.memory = c.memory
	b.handle = handle
	b.offset = offset
	b.length = length
	b.maxLength = maxLength
	b.cache = cache
}

func (b *PooledByteBuf) initUnpooled(c *chunk, length int) {
	b.init(c, 0, 0, length, c.chunkSize, nil)
}

func (b *PooledByteBuf) reuse(maxCapacity int) {
	b.maxCapacity = maxCapacity
	b.readerIndex, b.writerIndex = 0, 0
}

// reset clears every field that refers to a block.
func (b *PooledByteBuf) reset() {
	b.chunk = nil
	b.handle = noHandle
	b.memory = nil
	b.offset, b.length, b.maxLength = 0, 0, 0
	b.cache = nil
	b.maxCapacity = 0
	b.readerIndex, b.writerIndex = 0, 0
}

func (b *PooledByteBuf) recycle() {
	b.pool.Put(b)
}

func (b *PooledByteBuf) released() bool { return b.chunk == nil }

// Capacity implements api.ByteBuf.
func (b *PooledByteBuf) Capacity() int { return b.length }

// MaxCapacity implements api.ByteBuf.
func (b *PooledByteBuf) MaxCapacity() int { return b.maxCapacity }

// MaxLength is the size of the backing block; the buffer grows in place up
// to this size.
func (b *PooledByteBuf) MaxLength() int { return b.maxLength }

// SetCapacity grows in place while the block has room and shrinks in place
// when the new size still uses most of the block. Anything else moves the
// data to a block of the right class.
func (b *PooledByteBuf) SetCapacity(newCapacity int) error {
	if b.released() {
		return api.ErrReleased
	}
	if newCapacity == b.length {
		return nil
	}
	if newCapacity < 0 || newCapacity > b.maxCapacity {
		return api.NewError(api.ErrCodeInvalidCapacity, "capacity out of range").
			WithContext("capacity", newCapacity).
			WithContext("maxCapacity", b.maxCapacity)
	}

	if newCapacity > b.length {
		if newCapacity <= b.maxLength {
			b.length = newCapacity
			return nil
		}
	} else if newCapacity > b.maxLength>>1 && (b.maxLength > 512 || newCapacity > b.maxLength-16) {
		b.length = newCapacity
		b.trimIndicesToCapacity(newCapacity)
		return nil
	}
	return b.chunk.arena.reallocate(b, newCapacity, true)
}

func (b *PooledByteBuf) trimIndicesToCapacity(newCapacity int) {
	if b.writerIndex > newCapacity {
		b.readerIndex = min(b.readerIndex, newCapacity)
		b.writerIndex = newCapacity
	}
}

func (b *PooledByteBuf) ReaderIndex() int { return b.readerIndex }

func (b *PooledByteBuf) WriterIndex() int { return b.writerIndex }

// SetIndex sets both indices at once.
func (b *PooledByteBuf) SetIndex(readerIndex, writerIndex int) error {
	if readerIndex < 0 || readerIndex > writerIndex || writerIndex > b.length {
		return api.NewError(api.ErrCodeInvalidArgument, "index out of bounds").
			WithContext("readerIndex", readerIndex).
			WithContext("writerIndex", writerIndex).
			WithContext("capacity", b.length)
	}
	b.readerIndex, b.writerIndex = readerIndex, writerIndex
	return nil
}

func (b *PooledByteBuf) ReadableBytes() int { return b.writerIndex - b.readerIndex }

func (b *PooledByteBuf) WritableBytes() int { return b.length - b.writerIndex }

func (b *PooledByteBuf) MaxWritableBytes() int { return b.maxCapacity - b.writerIndex }

// Bytes returns the readable region without copying.
func (b *PooledByteBuf) Bytes() []byte {
	if b.released() {
		return nil
	}
	return b.memory[b.offset+b.readerIndex : b.offset+b.writerIndex : b.offset+b.length]
}

// WritableSlice returns the writable tail for direct fills; commit the bytes
// with Advance.
func (b *PooledByteBuf) WritableSlice() []byte {
	if b.released() {
		return nil
	}
	return b.memory[b.offset+b.writerIndex : b.offset+b.length : b.offset+b.length]
}

// Advance moves the writer index past n bytes written into WritableSlice.
func (b *PooledByteBuf) Advance(n int) {
	if n < 0 || n > b.WritableBytes() {
		panic("pool: advance past buffer capacity")
	}
	b.writerIndex += n
}

// EnsureWritable grows the buffer so that n more bytes fit.
func (b *PooledByteBuf) EnsureWritable(n int) error {
	if b.released() {
		return api.ErrReleased
	}
	if n < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "negative writable size").WithContext("n", n)
	}
	target := b.writerIndex + n
	if target <= b.length {
		return nil
	}
	if target > b.maxCapacity {
		return api.NewError(api.ErrCodeInvalidCapacity, "write exceeds max capacity").
			WithContext("required", target).
			WithContext("maxCapacity", b.maxCapacity)
	}
	newCapacity, err := CalculateNewCapacity(target, b.maxCapacity)
	if err != nil {
		return err
	}
	return b.SetCapacity(newCapacity)
}

// Write appends p, growing the buffer as needed.
func (b *PooledByteBuf) Write(p []byte) (int, error) {
	if err := b.EnsureWritable(len(p)); err != nil {
		return 0, err
	}
	n := copy(b.memory[b.offset+b.writerIndex:b.offset+b.length], p)
	b.writerIndex += n
	return n, nil
}

// WriteString appends s.
func (b *PooledByteBuf) WriteString(s string) (int, error) {
	if err := b.EnsureWritable(len(s)); err != nil {
		return 0, err
	}
	n := copy(b.memory[b.offset+b.writerIndex:b.offset+b.length], s)
	b.writerIndex += n
	return n, nil
}

// SetBytes copies src to absolute index without moving the indices.
func (b *PooledByteBuf) SetBytes(index int, src []byte) error {
	if b.released() {
		return api.ErrReleased
	}
	if index < 0 || index+len(src) > b.length {
		return api.NewError(api.ErrCodeInvalidArgument, "set bytes out of bounds").
			WithContext("index", index).
			WithContext("length", len(src)).
			WithContext("capacity", b.length)
	}
	copy(b.memory[b.offset+index:], src)
	return nil
}

// Read consumes readable bytes into p.
func (b *PooledByteBuf) Read(p []byte) (int, error) {
	if b.released() {
		return 0, api.ErrReleased
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.ReadableBytes() == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.Bytes())
	b.Retrieve(n)
	return n, nil
}

// Retrieve discards n readable bytes. Consuming everything rewinds both
// indices to zero.
func (b *PooledByteBuf) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += max(n, 0)
		return
	}
	b.RetrieveAll()
}

func (b *PooledByteBuf) RetrieveAll() {
	b.readerIndex, b.writerIndex = 0, 0
}

// RetrieveAsString consumes n bytes and returns them as a string.
func (b *PooledByteBuf) RetrieveAsString(n int) string {
	n = min(max(n, 0), b.ReadableBytes())
	s := string(b.Bytes()[:n])
	b.Retrieve(n)
	return s
}

func (b *PooledByteBuf) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Clear resets both indices without touching the content.
func (b *PooledByteBuf) Clear() {
	b.readerIndex, b.writerIndex = 0, 0
}

// Release returns the block to its arena and recycles the buffer. The buffer
// must not be used afterwards.
func (b *PooledByteBuf) Release() error {
	if b.released() || b.handle < 0 {
		return api.ErrReleased
	}
	c, handle := b.chunk, b.handle
	b.handle = noHandle
	c.arena.free(c, handle, b.maxLength, b.cache)
	b.recycle()
	return nil
}
