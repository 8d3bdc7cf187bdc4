// File: core/buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffer is the connection-facing wrapper around a pooled byte buffer: the
// reactor reads socket data into it and protocol code consumes it.

package buffer

import (
	"bytes"
	"fmt"

	"github.com/momentics/hioload-mem/api"
	"github.com/momentics/hioload-mem/pool"
)

// InitialSize is used when Acquire gets no size hint.
const InitialSize = 1024

// overflowSize bounds how much one ReadFd can take beyond the writable tail.
const overflowSize = 64 << 10

var crlf = []byte("\r\n")

// Source hands out pooled buffers. Both *pool.Allocator and *pool.ThreadCache
// satisfy it.
type Source interface {
	Buffer(initialCapacity, maxCapacity int) (*pool.PooledByteBuf, error)
}

var (
	_ Source = (*pool.Allocator)(nil)
	_ Source = (*pool.ThreadCache)(nil)
)

// overflow areas are shared by every goroutine doing ReadFd.
var overflow = pool.NewSyncPool(func() *[]byte {
	b := make([]byte, overflowSize)
	return &b
}, nil)

// Buffer is not safe for concurrent use.
type Buffer struct {
	buf *pool.PooledByteBuf
}

// Acquire allocates a buffer of sizeHint bytes from src.
func Acquire(src Source, sizeHint int) (*Buffer, error) {
	if sizeHint <= 0 {
		sizeHint = InitialSize
	}
	buf, err := src.Buffer(sizeHint, pool.DefaultMaxCapacity)
	if err != nil {
		return nil, fmt.Errorf("buffer: acquire %d bytes: %w", sizeHint, err)
	}
	return &Buffer{buf: buf}, nil
}

// Unwrap exposes the underlying pooled buffer.
func (b *Buffer) Unwrap() *pool.PooledByteBuf { return b.buf }

func (b *Buffer) ReadableBytes() int {
	if b.buf == nil {
		return 0
	}
	return b.buf.ReadableBytes()
}

func (b *Buffer) WritableBytes() int {
	if b.buf == nil {
		return 0
	}
	return b.buf.WritableBytes()
}

func (b *Buffer) Capacity() int {
	if b.buf == nil {
		return 0
	}
	return b.buf.Capacity()
}

// Peek returns the readable bytes without consuming them. The slice is valid
// until the next write, retrieve or release.
func (b *Buffer) Peek() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf.Bytes()
}

// Append copies p to the end of the readable region.
func (b *Buffer) Append(p []byte) error {
	if b.buf == nil {
		return api.ErrReleased
	}
	_, err := b.buf.Write(p)
	return err
}

func (b *Buffer) AppendString(s string) error {
	if b.buf == nil {
		return api.ErrReleased
	}
	_, err := b.buf.WriteString(s)
	return err
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.buf == nil {
		return 0, api.ErrReleased
	}
	return b.buf.Read(p)
}

func (b *Buffer) Retrieve(n int) {
	if b.buf != nil {
		b.buf.Retrieve(n)
	}
}

func (b *Buffer) RetrieveAll() {
	if b.buf != nil {
		b.buf.RetrieveAll()
	}
}

func (b *Buffer) RetrieveAsString(n int) string {
	if b.buf == nil {
		return ""
	}
	return b.buf.RetrieveAsString(n)
}

func (b *Buffer) RetrieveAllAsString() string {
	if b.buf == nil {
		return ""
	}
	return b.buf.RetrieveAllAsString()
}

// RetrieveUntil consumes the readable bytes before end, an offset into Peek.
func (b *Buffer) RetrieveUntil(end int) {
	if end < 0 || end > b.ReadableBytes() {
		panic(fmt.Sprintf("buffer: retrieve until %d outside readable %d", end, b.ReadableBytes()))
	}
	b.Retrieve(end)
}

// FindCRLF returns the offset of the first CRLF in Peek, or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindCRLFFrom searches from offset start of Peek.
func (b *Buffer) FindCRLFFrom(start int) int {
	p := b.Peek()
	if start < 0 || start > len(p) {
		panic(fmt.Sprintf("buffer: search start %d outside readable %d", start, len(p)))
	}
	i := bytes.Index(p[start:], crlf)
	if i < 0 {
		return -1
	}
	return start + i
}

// Swap exchanges the contents of two buffers.
func (b *Buffer) Swap(other *Buffer) {
	b.buf, other.buf = other.buf, b.buf
}

// Release returns the memory to its pool. Releasing twice is an error.
func (b *Buffer) Release() error {
	if b.buf == nil {
		return api.ErrReleased
	}
	buf := b.buf
	b.buf = nil
	return buf.Release()
}
