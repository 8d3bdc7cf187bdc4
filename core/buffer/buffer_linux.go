//go:build linux
// +build linux

// File: core/buffer/buffer_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"io"

	"github.com/momentics/hioload-mem/api"
	"golang.org/x/sys/unix"
)

// ReadFd reads once from fd with readv(2): into the writable tail and, when
// the tail is shorter than 64 KiB, into a shared overflow area that is then
// appended. A zero-byte read reports io.EOF.
func (b *Buffer) ReadFd(fd int) (int, error) {
	if b.buf == nil {
		return 0, api.ErrReleased
	}
	extra := overflow.Get()
	defer overflow.Put(extra)

	writable := b.buf.WritableSlice()
	iovs := [][]byte{writable}
	if len(writable) < overflowSize {
		iovs = append(iovs, *extra)
	}
	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	if n <= len(writable) {
		b.buf.Advance(n)
		return n, nil
	}
	b.buf.Advance(len(writable))
	if _, err := b.buf.Write((*extra)[:n-len(writable)]); err != nil {
		return len(writable), err
	}
	return n, nil
}

// WriteFd writes the readable bytes to fd once and consumes what was sent.
func (b *Buffer) WriteFd(fd int) (int, error) {
	if b.buf == nil {
		return 0, api.ErrReleased
	}
	p := b.buf.Bytes()
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, p)
	if n > 0 {
		b.buf.Retrieve(n)
	}
	if err != nil {
		return max(n, 0), err
	}
	return n, nil
}
