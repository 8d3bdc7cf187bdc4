//go:build linux
// +build linux

package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestBuffer_ReadFdUsesOverflow(t *testing.T) {
	a := newTestAllocator(t)
	r, w := socketPair(t)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 70000/16)
	go func() {
		for sent := 0; sent < len(payload); {
			n, err := unix.Write(w, payload[sent:])
			if err != nil {
				return
			}
			sent += n
		}
		_ = unix.Shutdown(w, unix.SHUT_WR)
	}()

	b, err := Acquire(a, 16)
	require.NoError(t, err)
	defer b.Release()

	for b.ReadableBytes() < len(payload) {
		n, err := b.ReadFd(r)
		require.NoError(t, err)
		require.Positive(t, n)
	}
	assert.Equal(t, payload, b.Peek())
	assert.GreaterOrEqual(t, b.Capacity(), len(payload))

	_, err = b.ReadFd(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBuffer_WriteFdConsumesSent(t *testing.T) {
	a := newTestAllocator(t)
	r, w := socketPair(t)

	b, err := Acquire(a, 64)
	require.NoError(t, err)
	defer b.Release()
	require.NoError(t, b.AppendString("ping"))

	n, err := b.WriteFd(w)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, b.ReadableBytes())

	n, err = b.WriteFd(w)
	require.NoError(t, err)
	assert.Zero(t, n)

	got := make([]byte, 8)
	n, err = unix.Read(r, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got[:n]))
}

func TestBuffer_ReadFdNonBlockingEmpty(t *testing.T) {
	a := newTestAllocator(t)
	r, _ := socketPair(t)
	require.NoError(t, unix.SetNonblock(r, true))

	b, err := Acquire(a, 64)
	require.NoError(t, err)
	defer b.Release()

	_, err = b.ReadFd(r)
	assert.ErrorIs(t, err, unix.EAGAIN)
	assert.Zero(t, b.ReadableBytes())
}
