//go:build linux
// +build linux

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func TestEpollReactor_ReadReadiness(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketPair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	require.NoError(t, r.Register(a, EventRead))
	assert.Error(t, r.Register(a, EventRead), "double registration")

	events := make([]Event, 4)
	n, err := r.Poll(events, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)
	n, err = r.Poll(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, a, events[0].Fd)
	assert.NotZero(t, events[0].Events&EventRead)

	require.NoError(t, r.Unregister(a))
	n, err = r.Poll(events, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Error(t, r.Unregister(a))
}

func TestEpollReactor_WriteReadiness(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketPair(t)
	defer unix.Close(a)
	defer unix.Close(b)

	require.NoError(t, r.Register(a, EventWrite))
	events := make([]Event, 1)
	n, err := r.Poll(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NotZero(t, events[0].Events&EventWrite)
	assert.Zero(t, events[0].Events&EventRead)
}

func TestEpollReactor_PeerHangup(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	a, b := socketPair(t)
	defer unix.Close(a)
	require.NoError(t, r.Register(a, EventRead))
	require.NoError(t, unix.Close(b))

	events := make([]Event, 1)
	n, err := r.Poll(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NotZero(t, events[0].Events&EventRead)
}
