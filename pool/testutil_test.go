package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPageSize  = 8192
	testChunkSize = 16 << 20
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumArenas = 1
	cfg.UseMmap = false
	return cfg
}

func newTestAllocator(t testing.TB, cfg Config, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newTestArena(t testing.TB) *arena {
	return newTestArenaWithMemory(t, heapMemory{})
}

func newTestArenaWithMemory(t testing.TB, mem chunkMemory) *arena {
	t.Helper()
	sc, err := NewSizeClasses(testPageSize, 13, testChunkSize)
	require.NoError(t, err)
	var bufs *SyncPool[*PooledByteBuf]
	bufs = NewSyncPool(func() *PooledByteBuf { return newPooledByteBuf(bufs) }, (*PooledByteBuf).reset)
	return newArena(0, sc, mem, bufs, zap.NewNop())
}

func newTestChunk(a *arena) *chunk {
	return newChunk(a, make([]byte, testChunkSize), testPageSize, 13, testChunkSize, a.NumPageSizes())
}

// countingMemory tracks live extents.
type countingMemory struct {
	mu       sync.Mutex
	live     int
	liveSize int
	released int
}

func (m *countingMemory) allocate(size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live++
	m.liveSize += size
	return make([]byte, size), nil
}

func (m *countingMemory) release(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live--
	m.liveSize -= len(b)
	m.released++
	return nil
}

func (m *countingMemory) name() string { return "counting" }

func (m *countingMemory) snapshot() (live, liveSize, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live, m.liveSize, m.released
}

// failingMemory refuses every request.
type failingMemory struct{ err error }

func (m failingMemory) allocate(int) ([]byte, error) { return nil, m.err }
func (failingMemory) release([]byte) error           { return nil }
func (failingMemory) name() string                   { return "failing" }

var errTestNoMemory = errors.New("no memory")
