package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1 << 20

func TestChunkList_Thresholds(t *testing.T) {
	a := newTestArena(t)

	assert.Equal(t, testChunkSize, a.qInit.maxCapacity)
	// 16 MiB * 75.99999999 / 100, truncated
	assert.Equal(t, 12750684, a.qInit.freeMinThreshold)
	assert.Equal(t, freeThreshold(25, testChunkSize), a.qInit.freeMinThreshold)
	assert.Equal(t, testChunkSize-1, a.q000.freeMaxThreshold)
	assert.Equal(t, testChunkSize*99/100, a.q000.maxCapacity)
	assert.Equal(t, 0, a.q050.freeMinThreshold)
	assert.Equal(t, 0, a.q100.freeMaxThreshold)
	assert.Equal(t, 0, a.q100.maxCapacity)

	assert.Equal(t, 1, a.qInit.MinUsage())
	assert.Equal(t, 25, a.qInit.MaxUsage())
	assert.Equal(t, 100, a.q100.MaxUsage())

	assert.Same(t, a.qInit, a.qInit.prevList)
	assert.Nil(t, a.q000.prevList)
	assert.Same(t, a.q000, a.q025.prevList)
	assert.Same(t, a.q075, a.q100.prevList)
}

type listHarness struct {
	t       *testing.T
	a       *arena
	sizeIdx int
	bufs    []*PooledByteBuf
}

func newListHarness(t *testing.T) *listHarness {
	a := newTestArena(t)
	return &listHarness{t: t, a: a, sizeIdx: a.Size2SizeIdx(mib)}
}

func (h *listHarness) alloc() *chunk {
	h.t.Helper()
	buf := h.a.newByteBuf(nil, DefaultMaxCapacity)
	h.a.mu.Lock()
	err := h.a.allocateNormal(buf, mib, h.sizeIdx, nil)
	h.a.mu.Unlock()
	require.NoError(h.t, err)
	h.bufs = append(h.bufs, buf)
	return buf.chunk
}

func (h *listHarness) free() *chunk {
	h.t.Helper()
	buf := h.bufs[len(h.bufs)-1]
	h.bufs = h.bufs[:len(h.bufs)-1]
	c := buf.chunk
	h.a.freeChunk(c, buf.handle, buf.maxLength, sizeClassNormal)
	return c
}

func (h *listHarness) listOf(c *chunk) string {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	if c.parent == nil {
		return ""
	}
	return c.parent.name
}

func TestChunkList_MigrationUpAndDown(t *testing.T) {
	h := newListHarness(t)

	c := h.alloc()
	assert.Equal(t, "qInit", h.listOf(c))

	// 1 MiB steps: usage 25% leaves qInit, 50% leaves q000, 75% leaves q025
	steps := []struct {
		allocs int
		list   string
	}{
		{3, "qInit"},
		{4, "q000"},
		{7, "q000"},
		{8, "q025"},
		{11, "q025"},
		{12, "q050"},
		{15, "q050"},
		{16, "q100"},
	}
	n := 1
	for _, s := range steps {
		for ; n < s.allocs; n++ {
			require.Same(t, c, h.alloc())
		}
		assert.Equal(t, s.list, h.listOf(c), "after %d allocations", n)
	}

	// frees cross the lower bounds on the way back
	down := []struct {
		remaining int
		list      string
	}{
		{15, "q075"},
		{12, "q075"},
		{11, "q050"},
		{8, "q050"},
		{7, "q025"},
		{4, "q025"},
		{3, "q000"},
		{1, "q000"},
	}
	for _, s := range down {
		for len(h.bufs) > s.remaining {
			h.free()
		}
		assert.Equal(t, s.list, h.listOf(c), "with %d blocks left", s.remaining)
	}

	h.free()
	assert.True(t, c.destroyed)
	assert.Empty(t, h.listOf(c))
	assert.Zero(t, h.a.metrics().NumChunks())
}

func TestChunkList_CascadeOnLargeFree(t *testing.T) {
	a := newTestArena(t)
	buf := a.newByteBuf(nil, DefaultMaxCapacity)
	small := a.newByteBuf(nil, DefaultMaxCapacity)

	a.mu.Lock()
	require.NoError(t, a.allocateNormal(buf, 14*mib, a.Size2SizeIdx(14*mib), nil))
	require.NoError(t, a.allocateNormal(small, 2*mib, a.Size2SizeIdx(2*mib), nil))
	c := buf.chunk
	require.Same(t, c, small.chunk)
	assert.Equal(t, "q100", c.parent.name)
	a.mu.Unlock()

	// one free drops usage from 100% to 12%: q100 -> q075 -> q050 -> q025 -> q000
	a.freeChunk(c, buf.handle, buf.maxLength, sizeClassNormal)
	a.mu.Lock()
	assert.Equal(t, "q000", c.parent.name)
	a.mu.Unlock()
}

func TestChunkList_EmptyChunkInQInitSurvives(t *testing.T) {
	h := newListHarness(t)

	c := h.alloc()
	require.Equal(t, "qInit", h.listOf(c))
	h.free()

	assert.False(t, c.destroyed)
	assert.Equal(t, "qInit", h.listOf(c))
	assert.Equal(t, testChunkSize, c.availableBytes())
	assert.Equal(t, 1, h.a.metrics().NumChunks())
}

func TestChunkList_AddPushesFront(t *testing.T) {
	a := newTestArena(t)
	c1, c2 := newTestChunk(a), newTestChunk(a)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.qInit.add(c1)
	a.qInit.add(c2)
	assert.Equal(t, []*chunk{c2, c1}, a.qInit.chunks())

	a.qInit.remove(c2)
	assert.Equal(t, []*chunk{c1}, a.qInit.chunks())
	assert.Nil(t, c1.prev)
}
