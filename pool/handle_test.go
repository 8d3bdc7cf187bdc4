package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle_RunFields(t *testing.T) {
	h := toRunHandle(123, 45, false)
	assert.Equal(t, 123, runOffset(h))
	assert.Equal(t, 45, runPages(h))
	assert.Equal(t, 45<<13, runSize(13, h))
	assert.False(t, isUsed(h))
	assert.False(t, isSubpage(h))
	assert.True(t, isRun(h))
	assert.Zero(t, bitmapIdx(h))

	used := toRunHandle(123, 45, true)
	assert.True(t, isUsed(used))
	assert.Equal(t, h|1<<isUsedShift, used)
}

func TestHandle_SubpageFields(t *testing.T) {
	h := toSubpageHandle(7, 3, 511)
	assert.Equal(t, 7, runOffset(h))
	assert.Equal(t, 3, runPages(h))
	assert.True(t, isUsed(h))
	assert.True(t, isSubpage(h))
	assert.False(t, isRun(h))
	assert.Equal(t, 511, bitmapIdx(h))
}

func TestHandle_BitLayout(t *testing.T) {
	assert.Equal(t, 49, runOffsetShift)
	assert.Equal(t, 34, sizeShift)
	assert.Equal(t, 33, isUsedShift)
	assert.Equal(t, 32, isSubpageShift)
}

func TestHandle_LargestChunkStaysPositive(t *testing.T) {
	// 1<<14 pages is the largest supported chunk.
	last := maxPages - 1
	h := toSubpageHandle(last, maxPages, 1<<31-1)
	assert.Positive(t, h)
	assert.Equal(t, last, runOffset(h))
	assert.Equal(t, maxPages, runPages(h))
	assert.Equal(t, 1<<31-1, bitmapIdx(h))
}
