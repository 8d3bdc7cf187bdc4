// File: pool/chunk.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A chunk is one contiguous memory extent split into pages. Pages are handed
// out as runs (one or more contiguous pages). Free runs are indexed twice:
// by page-size class in runsAvail (lowest offset first) and by their first
// and last page offsets in runsAvailMap, which makes neighbour lookup O(1)
// when a freed run is coalesced.
//
// Small requests are served from subpages, each of which owns one run.

package pool

import (
	"fmt"
	"sort"
	"sync"
)

type chunk struct {
	arena    *arena
	memory   []byte
	unpooled bool

	pageSize   int
	pageShifts int
	chunkSize  int

	// runsMu guards runsAvail, runsAvailMap and freeBytes.
	runsMu       sync.Mutex
	runsAvail    []runQueue
	runsAvailMap map[int]int64
	freeBytes    int

	// subpages is indexed by run offset; guarded by the subpage pool lock
	// of the element size.
	subpages []*subpage

	// list membership, guarded by the arena lock
	parent     *chunkList
	prev, next *chunk
	destroyed  bool
}

func newChunk(a *arena, memory []byte, pageSize, pageShifts, chunkSize, maxPageIdx int) *chunk {
	c := &chunk{
		arena:        a,
		memory:       memory,
		pageSize:     pageSize,
		pageShifts:   pageShifts,
		chunkSize:    chunkSize,
		runsAvail:    make([]runQueue, maxPageIdx),
		runsAvailMap: make(map[int]int64),
		freeBytes:    chunkSize,
		subpages:     make([]*subpage, chunkSize>>pageShifts),
	}
	pages := chunkSize >> pageShifts
	c.insertAvailRun(0, pages, toRunHandle(0, pages, false))
	return c
}

// newUnpooledChunk wraps memory that serves exactly one huge allocation.
func newUnpooledChunk(a *arena, memory []byte) *chunk {
	return &chunk{
		arena:     a,
		memory:    memory,
		unpooled:  true,
		chunkSize: len(memory),
	}
}

func (c *chunk) insertAvailRun(offset, pages int, handle int64) {
	idx := c.arena.Pages2PageIdxFloor(pages)
	c.runsAvail[idx].offer(handle)

	c.runsAvailMap[offset] = handle
	if pages > 1 {
		c.runsAvailMap[lastPage(offset, pages)] = handle
	}
}

func (c *chunk) removeAvailRun(handle int64) {
	idx := c.arena.Pages2PageIdxFloor(runPages(handle))
	c.runsAvail[idx].remove(handle)
	c.removeAvailRunFromMap(handle)
}

func (c *chunk) removeAvailRunFromMap(handle int64) {
	offset, pages := runOffset(handle), runPages(handle)
	delete(c.runsAvailMap, offset)
	if pages > 1 {
		delete(c.runsAvailMap, lastPage(offset, pages))
	}
}

func (c *chunk) availRunByOffset(offset int) int64 {
	if h, ok := c.runsAvailMap[offset]; ok {
		return h
	}
	return noHandle
}

// availableBytes reports the number of free bytes.
func (c *chunk) availableBytes() int {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	return c.freeBytes
}

// usage is the used share in percent. Any allocation reports at least 1 and
// a chunk with a few free bytes left reports 99.
func (c *chunk) usage() int {
	if c.unpooled {
		return 100
	}
	return usagePercent(c.availableBytes(), c.chunkSize)
}

func usagePercent(freeBytes, chunkSize int) int {
	if freeBytes == 0 {
		return 100
	}
	freePercentage := int(int64(freeBytes) * 100 / int64(chunkSize))
	if freePercentage == 0 {
		return 99
	}
	return 100 - freePercentage
}

// allocate serves sizeIdx from this chunk and initializes buf. It returns
// false when the chunk has no room.
func (c *chunk) allocate(buf *PooledByteBuf, reqCapacity, sizeIdx int, cache *ThreadCache) bool {
	if sizeIdx <= c.arena.SmallMaxSizeIdx() {
		handle := c.allocateSubpage(sizeIdx)
		if handle < 0 {
			return false
		}
		c.initBufWithSubpage(buf, handle, reqCapacity, c.arena.SizeIdx2Size(sizeIdx), cache)
		return true
	}

	handle := c.allocateRun(c.arena.SizeIdx2Size(sizeIdx))
	if handle < 0 {
		return false
	}
	c.initBuf(buf, handle, reqCapacity, cache)
	return true
}

// allocateRun takes a run of runSize bytes (a page multiple).
func (c *chunk) allocateRun(size int) int64 {
	pages := size >> c.pageShifts
	pageIdx := c.arena.Pages2PageIdx(pages)

	c.runsMu.Lock()
	defer c.runsMu.Unlock()

	queueIdx := c.runFirstBestFit(pageIdx)
	if queueIdx < 0 {
		return noHandle
	}

	handle := c.runsAvail[queueIdx].poll()
	if handle == noHandle || isUsed(handle) {
		panic(fmt.Sprintf("pool: corrupted free run queue %d (handle %#x)", queueIdx, handle))
	}
	c.removeAvailRunFromMap(handle)

	handle = c.splitLargeRun(handle, pages)
	c.freeBytes -= runSize(c.pageShifts, handle)
	return handle
}

func (c *chunk) runFirstBestFit(pageIdx int) int {
	nPSizes := c.arena.NumPageSizes()
	if c.freeBytes == c.chunkSize {
		return nPSizes - 1
	}
	for i := pageIdx; i < nPSizes; i++ {
		if !c.runsAvail[i].isEmpty() {
			return i
		}
	}
	return -1
}

// splitLargeRun keeps the first needPages pages and puts the tail back.
func (c *chunk) splitLargeRun(handle int64, needPages int) int64 {
	total := runPages(handle)
	if needPages <= 0 || needPages > total {
		panic(fmt.Sprintf("pool: cannot split %d pages out of a %d page run", needPages, total))
	}
	offset := runOffset(handle)
	if rem := total - needPages; rem > 0 {
		availOffset := offset + needPages
		c.insertAvailRun(availOffset, rem, toRunHandle(availOffset, rem, false))
		return toRunHandle(offset, needPages, true)
	}
	return handle | 1<<isUsedShift
}

// calculateRunSize returns the smallest run that holds a whole number of
// elements of class sizeIdx, limited to the number of elements a bitmap of
// runSize>>10 words can track.
func (c *chunk) calculateRunSize(sizeIdx int) int {
	maxElements := 1 << (c.pageShifts - Log2Quantum)
	elemSize := c.arena.SizeIdx2Size(sizeIdx)

	size, nElements := 0, 0
	for {
		size += c.pageSize
		nElements = size / elemSize
		if nElements >= maxElements || size == nElements*elemSize {
			break
		}
	}
	for nElements > maxElements {
		size -= c.pageSize
		nElements = size / elemSize
	}
	return size
}

// allocateSubpage takes one element of class sizeIdx from a fresh subpage.
func (c *chunk) allocateSubpage(sizeIdx int) int64 {
	sp := c.arena.findSubpagePool(sizeIdx)
	sp.mu.Lock()
	defer sp.mu.Unlock()

	runHandle := c.allocateRun(c.calculateRunSize(sizeIdx))
	if runHandle < 0 {
		return noHandle
	}

	offset := runOffset(runHandle)
	if c.subpages[offset] != nil {
		panic(fmt.Sprintf("pool: run at page %d already owns a subpage", offset))
	}
	s := newSubpage(sp.head, c, c.pageShifts, offset,
		runSize(c.pageShifts, runHandle), c.arena.SizeIdx2Size(sizeIdx))
	c.subpages[offset] = s
	return s.allocate()
}

// free releases handle. Subpage elements go back to their subpage first; the
// run is only released once its subpage is empty and detached.
func (c *chunk) free(handle int64, normCapacity int) {
	if isSubpage(handle) {
		sp := c.arena.findSubpagePool(c.arena.Size2SizeIdx(normCapacity))
		offset := runOffset(handle)

		sp.mu.Lock()
		s := c.subpages[offset]
		if s == nil || !s.doNotDestroy {
			sp.mu.Unlock()
			panic(fmt.Sprintf("pool: free of subpage handle %#x without a live subpage", handle))
		}
		if s.free(sp.head, bitmapIdx(handle)) {
			sp.mu.Unlock()
			return
		}
		c.subpages[offset] = nil
		sp.mu.Unlock()
	}

	pages := runPages(handle)

	c.runsMu.Lock()
	defer c.runsMu.Unlock()

	final := c.collapseRuns(handle)
	c.insertAvailRun(runOffset(final), runPages(final), toRunHandle(runOffset(final), runPages(final), false))
	c.freeBytes += pages << c.pageShifts
}

func (c *chunk) collapseRuns(handle int64) int64 {
	return c.collapseNext(c.collapsePast(handle))
}

func (c *chunk) collapsePast(handle int64) int64 {
	for {
		offset, pages := runOffset(handle), runPages(handle)
		past := c.availRunByOffset(offset - 1)
		if past == noHandle {
			return handle
		}
		pastOffset, pastPages := runOffset(past), runPages(past)
		if past == handle || pastOffset+pastPages != offset {
			return handle
		}
		c.removeAvailRun(past)
		handle = toRunHandle(pastOffset, pastPages+pages, false)
	}
}

func (c *chunk) collapseNext(handle int64) int64 {
	for {
		offset, pages := runOffset(handle), runPages(handle)
		next := c.availRunByOffset(offset + pages)
		if next == noHandle {
			return handle
		}
		nextOffset, nextPages := runOffset(next), runPages(next)
		if next == handle || offset+pages != nextOffset {
			return handle
		}
		c.removeAvailRun(next)
		handle = toRunHandle(offset, pages+nextPages, false)
	}
}

func (c *chunk) initBuf(buf *PooledByteBuf, handle int64, reqCapacity int, cache *ThreadCache) {
	buf.init(c, handle, runOffset(handle)<<c.pageShifts, reqCapacity, runSize(c.pageShifts, handle), cache)
}

func (c *chunk) initBufWithSubpage(buf *PooledByteBuf, handle int64, reqCapacity, elemSize int, cache *ThreadCache) {
	offset := runOffset(handle)<<c.pageShifts + bitmapIdx(handle)*elemSize
	buf.init(c, handle, offset, reqCapacity, elemSize, cache)
}

// freeRun describes one free run for introspection.
type freeRun struct {
	offset, pages int
}

// checkInvariants verifies the free-run index. It returns the free runs in
// offset order.
func (c *chunk) checkInvariants() ([]freeRun, error) {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()

	var runs []freeRun
	total, keys := 0, 0
	for idx := range c.runsAvail {
		for _, h := range c.runsAvail[idx].h {
			if isUsed(h) || isSubpage(h) {
				return nil, fmt.Errorf("free run %#x carries used bits", h)
			}
			off, pages := runOffset(h), runPages(h)
			if want := c.arena.Pages2PageIdxFloor(pages); want != idx {
				return nil, fmt.Errorf("run %d+%d queued in class %d, want %d", off, pages, idx, want)
			}
			if c.runsAvailMap[off] != h || c.runsAvailMap[lastPage(off, pages)] != h {
				return nil, fmt.Errorf("run %d+%d missing from offset map", off, pages)
			}
			runs = append(runs, freeRun{off, pages})
			total += pages
			keys++
			if pages > 1 {
				keys++
			}
		}
	}
	if keys != len(c.runsAvailMap) {
		return nil, fmt.Errorf("offset map holds %d keys, free runs need %d", len(c.runsAvailMap), keys)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].offset < runs[j].offset })

	for i := 1; i < len(runs); i++ {
		prevEnd := runs[i-1].offset + runs[i-1].pages
		if prevEnd > runs[i].offset {
			return nil, fmt.Errorf("free runs overlap at page %d", runs[i].offset)
		}
		if prevEnd == runs[i].offset {
			return nil, fmt.Errorf("free runs adjacent at page %d", runs[i].offset)
		}
	}
	if total<<c.pageShifts != c.freeBytes {
		return nil, fmt.Errorf("free bytes %d, free runs cover %d", c.freeBytes, total<<c.pageShifts)
	}
	return runs, nil
}

func (c *chunk) String() string {
	if c.unpooled {
		return fmt.Sprintf("Chunk(unpooled, %d)", c.chunkSize)
	}
	free := c.availableBytes()
	return fmt.Sprintf("Chunk(%d%%, %d/%d)", usagePercent(free, c.chunkSize), c.chunkSize-free, c.chunkSize)
}
