// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// An arena is one shard of pooled memory: six usage-ordered chunk lists and
// one subpage pool per small size class.
//
// Lock order is arena.mu, then a subpage pool lock, then chunk.runsMu.
// Subpage fast paths take only the pool lock; arena.mu is never acquired
// while a pool lock or runsMu is held.

package pool

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-mem/api"
	"github.com/momentics/hioload-mem/internal/concurrency"
	"go.uber.org/zap"
)

type sizeClassKind int

const (
	sizeClassSmall sizeClassKind = iota
	sizeClassNormal
)

func (k sizeClassKind) String() string {
	if k == sizeClassSmall {
		return "small"
	}
	return "normal"
}

func sizeClassKindOf(handle int64) sizeClassKind {
	if isSubpage(handle) {
		return sizeClassSmall
	}
	return sizeClassNormal
}

type arena struct {
	*SizeClasses

	index int
	mem   chunkMemory
	log   *zap.Logger
	bufs  api.ObjectPool[*PooledByteBuf]

	mu                sync.Mutex
	smallSubpagePools []*subpagePool

	qInit *chunkList
	q000  *chunkList
	q025  *chunkList
	q050  *chunkList
	q075  *chunkList
	q100  *chunkList

	// guarded by mu
	allocationsNormal   int64
	deallocationsSmall  int64
	deallocationsNormal int64

	allocationsSmall  *concurrency.Adder
	allocationsHuge   *concurrency.Adder
	deallocationsHuge *concurrency.Adder
	activeBytesHuge   *concurrency.Adder

	numThreadCaches atomic.Int32
	chunksCreated   atomic.Int64
	chunksDestroyed atomic.Int64
	closed          atomic.Bool
}

func newArena(index int, sc *SizeClasses, mem chunkMemory, bufs api.ObjectPool[*PooledByteBuf], log *zap.Logger) *arena {
	a := &arena{
		SizeClasses:       sc,
		index:             index,
		mem:               mem,
		log:               log,
		bufs:              bufs,
		smallSubpagePools: make([]*subpagePool, sc.NumSubpages()),
		allocationsSmall:  concurrency.NewAdder(0),
		allocationsHuge:   concurrency.NewAdder(0),
		deallocationsHuge: concurrency.NewAdder(0),
		activeBytesHuge:   concurrency.NewAdder(0),
	}
	for i := range a.smallSubpagePools {
		a.smallSubpagePools[i] = newSubpagePool()
	}

	chunkSize := sc.ChunkSize()
	a.q100 = newChunkList(a, "q100", nil, 100, math.MaxInt32, chunkSize)
	a.q075 = newChunkList(a, "q075", a.q100, 75, 100, chunkSize)
	a.q050 = newChunkList(a, "q050", a.q075, 50, 100, chunkSize)
	a.q025 = newChunkList(a, "q025", a.q050, 25, 75, chunkSize)
	a.q000 = newChunkList(a, "q000", a.q025, 1, 50, chunkSize)
	a.qInit = newChunkList(a, "qInit", a.q000, math.MinInt32, 25, chunkSize)

	a.q100.setPrevList(a.q075)
	a.q075.setPrevList(a.q050)
	a.q050.setPrevList(a.q025)
	a.q025.setPrevList(a.q000)
	// q000 has no predecessor: an empty chunk there is destroyed.
	a.qInit.setPrevList(a.qInit)
	return a
}

func (a *arena) chunkLists() []*chunkList {
	return []*chunkList{a.qInit, a.q000, a.q025, a.q050, a.q075, a.q100}
}

func (a *arena) findSubpagePool(sizeIdx int) *subpagePool {
	return a.smallSubpagePools[sizeIdx]
}

func probeOf(cache *ThreadCache) uint32 {
	if cache != nil {
		return cache.probe
	}
	return rand.Uint32()
}

// allocate returns a buffer of reqCapacity bytes that may grow to maxCapacity.
func (a *arena) allocate(cache *ThreadCache, reqCapacity, maxCapacity int) (*PooledByteBuf, error) {
	if a.closed.Load() {
		return nil, api.ErrClosed
	}
	buf := a.newByteBuf(cache, maxCapacity)
	if err := a.allocateInto(cache, buf, reqCapacity); err != nil {
		buf.recycle()
		return nil, err
	}
	return buf, nil
}

func (a *arena) newByteBuf(cache *ThreadCache, maxCapacity int) *PooledByteBuf {
	var buf *PooledByteBuf
	if cache != nil {
		buf = cache.bufs.Get()
	} else {
		buf = a.bufs.Get()
	}
	buf.reuse(maxCapacity)
	return buf
}

// allocateInto points buf at a fresh block. buf is untouched on error.
func (a *arena) allocateInto(cache *ThreadCache, buf *PooledByteBuf, reqCapacity int) error {
	sizeIdx := a.Size2SizeIdx(reqCapacity)
	switch {
	case sizeIdx <= a.SmallMaxSizeIdx():
		return a.tcacheAllocateSmall(cache, buf, reqCapacity, sizeIdx)
	case sizeIdx < a.NumSizes():
		return a.tcacheAllocateNormal(cache, buf, reqCapacity, sizeIdx)
	default:
		return a.allocateHuge(cache, buf, reqCapacity)
	}
}

func (a *arena) tcacheAllocateSmall(cache *ThreadCache, buf *PooledByteBuf, reqCapacity, sizeIdx int) error {
	if cache != nil && cache.allocateSmall(buf, reqCapacity, sizeIdx) {
		return nil
	}

	sp := a.smallSubpagePools[sizeIdx]
	sp.mu.Lock()
	s := sp.head.next
	needsNormalAllocation := s == sp.head
	if !needsNormalAllocation {
		if !s.doNotDestroy || s.elemSize != a.SizeIdx2Size(sizeIdx) {
			sp.mu.Unlock()
			panic(fmt.Sprintf("pool: subpage pool %d holds foreign subpage %v", sizeIdx, s))
		}
		handle := s.allocate()
		if handle < 0 {
			sp.mu.Unlock()
			panic(fmt.Sprintf("pool: linked subpage %v has no free element", s))
		}
		s.chunk.initBufWithSubpage(buf, handle, reqCapacity, s.elemSize, cache)
	}
	sp.mu.Unlock()

	if needsNormalAllocation {
		a.mu.Lock()
		err := a.allocateNormal(buf, reqCapacity, sizeIdx, cache)
		a.mu.Unlock()
		if err != nil {
			return err
		}
	}
	a.allocationsSmall.Inc(probeOf(cache))
	return nil
}

func (a *arena) tcacheAllocateNormal(cache *ThreadCache, buf *PooledByteBuf, reqCapacity, sizeIdx int) error {
	if cache != nil && cache.allocateNormal(buf, reqCapacity, sizeIdx) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.allocateNormal(buf, reqCapacity, sizeIdx, cache); err != nil {
		return err
	}
	a.allocationsNormal++
	return nil
}

// allocateNormal must be called with a.mu held. q075 is probed last: its
// chunks are nearly full and rarely succeed.
func (a *arena) allocateNormal(buf *PooledByteBuf, reqCapacity, sizeIdx int, cache *ThreadCache) error {
	if a.q050.allocate(buf, reqCapacity, sizeIdx, cache) ||
		a.q025.allocate(buf, reqCapacity, sizeIdx, cache) ||
		a.q000.allocate(buf, reqCapacity, sizeIdx, cache) ||
		a.qInit.allocate(buf, reqCapacity, sizeIdx, cache) ||
		a.q075.allocate(buf, reqCapacity, sizeIdx, cache) {
		return nil
	}

	// close may have detached the lists since allocate checked
	if a.closed.Load() {
		return api.ErrClosed
	}
	c, err := a.newChunk()
	if err != nil {
		return err
	}
	if !c.allocate(buf, reqCapacity, sizeIdx, cache) {
		panic(fmt.Sprintf("pool: fresh chunk cannot serve size index %d", sizeIdx))
	}
	a.qInit.add(c)
	return nil
}

func (a *arena) allocateHuge(cache *ThreadCache, buf *PooledByteBuf, reqCapacity int) error {
	c, err := a.newUnpooledChunk(a.NormalizeSize(reqCapacity))
	if err != nil {
		return err
	}
	hint := probeOf(cache)
	a.activeBytesHuge.Add(hint, int64(c.chunkSize))
	buf.initUnpooled(c, reqCapacity)
	a.allocationsHuge.Inc(hint)
	return nil
}

func (a *arena) newChunk() (*chunk, error) {
	chunkSize := a.ChunkSize()
	memory, err := a.mem.allocate(chunkSize)
	if err != nil {
		a.log.Warn("chunk allocation failed",
			zap.Int("arena", a.index), zap.Int("size", chunkSize), zap.Error(err))
		return nil, fmt.Errorf("arena %d: new chunk: %w", a.index, err)
	}
	a.chunksCreated.Add(1)
	a.log.Debug("chunk created",
		zap.Int("arena", a.index), zap.Int("size", chunkSize), zap.String("memory", a.mem.name()))
	return newChunk(a, memory, a.PageSize(), a.PageShifts(), chunkSize, a.NumPageSizes()), nil
}

func (a *arena) newUnpooledChunk(size int) (*chunk, error) {
	memory, err := a.mem.allocate(size)
	if err != nil {
		a.log.Warn("huge allocation failed",
			zap.Int("arena", a.index), zap.Int("size", size), zap.Error(err))
		return nil, fmt.Errorf("arena %d: huge allocation: %w", a.index, err)
	}
	return newUnpooledChunk(a, memory), nil
}

func (a *arena) destroyChunk(c *chunk) {
	if err := a.mem.release(c.memory); err != nil {
		a.log.Error("chunk release failed", zap.Int("arena", a.index), zap.Error(err))
	}
	if !c.unpooled {
		a.chunksDestroyed.Add(1)
		a.log.Debug("chunk destroyed", zap.Int("arena", a.index), zap.Int("size", c.chunkSize))
	}
}

// free returns a block. Huge blocks are unmapped at once; pooled blocks go
// to the thread cache when it has room, otherwise back to their chunk.
func (a *arena) free(c *chunk, handle int64, normCapacity int, cache *ThreadCache) {
	if c.unpooled {
		size := c.chunkSize
		a.destroyChunk(c)
		hint := probeOf(cache)
		a.activeBytesHuge.Add(hint, -int64(size))
		a.deallocationsHuge.Inc(hint)
		return
	}

	kind := sizeClassKindOf(handle)
	if cache != nil && cache.add(a, c, handle, normCapacity, kind) {
		return
	}
	a.freeChunk(c, handle, normCapacity, kind)
}

func (a *arena) freeChunk(c *chunk, handle int64, normCapacity int, kind sizeClassKind) {
	a.mu.Lock()
	if c.destroyed {
		a.mu.Unlock()
		return
	}
	switch kind {
	case sizeClassNormal:
		a.deallocationsNormal++
	case sizeClassSmall:
		a.deallocationsSmall++
	}
	destroy := !c.parent.free(c, handle, normCapacity)
	if destroy {
		c.parent = nil
		c.destroyed = true
	}
	a.mu.Unlock()

	if destroy {
		a.destroyChunk(c)
	}
}

// reallocate moves buf to a block of newCapacity bytes, copying the
// overlapping prefix. On error buf still points at its old block.
func (a *arena) reallocate(buf *PooledByteBuf, newCapacity int, freeOld bool) error {
	if newCapacity < 0 || newCapacity > buf.maxCapacity {
		return api.NewError(api.ErrCodeInvalidCapacity, "reallocate: capacity out of range").
			WithContext("capacity", newCapacity).
			WithContext("maxCapacity", buf.maxCapacity)
	}
	oldCapacity := buf.length
	if oldCapacity == newCapacity {
		return nil
	}

	oldChunk := buf.chunk
	oldHandle := buf.handle
	oldMemory := buf.memory
	oldOffset := buf.offset
	oldMaxLength := buf.maxLength

	if err := a.allocateInto(buf.cache, buf, newCapacity); err != nil {
		return err
	}

	n := oldCapacity
	if newCapacity < oldCapacity {
		buf.trimIndicesToCapacity(newCapacity)
		n = newCapacity
	}
	copy(buf.memory[buf.offset:buf.offset+n], oldMemory[oldOffset:oldOffset+n])

	if freeOld {
		a.free(oldChunk, oldHandle, oldMaxLength, buf.cache)
	}
	return nil
}

// close destroys every pooled chunk. Blocks still held by callers become
// invalid; frees that arrive later are ignored.
func (a *arena) close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.mu.Lock()
	var all []*chunk
	for _, l := range a.chunkLists() {
		all = append(all, l.detachAll()...)
	}
	for _, c := range all {
		c.destroyed = true
	}
	a.mu.Unlock()

	for _, sp := range a.smallSubpagePools {
		sp.mu.Lock()
		sp.head.prev, sp.head.next = sp.head, sp.head
		sp.mu.Unlock()
	}
	for _, c := range all {
		a.destroyChunk(c)
	}
}

// ChunkMetrics describes one pooled chunk.
type ChunkMetrics struct {
	Usage     int
	FreeBytes int
	ChunkSize int
}

// ChunkListMetrics describes one usage band.
type ChunkListMetrics struct {
	Name     string
	MinUsage int
	MaxUsage int
	Chunks   []ChunkMetrics
}

// SubpageMetrics describes one subpage linked into a small pool.
type SubpageMetrics struct {
	ElementSize    int
	MaxNumElements int
	NumAvailable   int
	PageSize       int
}

// ArenaMetrics is a point-in-time snapshot of one arena.
type ArenaMetrics struct {
	Index           int
	NumThreadCaches int

	AllocationsSmall    int64
	AllocationsNormal   int64
	AllocationsHuge     int64
	DeallocationsSmall  int64
	DeallocationsNormal int64
	DeallocationsHuge   int64
	ActiveBytesHuge     int64

	ChunksCreated   int64
	ChunksDestroyed int64

	ChunkLists    []ChunkListMetrics
	SmallSubpages []SubpageMetrics
}

func (m ArenaMetrics) NumAllocations() int64 {
	return m.AllocationsSmall + m.AllocationsNormal + m.AllocationsHuge
}

func (m ArenaMetrics) NumDeallocations() int64 {
	return m.DeallocationsSmall + m.DeallocationsNormal + m.DeallocationsHuge
}

// NumActiveAllocations may be briefly negative: small allocations are
// counted after the block is handed out, without the arena lock.
func (m ArenaMetrics) NumActiveAllocations() int64 {
	return m.NumAllocations() - m.NumDeallocations()
}

// NumChunks counts pooled chunks across all lists.
func (m ArenaMetrics) NumChunks() int {
	n := 0
	for _, l := range m.ChunkLists {
		n += len(l.Chunks)
	}
	return n
}

// ActiveBytes is the memory handed out of chunks plus huge allocations.
func (m ArenaMetrics) ActiveBytes() int64 {
	v := m.ActiveBytesHuge
	for _, l := range m.ChunkLists {
		for _, c := range l.Chunks {
			v += int64(c.ChunkSize - c.FreeBytes)
		}
	}
	return v
}

func (a *arena) metrics() ArenaMetrics {
	m := ArenaMetrics{
		Index:             a.index,
		NumThreadCaches:   int(a.numThreadCaches.Load()),
		AllocationsSmall:  a.allocationsSmall.Sum(),
		AllocationsHuge:   a.allocationsHuge.Sum(),
		DeallocationsHuge: a.deallocationsHuge.Sum(),
		ActiveBytesHuge:   a.activeBytesHuge.Sum(),
		ChunksCreated:     a.chunksCreated.Load(),
		ChunksDestroyed:   a.chunksDestroyed.Load(),
	}

	a.mu.Lock()
	m.AllocationsNormal = a.allocationsNormal
	m.DeallocationsSmall = a.deallocationsSmall
	m.DeallocationsNormal = a.deallocationsNormal
	for _, l := range a.chunkLists() {
		lm := ChunkListMetrics{Name: l.name, MinUsage: l.MinUsage(), MaxUsage: l.MaxUsage()}
		for _, c := range l.chunks() {
			free := c.availableBytes()
			lm.Chunks = append(lm.Chunks, ChunkMetrics{
				Usage:     usagePercent(free, c.chunkSize),
				FreeBytes: free,
				ChunkSize: c.chunkSize,
			})
		}
		m.ChunkLists = append(m.ChunkLists, lm)
	}
	a.mu.Unlock()

	for _, sp := range a.smallSubpagePools {
		sp.mu.Lock()
		for s := sp.head.next; s != sp.head; s = s.next {
			m.SmallSubpages = append(m.SmallSubpages, SubpageMetrics{
				ElementSize:    s.elemSize,
				MaxNumElements: s.maxNumElems,
				NumAvailable:   s.numAvail,
				PageSize:       a.PageSize(),
			})
		}
		sp.mu.Unlock()
	}
	return m
}
