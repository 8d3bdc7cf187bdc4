// File: pool/threadcache.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ThreadCache is the owner-local front end of one arena. Blocks freed by the
// owner are parked in bounded per-size-class FIFOs and handed out again
// without touching arena locks. A cache belongs to exactly one goroutine
// (typically a reactor loop); it must not be shared.

package pool

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-mem/api"
	"go.uber.org/zap"
)

// cacheEntry describes one parked block.
type cacheEntry struct {
	chunk        *chunk
	handle       int64
	normCapacity int
}

func (e *cacheEntry) reset() {
	e.chunk = nil
	e.handle = noHandle
	e.normCapacity = 0
}

// regionCache parks blocks of one size class.
type regionCache struct {
	kind        sizeClassKind
	size        int
	queue       *queue.Queue
	allocations int
}

func newRegionCache(size int, kind sizeClassKind) *regionCache {
	return &regionCache{
		kind:  kind,
		size:  nextPowerOfTwo(size),
		queue: queue.New(),
	}
}

func (rc *regionCache) add(tc *ThreadCache, c *chunk, handle int64, normCapacity int) bool {
	if rc.queue.Length() >= rc.size {
		return false
	}
	e := tc.entries.Get()
	e.chunk, e.handle, e.normCapacity = c, handle, normCapacity
	rc.queue.Add(e)
	return true
}

func (rc *regionCache) allocate(tc *ThreadCache, buf *PooledByteBuf, reqCapacity int) bool {
	if rc.queue.Length() == 0 {
		return false
	}
	e := rc.queue.Remove().(*cacheEntry)
	if rc.kind == sizeClassSmall {
		e.chunk.initBufWithSubpage(buf, e.handle, reqCapacity, e.normCapacity, tc)
	} else {
		e.chunk.initBuf(buf, e.handle, reqCapacity, tc)
	}
	tc.entries.Put(e)
	rc.allocations++
	return true
}

// free returns up to limit parked blocks to their arena.
func (rc *regionCache) free(tc *ThreadCache, limit int) int {
	n := 0
	for ; n < limit && rc.queue.Length() > 0; n++ {
		e := rc.queue.Remove().(*cacheEntry)
		c, handle, normCapacity := e.chunk, e.handle, e.normCapacity
		tc.entries.Put(e)
		c.arena.freeChunk(c, handle, normCapacity, rc.kind)
	}
	return n
}

// trim drops the entries recent allocations did not justify.
func (rc *regionCache) trim(tc *ThreadCache) int {
	toFree := rc.size - rc.allocations
	rc.allocations = 0
	if toFree > 0 {
		return rc.free(tc, toFree)
	}
	return 0
}

// ThreadCacheStats is a snapshot of one cache.
type ThreadCacheStats struct {
	Arena          int
	Allocations    int
	Trims          int
	TrimmedBlocks  int
	QueuedSmall    int
	QueuedNormal   int
	MaxQueueSmall  int
	MaxQueueNormal int
}

// ThreadCache is created by Allocator.NewThreadCache and released by Close.
type ThreadCache struct {
	arena *arena
	log   *zap.Logger

	smallCaches  []*regionCache
	normalCaches []*regionCache

	freeSweepAllocationThreshold int
	allocations                  int
	trims                        int
	trimmedBlocks                int

	probe   uint32
	bufs    *Recycler[*PooledByteBuf]
	entries *Recycler[*cacheEntry]

	closed atomic.Bool
}

func newThreadCache(a *arena, cfg Config, log *zap.Logger) *ThreadCache {
	tc := &ThreadCache{
		arena:                        a,
		log:                          log,
		freeSweepAllocationThreshold: cfg.FreeSweepAllocationThreshold,
		probe:                        rand.Uint32(),
	}
	tc.bufs = NewRecycler(func() *PooledByteBuf { return newPooledByteBuf(tc.bufs) },
		(*PooledByteBuf).reset, 0)
	tc.entries = NewRecycler(func() *cacheEntry { return &cacheEntry{handle: noHandle} },
		(*cacheEntry).reset, 0)

	if cfg.SmallCacheSize > 0 {
		tc.smallCaches = make([]*regionCache, a.NumSubpages())
		for i := range tc.smallCaches {
			tc.smallCaches[i] = newRegionCache(cfg.SmallCacheSize, sizeClassSmall)
		}
	}
	if cfg.NormalCacheSize > 0 && cfg.MaxCachedBufferCapacity > 0 {
		maxSize := min(a.ChunkSize(), cfg.MaxCachedBufferCapacity)
		for idx := a.NumSubpages(); idx < a.NumSizes() && a.SizeIdx2Size(idx) <= maxSize; idx++ {
			tc.normalCaches = append(tc.normalCaches, newRegionCache(cfg.NormalCacheSize, sizeClassNormal))
		}
	}
	a.numThreadCaches.Add(1)
	return tc
}

// Buffer allocates from the cache's arena, consulting the cache first.
func (tc *ThreadCache) Buffer(initialCapacity, maxCapacity int) (*PooledByteBuf, error) {
	if err := validateCapacity(initialCapacity, maxCapacity); err != nil {
		return nil, err
	}
	if tc.closed.Load() {
		return nil, api.ErrClosed
	}
	return tc.arena.allocate(tc, initialCapacity, maxCapacity)
}

func (tc *ThreadCache) cacheForSmall(sizeIdx int) *regionCache {
	if sizeIdx < len(tc.smallCaches) {
		return tc.smallCaches[sizeIdx]
	}
	return nil
}

func (tc *ThreadCache) cacheForNormal(sizeIdx int) *regionCache {
	idx := sizeIdx - tc.arena.NumSubpages()
	if idx >= 0 && idx < len(tc.normalCaches) {
		return tc.normalCaches[idx]
	}
	return nil
}

func (tc *ThreadCache) allocateSmall(buf *PooledByteBuf, reqCapacity, sizeIdx int) bool {
	return tc.allocate(tc.cacheForSmall(sizeIdx), buf, reqCapacity)
}

func (tc *ThreadCache) allocateNormal(buf *PooledByteBuf, reqCapacity, sizeIdx int) bool {
	return tc.allocate(tc.cacheForNormal(sizeIdx), buf, reqCapacity)
}

// allocate counts every attempt that reaches a size class cache; each
// freeSweepAllocationThreshold attempts the whole cache is trimmed.
func (tc *ThreadCache) allocate(rc *regionCache, buf *PooledByteBuf, reqCapacity int) bool {
	if rc == nil || tc.closed.Load() {
		return false
	}
	ok := rc.allocate(tc, buf, reqCapacity)
	tc.allocations++
	if tc.allocations >= tc.freeSweepAllocationThreshold {
		tc.allocations = 0
		tc.trim()
	}
	return ok
}

// add parks a freed block. It returns false when the block is not cacheable
// or its queue is full.
func (tc *ThreadCache) add(a *arena, c *chunk, handle int64, normCapacity int, kind sizeClassKind) bool {
	if a != tc.arena || tc.closed.Load() {
		return false
	}
	sizeIdx := a.Size2SizeIdx(normCapacity)
	var rc *regionCache
	if kind == sizeClassSmall {
		rc = tc.cacheForSmall(sizeIdx)
	} else {
		rc = tc.cacheForNormal(sizeIdx)
	}
	if rc == nil {
		return false
	}
	return rc.add(tc, c, handle, normCapacity)
}

func (tc *ThreadCache) trim() {
	freed := 0
	for _, rc := range tc.smallCaches {
		freed += rc.trim(tc)
	}
	for _, rc := range tc.normalCaches {
		freed += rc.trim(tc)
	}
	tc.trims++
	tc.trimmedBlocks += freed
	if freed > 0 {
		tc.log.Debug("thread cache trimmed", zap.Int("arena", tc.arena.index), zap.Int("freed", freed))
	}
}

// Close returns every parked block to the arena. Buffers still held keep
// working but are no longer cached on release.
func (tc *ThreadCache) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}
	freed := 0
	for _, rc := range tc.smallCaches {
		freed += rc.free(tc, rc.queue.Length())
	}
	for _, rc := range tc.normalCaches {
		freed += rc.free(tc, rc.queue.Length())
	}
	tc.arena.numThreadCaches.Add(-1)
	tc.log.Debug("thread cache closed", zap.Int("arena", tc.arena.index), zap.Int("freed", freed))
	return nil
}

// Stats reports the cache state. Call it from the owning goroutine.
func (tc *ThreadCache) Stats() ThreadCacheStats {
	s := ThreadCacheStats{
		Arena:         tc.arena.index,
		Allocations:   tc.allocations,
		Trims:         tc.trims,
		TrimmedBlocks: tc.trimmedBlocks,
	}
	for _, rc := range tc.smallCaches {
		s.QueuedSmall += rc.queue.Length()
		s.MaxQueueSmall = max(s.MaxQueueSmall, rc.queue.Length())
	}
	for _, rc := range tc.normalCaches {
		s.QueuedNormal += rc.queue.Length()
		s.MaxQueueNormal = max(s.MaxQueueNormal, rc.queue.Length())
	}
	return s
}

func nextPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}
