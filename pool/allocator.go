// File: pool/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocator ties arenas, thread caches and buffer recycling together.
//
// Goroutines have no thread-local storage, so the per-thread cache is an
// explicit object: a long-lived owner (a reactor loop, a worker) calls
// NewThreadCache once and allocates through it. Callers without a cache use
// Allocator.Buffer, which spreads requests over the arenas round-robin.

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-mem/api"
	"go.uber.org/zap"
)

// Option customizes allocator construction.
type Option func(*Allocator)

// WithLogger sets the allocator logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(a *Allocator) {
		if log != nil {
			a.log = log
		}
	}
}

// withMemory overrides the chunk memory provider.
func withMemory(mem chunkMemory) Option {
	return func(a *Allocator) {
		a.mem = mem
	}
}

// AllocatorMetrics aggregates every arena.
type AllocatorMetrics struct {
	ChunkSize   int
	PageSize    int
	NumSizes    int
	NumSubpages int
	Memory      string
	Arenas      []ArenaMetrics
}

// NumThreadCaches counts live caches across arenas.
func (m AllocatorMetrics) NumThreadCaches() int {
	n := 0
	for _, a := range m.Arenas {
		n += a.NumThreadCaches
	}
	return n
}

// NumChunks counts pooled chunks across arenas.
func (m AllocatorMetrics) NumChunks() int {
	n := 0
	for _, a := range m.Arenas {
		n += a.NumChunks()
	}
	return n
}

// ActiveBytes sums handed out memory across arenas.
func (m AllocatorMetrics) ActiveBytes() int64 {
	var n int64
	for _, a := range m.Arenas {
		n += a.ActiveBytes()
	}
	return n
}

// Allocator is safe for concurrent use. ThreadCaches it creates are not.
type Allocator struct {
	cfg         Config
	sizeClasses *SizeClasses
	arenas      []*arena
	mem         chunkMemory
	log         *zap.Logger
	bufs        *SyncPool[*PooledByteBuf]

	cacheMu sync.Mutex
	next    atomic.Uint32
	closed  atomic.Bool
}

// New validates cfg and builds the arenas. No chunk memory is reserved
// until the first allocation.
func New(cfg Config, opts ...Option) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc, err := NewSizeClasses(cfg.PageSize, cfg.PageShifts(), cfg.ChunkSize())
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		cfg:         cfg,
		sizeClasses: sc,
		mem:         newChunkMemory(cfg.UseMmap),
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.bufs = NewSyncPool(func() *PooledByteBuf { return newPooledByteBuf(a.bufs) }, (*PooledByteBuf).reset)

	a.arenas = make([]*arena, cfg.NumArenas)
	for i := range a.arenas {
		a.arenas[i] = newArena(i, sc, a.mem, a.bufs, a.log)
	}

	a.log.Info("pooled allocator initialized",
		zap.Int("arenas", cfg.NumArenas),
		zap.Int("pageSize", cfg.PageSize),
		zap.Int("chunkSize", sc.ChunkSize()),
		zap.Int("sizeClasses", sc.NumSizes()),
		zap.Int("smallClasses", sc.NumSubpages()),
		zap.Int("pageClasses", sc.NumPageSizes()),
		zap.String("memory", a.mem.name()))
	return a, nil
}

// Config returns the construction settings.
func (a *Allocator) Config() Config { return a.cfg }

// SizeClasses exposes the shared class table.
func (a *Allocator) SizeClasses() *SizeClasses { return a.sizeClasses }

func (a *Allocator) ChunkSize() int { return a.sizeClasses.ChunkSize() }

// NewThreadCache binds a cache to the arena with the fewest caches. The
// binding never changes.
func (a *Allocator) NewThreadCache() (*ThreadCache, error) {
	if a.closed.Load() {
		return nil, api.ErrClosed
	}
	a.cacheMu.Lock()
	least := a.leastUsedArena()
	tc := newThreadCache(least, a.cfg, a.log)
	a.cacheMu.Unlock()
	return tc, nil
}

func (a *Allocator) leastUsedArena() *arena {
	least := a.arenas[0]
	for _, ar := range a.arenas[1:] {
		if ar.numThreadCaches.Load() < least.numThreadCaches.Load() {
			least = ar
		}
	}
	return least
}

// Buffer allocates without a thread cache. The result may be released from
// any goroutine.
func (a *Allocator) Buffer(initialCapacity, maxCapacity int) (*PooledByteBuf, error) {
	if err := validateCapacity(initialCapacity, maxCapacity); err != nil {
		return nil, err
	}
	if a.closed.Load() {
		return nil, api.ErrClosed
	}
	ar := a.arenas[int(a.next.Add(1)-1)%len(a.arenas)]
	return ar.allocate(nil, initialCapacity, maxCapacity)
}

// DefaultBuffer allocates DefaultInitialCapacity bytes with no practical
// growth limit.
func (a *Allocator) DefaultBuffer() (*PooledByteBuf, error) {
	return a.Buffer(DefaultInitialCapacity, DefaultMaxCapacity)
}

// CalculateNewCapacity is the growth policy used by EnsureWritable.
func (a *Allocator) CalculateNewCapacity(minNewCapacity, maxCapacity int) (int, error) {
	return CalculateNewCapacity(minNewCapacity, maxCapacity)
}

// CalculateNewCapacity doubles from 64 bytes up to 4 MiB and grows in 4 MiB
// steps beyond that, never exceeding maxCapacity.
func CalculateNewCapacity(minNewCapacity, maxCapacity int) (int, error) {
	if minNewCapacity < 0 || minNewCapacity > maxCapacity {
		return 0, api.NewError(api.ErrCodeInvalidCapacity, "requested capacity out of range").
			WithContext("minNewCapacity", minNewCapacity).
			WithContext("maxCapacity", maxCapacity)
	}
	const threshold = calculateThreshold
	if minNewCapacity == threshold {
		return threshold, nil
	}
	if minNewCapacity > threshold {
		newCapacity := minNewCapacity / threshold * threshold
		if newCapacity > maxCapacity-threshold {
			return maxCapacity, nil
		}
		return newCapacity + threshold, nil
	}
	newCapacity := 64
	for newCapacity < minNewCapacity {
		newCapacity <<= 1
	}
	return min(newCapacity, maxCapacity), nil
}

func validateCapacity(initialCapacity, maxCapacity int) error {
	if initialCapacity < 0 {
		return api.NewError(api.ErrCodeInvalidCapacity, "initial capacity is negative").
			WithContext("initialCapacity", initialCapacity)
	}
	if initialCapacity > maxCapacity {
		return api.NewError(api.ErrCodeInvalidCapacity, "initial capacity exceeds max capacity").
			WithContext("initialCapacity", initialCapacity).
			WithContext("maxCapacity", maxCapacity)
	}
	return nil
}

// Metrics snapshots every arena.
func (a *Allocator) Metrics() AllocatorMetrics {
	m := AllocatorMetrics{
		ChunkSize:   a.sizeClasses.ChunkSize(),
		PageSize:    a.sizeClasses.PageSize(),
		NumSizes:    a.sizeClasses.NumSizes(),
		NumSubpages: a.sizeClasses.NumSubpages(),
		Memory:      a.mem.name(),
		Arenas:      make([]ArenaMetrics, len(a.arenas)),
	}
	for i, ar := range a.arenas {
		m.Arenas[i] = ar.metrics()
	}
	return m
}

// Close destroys all pooled chunks. Every buffer and thread cache must be
// released first; memory of buffers still held becomes invalid.
func (a *Allocator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, ar := range a.arenas {
		ar.close()
	}
	a.log.Info("pooled allocator closed", zap.Int("arenas", len(a.arenas)))
	return nil
}
