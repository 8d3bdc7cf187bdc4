// File: pool/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocator tunables. They are read once at construction.

package pool

import (
	"fmt"
	"math/bits"
	"runtime"

	"github.com/momentics/hioload-mem/api"
)

const (
	minPageSize  = 4096
	maxChunkSize = 1 << 30
	maxPages     = 1 << 14

	// DefaultMaxCapacity bounds buffers that do not ask for a limit.
	DefaultMaxCapacity = 1<<31 - 1
	// DefaultInitialCapacity is used by Allocator.DefaultBuffer.
	DefaultInitialCapacity = 256

	calculateThreshold = 4 << 20
)

// Config holds the allocator geometry and cache policy.
type Config struct {
	PageSize                     int  `toml:"page_size"`
	MaxOrder                     int  `toml:"max_order"`
	NumArenas                    int  `toml:"num_arenas"`
	SmallCacheSize               int  `toml:"small_cache_size"`
	NormalCacheSize              int  `toml:"normal_cache_size"`
	MaxCachedBufferCapacity      int  `toml:"max_cached_buffer_capacity"`
	FreeSweepAllocationThreshold int  `toml:"free_sweep_allocation_threshold"`
	UseMmap                      bool `toml:"use_mmap"`
}

// DefaultConfig returns 8 KiB pages, 16 MiB chunks and one arena per CPU.
func DefaultConfig() Config {
	return Config{
		PageSize:                     8192,
		MaxOrder:                     11,
		NumArenas:                    runtime.NumCPU(),
		SmallCacheSize:               256,
		NormalCacheSize:              64,
		MaxCachedBufferCapacity:      32 << 10,
		FreeSweepAllocationThreshold: 8192,
		UseMmap:                      true,
	}
}

// ChunkSize is PageSize << MaxOrder.
func (c Config) ChunkSize() int {
	return c.PageSize << c.MaxOrder
}

// PageShifts is log2(PageSize).
func (c Config) PageShifts() int {
	return bits.Len(uint(c.PageSize)) - 1
}

func (c Config) cachingEnabled() bool {
	return c.SmallCacheSize > 0 || (c.NormalCacheSize > 0 && c.MaxCachedBufferCapacity > 0)
}

// Validate checks the geometry and cache settings.
func (c Config) Validate() error {
	invalid := func(field string, v any, msg string) error {
		return api.NewError(api.ErrCodeInvalidArgument, "pool config: "+field+" "+msg).
			WithContext(field, v)
	}
	if c.PageSize < minPageSize {
		return invalid("page_size", c.PageSize, fmt.Sprintf("must be >= %d", minPageSize))
	}
	if c.PageSize&(c.PageSize-1) != 0 {
		return invalid("page_size", c.PageSize, "must be a power of two")
	}
	if c.MaxOrder < 0 || c.MaxOrder > 14 {
		return invalid("max_order", c.MaxOrder, "must be in [0, 14]")
	}
	if int64(c.PageSize)<<c.MaxOrder > maxChunkSize {
		return invalid("max_order", c.MaxOrder, fmt.Sprintf("yields a chunk above %d bytes", maxChunkSize))
	}
	if 1<<c.MaxOrder > maxPages {
		return invalid("max_order", c.MaxOrder, fmt.Sprintf("yields more than %d pages", maxPages))
	}
	if c.NumArenas <= 0 {
		return invalid("num_arenas", c.NumArenas, "must be positive")
	}
	if c.SmallCacheSize < 0 {
		return invalid("small_cache_size", c.SmallCacheSize, "must not be negative")
	}
	if c.NormalCacheSize < 0 {
		return invalid("normal_cache_size", c.NormalCacheSize, "must not be negative")
	}
	if c.MaxCachedBufferCapacity < 0 {
		return invalid("max_cached_buffer_capacity", c.MaxCachedBufferCapacity, "must not be negative")
	}
	if c.cachingEnabled() && c.FreeSweepAllocationThreshold < 1 {
		return invalid("free_sweep_allocation_threshold", c.FreeSweepAllocationThreshold, "must be >= 1 when caching is enabled")
	}
	return nil
}
