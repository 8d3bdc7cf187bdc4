package pool

import (
	"testing"

	"github.com/momentics/hioload-mem/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"page too small", func(c *Config) { c.PageSize = 2048 }, "page_size"},
		{"page not power of two", func(c *Config) { c.PageSize = 12288 }, "page_size"},
		{"negative order", func(c *Config) { c.MaxOrder = -1 }, "max_order"},
		{"order too large", func(c *Config) { c.MaxOrder = 15 }, "max_order"},
		{"chunk too large", func(c *Config) { c.PageSize = 1 << 17; c.MaxOrder = 14 }, "max_order"},
		{"no arenas", func(c *Config) { c.NumArenas = 0 }, "num_arenas"},
		{"negative small cache", func(c *Config) { c.SmallCacheSize = -1 }, "small_cache_size"},
		{"negative normal cache", func(c *Config) { c.NormalCacheSize = -1 }, "normal_cache_size"},
		{"negative cached capacity", func(c *Config) { c.MaxCachedBufferCapacity = -1 }, "max_cached_buffer_capacity"},
		{"zero sweep threshold", func(c *Config) { c.FreeSweepAllocationThreshold = 0 }, "free_sweep_allocation_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrInvalidArgument)
			var apiErr *api.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Contains(t, apiErr.Context, tt.field)

			_, err = New(cfg)
			assert.ErrorIs(t, err, api.ErrInvalidArgument)
		})
	}

	t.Run("sweep threshold ignored without caching", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SmallCacheSize = 0
		cfg.NormalCacheSize = 0
		cfg.FreeSweepAllocationThreshold = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_Geometry(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 16<<20, cfg.ChunkSize())
	assert.Equal(t, 13, cfg.PageShifts())

	a := newTestAllocator(t, testConfig())
	assert.Equal(t, 16<<20, a.ChunkSize())
	assert.Equal(t, 76, a.SizeClasses().NumSizes())
	assert.Equal(t, testConfig(), a.Config())
}

func TestAllocator_CapacityValidation(t *testing.T) {
	a := newTestAllocator(t, testConfig())

	_, err := a.Buffer(-1, 100)
	assert.ErrorIs(t, err, api.ErrInvalidCapacity)

	_, err = a.Buffer(101, 100)
	assert.ErrorIs(t, err, api.ErrInvalidCapacity)

	tc := newTestCache(t, a)
	_, err = tc.Buffer(101, 100)
	assert.ErrorIs(t, err, api.ErrInvalidCapacity)

	buf, err := a.Buffer(0, 0)
	require.NoError(t, err)
	assert.Zero(t, buf.Capacity())
	assert.ErrorIs(t, buf.EnsureWritable(1), api.ErrInvalidCapacity)
	require.NoError(t, buf.Release())
}

func TestAllocator_DefaultBuffer(t *testing.T) {
	a := newTestAllocator(t, testConfig())
	buf, err := a.DefaultBuffer()
	require.NoError(t, err)
	defer buf.Release()
	assert.Equal(t, DefaultInitialCapacity, buf.Capacity())
	assert.Equal(t, DefaultMaxCapacity, buf.MaxCapacity())
}

func TestAllocator_RoundRobinArenas(t *testing.T) {
	cfg := testConfig()
	cfg.NumArenas = 3
	a := newTestAllocator(t, cfg)

	var bufs []*PooledByteBuf
	for i := 0; i < 6; i++ {
		buf, err := a.Buffer(64, DefaultMaxCapacity)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}
	for _, ar := range a.Metrics().Arenas {
		assert.Equal(t, int64(2), ar.AllocationsSmall, "arena %d", ar.Index)
	}
	for _, b := range bufs {
		require.NoError(t, b.Release())
	}
}

func TestAllocator_Metrics(t *testing.T) {
	a := newTestAllocator(t, testConfig())
	buf, err := a.Buffer(64*1024, DefaultMaxCapacity)
	require.NoError(t, err)

	m := a.Metrics()
	assert.Equal(t, testChunkSize, m.ChunkSize)
	assert.Equal(t, testPageSize, m.PageSize)
	assert.Equal(t, 39, m.NumSubpages)
	assert.Equal(t, "heap", m.Memory)
	assert.Equal(t, 1, m.NumChunks())
	assert.Equal(t, int64(64*1024), m.ActiveBytes())

	lists := m.Arenas[0].ChunkLists
	require.Len(t, lists, 6)
	assert.Equal(t, "qInit", lists[0].Name)
	require.Len(t, lists[0].Chunks, 1)
	assert.Equal(t, 1, lists[0].Chunks[0].Usage)

	require.NoError(t, buf.Release())
	assert.Zero(t, a.Metrics().Arenas[0].NumActiveAllocations())
}

func TestAllocator_Close(t *testing.T) {
	mem := &countingMemory{}
	a, err := New(testConfig(), withMemory(mem))
	require.NoError(t, err)

	buf, err := a.Buffer(1024, DefaultMaxCapacity)
	require.NoError(t, err)
	require.NoError(t, buf.Release())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	live, _, _ := mem.snapshot()
	assert.Zero(t, live)

	_, err = a.Buffer(64, DefaultMaxCapacity)
	assert.ErrorIs(t, err, api.ErrClosed)
	_, err = a.NewThreadCache()
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestAllocator_LogsLifecycle(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	a, err := New(testConfig(), WithLogger(zap.New(core)))
	require.NoError(t, err)

	buf, err := a.Buffer(64, DefaultMaxCapacity)
	require.NoError(t, err)
	require.NoError(t, buf.Release())
	require.NoError(t, a.Close())

	assert.Equal(t, 1, logs.FilterMessage("pooled allocator initialized").Len())
	assert.Equal(t, 1, logs.FilterMessage("chunk created").Len())
	assert.Equal(t, 1, logs.FilterMessage("chunk destroyed").Len())
	assert.Equal(t, 1, logs.FilterMessage("pooled allocator closed").Len())
}

func TestAllocator_WarnsOnChunkFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, err := New(testConfig(), WithLogger(zap.New(core)), withMemory(failingMemory{err: errTestNoMemory}))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Buffer(64, DefaultMaxCapacity)
	assert.ErrorIs(t, err, errTestNoMemory)
	entries := logs.FilterMessage("chunk allocation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(testChunkSize), entries[0].ContextMap()["size"])
}

func TestDefault_IsShared(t *testing.T) {
	a1, err := Default()
	require.NoError(t, err)
	a2, err := Default()
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	buf, err := DefaultBuffer(64, 1024)
	require.NoError(t, err)
	assert.Equal(t, 64, buf.Capacity())
	require.NoError(t, buf.Release())
}
