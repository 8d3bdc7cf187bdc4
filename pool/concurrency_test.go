package pool

import (
	"bytes"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stressSizes = []int{16, 48, 100, 512, 1000, 4096, 8192, 20000, 32768, 70000, 300000}

// fillPattern copies pattern into the writable tail.
func fillPattern(b *PooledByteBuf, pattern []byte) {
	b.Advance(copy(b.WritableSlice(), pattern))
}

func checkPattern(b *PooledByteBuf, tag byte) bool {
	return bytes.Count(b.Bytes(), []byte{tag}) == b.ReadableBytes()
}

func TestAllocator_ConcurrentCachesDoNotAlias(t *testing.T) {
	cfg := testConfig()
	cfg.NumArenas = 2
	cfg.FreeSweepAllocationThreshold = 64
	a := newTestAllocator(t, cfg)

	const workers = 8
	rounds := 100000
	if testing.Short() {
		rounds = 2000
	}
	var wg sync.WaitGroup
	errs := make(chan string, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tc, err := a.NewThreadCache()
			if err != nil {
				errs <- err.Error()
				return
			}
			defer tc.Close()

			rnd := rand.New(rand.NewPCG(uint64(w), 7))
			tag := byte(w + 1)
			pattern := bytes.Repeat([]byte{tag}, stressSizes[len(stressSizes)-1])
			var live []*PooledByteBuf
			for i := 0; i < rounds; i++ {
				if len(live) > 0 && (len(live) >= 32 || rnd.IntN(2) == 0) {
					j := rnd.IntN(len(live))
					b := live[j]
					live[j] = live[len(live)-1]
					live = live[:len(live)-1]
					if !checkPattern(b, tag) {
						errs <- "block overwritten by another owner"
						return
					}
					_ = b.Release()
					continue
				}
				size := stressSizes[rnd.IntN(len(stressSizes))]
				var b *PooledByteBuf
				if rnd.IntN(8) == 0 {
					b, err = a.Buffer(size, DefaultMaxCapacity)
				} else {
					b, err = tc.Buffer(size, DefaultMaxCapacity)
				}
				if err != nil {
					errs <- err.Error()
					return
				}
				fillPattern(b, pattern)
				if rnd.IntN(8) == 0 {
					// forces a move to the next size class
					if _, err := b.Write(pattern[:64]); err != nil {
						errs <- err.Error()
						return
					}
				}
				live = append(live, b)
			}
			for _, b := range live {
				if !checkPattern(b, tag) {
					errs <- "block overwritten by another owner"
					return
				}
				_ = b.Release()
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	m := a.Metrics()
	assert.Zero(t, m.NumThreadCaches())
	for _, am := range m.Arenas {
		assert.Zero(t, am.NumActiveAllocations(), "arena %d", am.Index)
	}
	assertArenaInvariants(t, a)
}

func TestAllocator_CrossGoroutineRelease(t *testing.T) {
	cfg := testConfig()
	cfg.NumArenas = 2
	a := newTestAllocator(t, cfg)

	ch := make(chan *PooledByteBuf, 64)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b, err := a.Buffer(stressSizes[(w+i)%len(stressSizes)], DefaultMaxCapacity)
				if err != nil {
					t.Error(err)
					return
				}
				ch <- b
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		for b := range ch {
			_ = b.Release()
		}
		close(done)
	}()
	wg.Wait()
	close(ch)
	<-done

	for _, am := range a.Metrics().Arenas {
		assert.Zero(t, am.NumActiveAllocations(), "arena %d", am.Index)
	}
	assertArenaInvariants(t, a)
}

func assertArenaInvariants(t *testing.T, a *Allocator) {
	t.Helper()
	for _, ar := range a.arenas {
		ar.mu.Lock()
		var all []*chunk
		for _, l := range ar.chunkLists() {
			all = append(all, l.chunks()...)
		}
		ar.mu.Unlock()
		for _, c := range all {
			_, err := c.checkInvariants()
			require.NoError(t, err, "arena %d chunk %v", ar.index, c)
		}
	}
}
