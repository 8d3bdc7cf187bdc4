package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdder_Uncontended(t *testing.T) {
	a := NewAdder(0)
	a.Add(0, 5)
	a.Inc(3)
	a.Add(7, -2)
	assert.Equal(t, int64(4), a.Sum())

	a.Reset()
	assert.Zero(t, a.Sum())
}

func TestAdder_CellsRoundedToPowerOfTwo(t *testing.T) {
	a := NewAdder(5)
	require.Len(t, a.cells, 8)
	assert.Equal(t, uint32(7), a.mask)
}

func TestAdder_ConcurrentWritersSumExactlyWhenQuiescent(t *testing.T) {
	const (
		writers = 8
		perG    = 20000
	)
	a := NewAdder(writers)

	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(hint uint32) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				a.Inc(hint)
				if i%2 == 0 {
					a.Add(hint, -1)
				}
			}
		}(uint32(g))
	}
	wg.Wait()

	assert.Equal(t, int64(writers*perG/2), a.Sum())
}

func BenchmarkAdder_Parallel(b *testing.B) {
	a := NewAdder(0)
	var probe uint32
	var mu sync.Mutex
	b.RunParallel(func(pb *testing.PB) {
		mu.Lock()
		probe++
		hint := probe
		mu.Unlock()
		for pb.Next() {
			a.Inc(hint)
		}
	})
}
