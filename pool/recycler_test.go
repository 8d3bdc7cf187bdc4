package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recycled struct{ v int }

func TestRecycler_ReusesResetObjects(t *testing.T) {
	created := 0
	r := NewRecycler(func() *recycled { created++; return &recycled{} },
		func(o *recycled) { o.v = 0 }, 2)

	a, b, c := r.Get(), r.Get(), r.Get()
	assert.Equal(t, 3, created)
	a.v, b.v, c.v = 1, 2, 3

	r.Put(a)
	r.Put(b)
	r.Put(c)
	assert.Equal(t, 2, r.Len())

	got := r.Get()
	assert.Same(t, b, got)
	assert.Zero(t, got.v)
	assert.Same(t, a, r.Get())
	assert.Zero(t, r.Len())

	r.Get()
	assert.Equal(t, 4, created)
}

func TestRecycler_DefaultCapacity(t *testing.T) {
	r := NewRecycler(func() int { return 0 }, nil, 0)
	for i := 0; i < defaultRecyclerCapacity+10; i++ {
		r.Put(i)
	}
	assert.Equal(t, defaultRecyclerCapacity, r.Len())
}

func TestSyncPool_ResetsOnPut(t *testing.T) {
	p := NewSyncPool(func() *recycled { return &recycled{} }, func(o *recycled) { o.v = 0 })
	o := p.Get()
	o.v = 42
	p.Put(o)
	assert.Zero(t, o.v)
	assert.NotNil(t, p.Get())
}
