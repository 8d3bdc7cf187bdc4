// File: internal/concurrency/adder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Striped counter for statistics written from many goroutines.

package concurrency

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const defaultAdderCells = 16

type adderCell struct {
	_ cpu.CacheLinePad
	v atomic.Int64
	_ cpu.CacheLinePad
}

// Adder accumulates int64 deltas. Writers update a shared base until the
// first CAS failure, after which they spread over padded cells selected by a
// caller supplied hint.
//
// Sum is not an atomic snapshot: with concurrent writers it may miss deltas
// that are still in flight. Once writers are quiescent it is exact.
type Adder struct {
	base      atomic.Int64
	contended atomic.Bool
	cells     []adderCell
	mask      uint32
}

// NewAdder creates an Adder with n cells, rounded up to a power of two.
func NewAdder(n int) *Adder {
	if n <= 0 {
		n = defaultAdderCells
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &Adder{
		cells: make([]adderCell, size),
		mask:  uint32(size - 1),
	}
}

// Add adds delta. hint selects the cell under contention; callers pass a
// per-goroutine probe so that distinct writers land on distinct cells.
func (a *Adder) Add(hint uint32, delta int64) {
	if !a.contended.Load() {
		old := a.base.Load()
		if a.base.CompareAndSwap(old, old+delta) {
			return
		}
		a.contended.Store(true)
	}
	a.cells[hint&a.mask].v.Add(delta)
}

// Inc adds one.
func (a *Adder) Inc(hint uint32) { a.Add(hint, 1) }

// Sum returns the current total.
func (a *Adder) Sum() int64 {
	s := a.base.Load()
	for i := range a.cells {
		s += a.cells[i].v.Load()
	}
	return s
}

// Reset zeroes the counter. It is only exact without concurrent writers.
func (a *Adder) Reset() {
	a.base.Store(0)
	for i := range a.cells {
		a.cells[i].v.Store(0)
	}
}
