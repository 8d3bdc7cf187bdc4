// File: pool/subpage.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A subpage carves one run into equally sized elements tracked by a bitmap
// (bit set means allocated). Subpages of the same size class are linked into
// a circular list behind a sentinel head owned by the arena.

package pool

import (
	"fmt"
	"sync"
)

type subpage struct {
	chunk      *chunk
	pageShifts int
	runOffset  int
	runSize    int
	elemSize   int

	bitmap       []uint64
	bitmapLength int
	maxNumElems  int
	numAvail     int
	nextAvail    int

	prev, next *subpage

	doNotDestroy bool
}

// subpagePool is the per-size-class list of subpages with free elements.
// mu guards the list and every subpage linked into it.
type subpagePool struct {
	mu   sync.Mutex
	head *subpage
}

func newSubpagePool() *subpagePool {
	head := &subpage{doNotDestroy: true, nextAvail: -1}
	head.prev = head
	head.next = head
	return &subpagePool{head: head}
}

// newSubpage must be called with the pool lock held.
func newSubpage(head *subpage, c *chunk, pageShifts, runOffset, runSize, elemSize int) *subpage {
	s := &subpage{
		chunk:        c,
		pageShifts:   pageShifts,
		runOffset:    runOffset,
		runSize:      runSize,
		elemSize:     elemSize,
		bitmap:       make([]uint64, runSize>>(6+Log2Quantum)),
		doNotDestroy: true,
	}
	s.maxNumElems = runSize / elemSize
	s.numAvail = s.maxNumElems
	s.bitmapLength = (s.maxNumElems + 63) >> 6
	s.addToPool(head)
	return s
}

// allocate returns a subpage handle, or noHandle when the subpage is full.
func (s *subpage) allocate() int64 {
	if s.numAvail == 0 || !s.doNotDestroy {
		return noHandle
	}

	idx := s.getNextAvail()
	if idx < 0 {
		panic(fmt.Sprintf("pool: subpage at page %d reports %d free elements but bitmap is full", s.runOffset, s.numAvail))
	}
	q, r := idx>>6, uint(idx&63)
	if s.bitmap[q]>>r&1 != 0 {
		panic(fmt.Sprintf("pool: subpage element %d already allocated", idx))
	}
	s.bitmap[q] |= 1 << r

	s.numAvail--
	if s.numAvail == 0 {
		s.removeFromPool()
	}
	return toSubpageHandle(s.runOffset, s.runSize>>s.pageShifts, idx)
}

// free releases element idx. It returns false when the subpage became empty
// and was unlinked, in which case the caller must release the backing run.
// The last subpage of a size class stays linked even when empty.
func (s *subpage) free(head *subpage, idx int) bool {
	if s.elemSize == 0 {
		return true
	}
	q, r := idx>>6, uint(idx&63)
	if s.bitmap[q]>>r&1 == 0 {
		panic(fmt.Sprintf("pool: double free of subpage element %d at page %d", idx, s.runOffset))
	}
	s.bitmap[q] ^= 1 << r
	s.nextAvail = idx

	s.numAvail++
	if s.numAvail == 1 {
		s.addToPool(head)
		if s.maxNumElems > 1 {
			return true
		}
	}

	if s.numAvail != s.maxNumElems {
		return true
	}
	if s.prev == s.next {
		// only subpage of its class
		return true
	}
	s.doNotDestroy = false
	s.removeFromPool()
	return false
}

func (s *subpage) addToPool(head *subpage) {
	if s.prev != nil || s.next != nil {
		panic("pool: subpage already linked")
	}
	s.prev = head
	s.next = head.next
	s.next.prev = s
	head.next = s
}

func (s *subpage) removeFromPool() {
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next = nil
	s.prev = nil
}

func (s *subpage) getNextAvail() int {
	if n := s.nextAvail; n >= 0 {
		s.nextAvail = -1
		return n
	}
	return s.findNextAvail()
}

func (s *subpage) findNextAvail() int {
	for i := 0; i < s.bitmapLength; i++ {
		bits := s.bitmap[i]
		if ^bits == 0 {
			continue
		}
		base := i << 6
		for j := 0; j < 64; j++ {
			if bits&1 == 0 {
				if v := base | j; v < s.maxNumElems {
					return v
				}
				return -1
			}
			bits >>= 1
		}
	}
	return -1
}

func (s *subpage) linked() bool { return s.prev != nil }

func (s *subpage) String() string {
	if s.elemSize == 0 {
		return "(head)"
	}
	return fmt.Sprintf("(%d: %d/%d, offset: %d, length: %d, elemSize: %d)",
		s.runOffset, s.maxNumElems-s.numAvail, s.maxNumElems,
		s.runOffset<<s.pageShifts, s.runSize, s.elemSize)
}
