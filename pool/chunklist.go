// File: pool/chunklist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Chunk lists bucket chunks by usage. Neighbouring lists overlap so a chunk
// sitting on a boundary does not bounce between lists on every
// allocate/free pair. All list state is guarded by the owning arena lock.

package pool

import (
	"fmt"
	"strings"
)

type chunkList struct {
	arena    *arena
	name     string
	nextList *chunkList
	prevList *chunkList

	minUsage    int
	maxUsage    int
	maxCapacity int

	head *chunk

	// free byte bounds a chunk must stay within to remain in this list
	freeMinThreshold int
	freeMaxThreshold int
}

func newChunkList(a *arena, name string, next *chunkList, minUsage, maxUsage, chunkSize int) *chunkList {
	if minUsage > maxUsage {
		panic(fmt.Sprintf("pool: chunk list %s: minUsage %d > maxUsage %d", name, minUsage, maxUsage))
	}
	return &chunkList{
		arena:            a,
		name:             name,
		nextList:         next,
		minUsage:         minUsage,
		maxUsage:         maxUsage,
		maxCapacity:      listMaxCapacity(minUsage, chunkSize),
		freeMinThreshold: freeThreshold(maxUsage, chunkSize),
		freeMaxThreshold: freeThreshold(minUsage, chunkSize),
	}
}

// freeThreshold converts a usage bound into a free byte bound. The extra
// 0.99999999 makes a chunk leave the list as soon as it crosses the bound
// rather than one percent later.
func freeThreshold(usage, chunkSize int) int {
	if usage == 100 {
		return 0
	}
	return int(float64(chunkSize) * (100.0 - float64(usage) + 0.99999999) / 100)
}

// listMaxCapacity is the largest request a chunk in the list can still hold.
func listMaxCapacity(minUsage, chunkSize int) int {
	minUsage = max(0, minUsage)
	if minUsage == 100 {
		return 0
	}
	return int(int64(chunkSize) * int64(100-minUsage) / 100)
}

func (l *chunkList) setPrevList(prev *chunkList) {
	if l.prevList != nil {
		panic("pool: chunk list predecessor already set")
	}
	l.prevList = prev
}

// allocate tries every chunk head to tail. A chunk whose free bytes drop to
// the lower bound moves on to the next list.
func (l *chunkList) allocate(buf *PooledByteBuf, reqCapacity, sizeIdx int, cache *ThreadCache) bool {
	if l.arena.SizeIdx2Size(sizeIdx) > l.maxCapacity {
		return false
	}
	for cur := l.head; cur != nil; cur = cur.next {
		if cur.allocate(buf, reqCapacity, sizeIdx, cache) {
			if cur.availableBytes() <= l.freeMinThreshold {
				l.remove(cur)
				l.nextList.add(cur)
			}
			return true
		}
	}
	return false
}

// free returns false when the chunk dropped to zero usage with no list left
// to hold it; the caller must destroy it.
func (l *chunkList) free(c *chunk, handle int64, normCapacity int) bool {
	c.free(handle, normCapacity)
	if c.availableBytes() > l.freeMaxThreshold {
		l.remove(c)
		return l.move0(c)
	}
	return true
}

func (l *chunkList) move(c *chunk) bool {
	if c.availableBytes() > l.freeMaxThreshold {
		return l.move0(c)
	}
	l.add0(c)
	return true
}

func (l *chunkList) move0(c *chunk) bool {
	if l.prevList == nil {
		return false
	}
	return l.prevList.move(c)
}

func (l *chunkList) add(c *chunk) {
	if c.availableBytes() <= l.freeMinThreshold {
		l.nextList.add(c)
		return
	}
	l.add0(c)
}

// add0 pushes c to the front.
func (l *chunkList) add0(c *chunk) {
	c.parent = l
	c.prev = nil
	c.next = l.head
	if l.head != nil {
		l.head.prev = c
	}
	l.head = c
}

func (l *chunkList) remove(c *chunk) {
	if c == l.head {
		l.head = c.next
		if l.head != nil {
			l.head.prev = nil
		}
	} else {
		next := c.next
		c.prev.next = next
		if next != nil {
			next.prev = c.prev
		}
	}
	c.prev, c.next = nil, nil
}

// chunks snapshots the list in order.
func (l *chunkList) chunks() []*chunk {
	var out []*chunk
	for cur := l.head; cur != nil; cur = cur.next {
		out = append(out, cur)
	}
	return out
}

// detachAll empties the list and returns its former members.
func (l *chunkList) detachAll() []*chunk {
	out := l.chunks()
	for _, c := range out {
		c.parent, c.prev, c.next = nil, nil, nil
	}
	l.head = nil
	return out
}

func (l *chunkList) MinUsage() int { return max(1, l.minUsage) }

func (l *chunkList) MaxUsage() int { return min(l.maxUsage, 100) }

func (l *chunkList) String() string {
	if l.head == nil {
		return "none"
	}
	var sb strings.Builder
	for cur := l.head; cur != nil; cur = cur.next {
		sb.WriteString(cur.String())
		if cur.next != nil {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
