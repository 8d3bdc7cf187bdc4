// File: pool/runqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Min-priority queue of free run handles. Handles sort by run offset first,
// so the lowest-addressed run of a page class is always handed out first.

package pool

import "container/heap"

type handleHeap []int64

func (h handleHeap) Len() int           { return len(h) }
func (h handleHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h handleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *handleHeap) Push(x any) { *h = append(*h, x.(int64)) }

func (h *handleHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

type runQueue struct {
	h handleHeap
}

func (q *runQueue) offer(handle int64) {
	heap.Push(&q.h, handle)
}

// poll removes and returns the lowest handle, or noHandle when empty.
func (q *runQueue) poll() int64 {
	if len(q.h) == 0 {
		return noHandle
	}
	return heap.Pop(&q.h).(int64)
}

func (q *runQueue) peek() int64 {
	if len(q.h) == 0 {
		return noHandle
	}
	return q.h[0]
}

// remove deletes handle if present.
func (q *runQueue) remove(handle int64) bool {
	for i, v := range q.h {
		if v == handle {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

func (q *runQueue) len() int { return len(q.h) }

func (q *runQueue) isEmpty() bool { return len(q.h) == 0 }
