// Package topk implements the bounded candidate heap used by vector search.
// Value-based storage, no container/heap indirection; the heap top is always
// the current worst candidate, so a full heap admits a better candidate by
// replacing the top.
package topk

import (
	"slices"
)

// Item is one search candidate.
type Item struct {
	Offset   int64
	Distance float32
}

// Queue keeps the best candidates seen so far under one distance ordering.
type Queue struct {
	largerIsBetter bool
	items          []Item
}

// New creates a queue. largerIsBetter selects the ordering: false for
// metrics where smaller distances win (L2), true where larger values win
// (inner product, cosine similarity).
func New(largerIsBetter bool) *Queue {
	return &Queue{
		largerIsBetter: largerIsBetter,
		items:          make([]Item, 0, 16),
	}
}

// Reset clears the queue for reuse.
func (q *Queue) Reset() {
	q.items = q.items[:0]
}

// Len returns the number of candidates held.
func (q *Queue) Len() int {
	return len(q.items)
}

// Top returns the current worst candidate.
func (q *Queue) Top() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// worse reports whether a is a worse candidate than b.
func (q *Queue) worse(a, b Item) bool {
	if q.largerIsBetter {
		return a.Distance < b.Distance
	}
	return a.Distance > b.Distance
}

// Push inserts a candidate unconditionally.
func (q *Queue) Push(item Item) {
	q.items = append(q.items, item)
	q.siftUp(len(q.items) - 1)
}

// PushBounded inserts a candidate into a heap bounded at k. A full heap
// replaces its top only when the candidate beats it.
func (q *Queue) PushBounded(item Item, k int) {
	if len(q.items) < k {
		q.Push(item)
		return
	}
	if q.worse(q.items[0], item) {
		q.items[0] = item
		q.siftDown(0)
	}
}

// Pop removes and returns the current worst candidate.
func (q *Queue) Pop() (Item, bool) {
	n := len(q.items)
	if n == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return item, true
}

// Results drains the queue and returns the candidates best-first.
func (q *Queue) Results() []Item {
	out := make([]Item, 0, len(q.items))
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		out = append(out, item)
	}
	slices.Reverse(out)
	return out
}

func (q *Queue) less(i, j int) bool {
	return q.worse(q.items[i], q.items[j])
}

func (q *Queue) swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *Queue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *Queue) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}
		if !q.less(child, i) {
			break
		}
		q.swap(i, child)
		i = child
	}
}
