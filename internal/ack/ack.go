// Package ack tracks which reserved offset ranges have completed their write.
// Completion arrives out of order from independent writers; visibility only
// advances as a contiguous prefix starting at zero, so readers never observe
// holes.
package ack

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

// Responder records completed [start, start+n) ranges and exposes the
// largest N with [0, N) fully complete.
type Responder struct {
	mu     sync.Mutex
	ranges [][2]int64 // sorted, disjoint, non-adjacent half-open intervals
	prefix atomic.Int64
}

// NewResponder creates an empty responder.
func NewResponder() *Responder {
	return &Responder{}
}

// MarkComplete registers a finished write range. Idempotent; safe under
// concurrent calls with no order assumed between them.
func (r *Responder) MarkComplete(start, n int64) {
	if n <= 0 || start < 0 {
		return
	}
	end := start + n

	r.mu.Lock()
	defer r.mu.Unlock()

	// First interval that touches or overlaps [start, end).
	i := sort.Search(len(r.ranges), func(i int) bool { return r.ranges[i][1] >= start })
	j := i
	for j < len(r.ranges) && r.ranges[j][0] <= end {
		if r.ranges[j][0] < start {
			start = r.ranges[j][0]
		}
		if r.ranges[j][1] > end {
			end = r.ranges[j][1]
		}
		j++
	}
	r.ranges = slices.Replace(r.ranges, i, j, [2]int64{start, end})

	if r.ranges[0][0] == 0 {
		r.prefix.Store(r.ranges[0][1])
	}
}

// VisibleCount returns the contiguous completed prefix length. Lock-free and
// non-decreasing.
func (r *Responder) VisibleCount() int64 {
	return r.prefix.Load()
}

// Pending returns the number of disjoint completed ranges not yet absorbed
// into the prefix. Diagnostic only.
func (r *Responder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.ranges)
	if n > 0 && r.ranges[0][0] == 0 {
		n--
	}
	return n
}
