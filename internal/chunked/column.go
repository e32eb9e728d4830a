// Package chunked provides the append-only, chunk-granular column stores
// backing one growing segment. Values live in fixed-capacity chunks; the
// chunk directory grows copy-on-write and is published through an atomic
// pointer, so readers never take a lock to address a row. Writers filling
// disjoint row ranges only contend on directory growth.
//
// A slot is written exactly once. Readers must not address rows beyond the
// visibility barrier they were given; the store itself does not track which
// rows are complete.
package chunked

import (
	"sync"
	"sync/atomic"
)

// Column is an append-only chunked store of scalar values, one T per row.
// Scalar and system columns are never reclaimed, so reads go through the
// atomic directory without locking.
type Column[T any] struct {
	chunkRows int64

	mu     sync.Mutex // guards directory growth
	chunks atomic.Pointer[[][]T]
}

// NewColumn creates a column with the given chunk capacity in rows.
func NewColumn[T any](chunkRows int64) *Column[T] {
	c := &Column[T]{chunkRows: chunkRows}
	dir := make([][]T, 0, 16)
	c.chunks.Store(&dir)
	return c
}

// ChunkRows returns the per-chunk row capacity.
func (c *Column[T]) ChunkRows() int64 { return c.chunkRows }

// NumChunks returns the number of allocated chunks.
func (c *Column[T]) NumChunks() int { return len(*c.chunks.Load()) }

// Fill writes a contiguous block of values starting at offset, spanning chunk
// boundaries and allocating chunks as needed. The caller owns [offset,
// offset+len(values)) exclusively via reservation.
func (c *Column[T]) Fill(offset int64, values []T) {
	if len(values) == 0 {
		return
	}
	end := offset + int64(len(values))
	c.grow(end)

	chunks := *c.chunks.Load()
	src := values
	for row := offset; row < end; {
		cid := row / c.chunkRows
		coff := row % c.chunkRows
		n := min(c.chunkRows-coff, end-row)
		copy(chunks[cid][coff:coff+n], src[:n])
		src = src[n:]
		row += n
	}
}

func (c *Column[T]) grow(until int64) {
	need := (until + c.chunkRows - 1) / c.chunkRows
	if int64(len(*c.chunks.Load())) >= need {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chunks := *c.chunks.Load()
	if int64(len(chunks)) >= need {
		return
	}

	newCap := len(chunks) * 2
	if newCap == 0 {
		newCap = 16
	}
	if int64(newCap) < need {
		newCap = int(need)
	}
	newChunks := make([][]T, len(chunks), newCap)
	copy(newChunks, chunks)
	for int64(len(newChunks)) < need {
		newChunks = append(newChunks, make([]T, c.chunkRows))
	}
	c.chunks.Store(&newChunks)
}

// Get returns the value at offset, or false if the offset addresses an
// unallocated chunk.
func (c *Column[T]) Get(offset int64) (T, bool) {
	var zero T
	if offset < 0 {
		return zero, false
	}
	chunks := *c.chunks.Load()
	cid := offset / c.chunkRows
	if cid >= int64(len(chunks)) {
		return zero, false
	}
	return chunks[cid][offset%c.chunkRows], true
}

// Chunk returns the raw span of one chunk, or nil if out of range.
func (c *Column[T]) Chunk(chunkID int) []T {
	chunks := *c.chunks.Load()
	if chunkID < 0 || chunkID >= len(chunks) {
		return nil
	}
	return chunks[chunkID]
}

// FetchValues copies the values at the given offsets, in order. Returns
// false if any offset addresses an unallocated chunk.
func (c *Column[T]) FetchValues(offsets []int64) ([]T, bool) {
	chunks := *c.chunks.Load()
	out := make([]T, len(offsets))
	for i, off := range offsets {
		cid := off / c.chunkRows
		if off < 0 || cid >= int64(len(chunks)) {
			return nil, false
		}
		out[i] = chunks[cid][off%c.chunkRows]
	}
	return out, true
}

// ScanChunks calls fn for each chunk covering rows [0, rows). fn receives
// the chunk id, the span clipped to valid rows, and the first row of the
// span; returning false stops the scan. The scan reports false if the
// requested row count exceeds the allocated chunks.
func (c *Column[T]) ScanChunks(rows int64, fn func(chunkID int, span []T, startRow int64) bool) bool {
	if rows <= 0 {
		return true
	}
	chunks := *c.chunks.Load()
	if (rows+c.chunkRows-1)/c.chunkRows > int64(len(chunks)) {
		return false
	}
	for cid := 0; int64(cid)*c.chunkRows < rows; cid++ {
		start := int64(cid) * c.chunkRows
		valid := min(c.chunkRows, rows-start)
		if !fn(cid, chunks[cid][:valid], start) {
			break
		}
	}
	return true
}
