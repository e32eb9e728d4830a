package chunked

import (
	"sync"
	"sync/atomic"
)

// FlatColumn is an append-only chunked store of fixed-width rows, width
// values of T per row laid out flat. Float vectors use T=float32 with
// width=dim; binary vectors use T=byte with width=dim/8.
type FlatColumn[T any] struct {
	chunkRows int64
	width     int64

	mu     sync.Mutex
	chunks atomic.Pointer[[][]T]

	dataMu sync.RWMutex
}

// NewFlatColumn creates a flat column with the given chunk capacity in rows
// and values per row.
func NewFlatColumn[T any](chunkRows, width int64) *FlatColumn[T] {
	c := &FlatColumn[T]{chunkRows: chunkRows, width: width}
	dir := make([][]T, 0, 16)
	c.chunks.Store(&dir)
	return c
}

// Width returns the number of values per row.
func (c *FlatColumn[T]) Width() int64 { return c.width }

// ChunkRows returns the per-chunk row capacity.
func (c *FlatColumn[T]) ChunkRows() int64 { return c.chunkRows }

// NumChunks returns the number of allocated chunks.
func (c *FlatColumn[T]) NumChunks() int { return len(*c.chunks.Load()) }

// Fill writes len(values)/width rows starting at the given row offset. The
// caller owns the range exclusively via reservation.
func (c *FlatColumn[T]) Fill(offset int64, values []T) {
	rows := int64(len(values)) / c.width
	if rows == 0 {
		return
	}
	end := offset + rows
	c.grow(end)

	chunks := *c.chunks.Load()
	src := values
	for row := offset; row < end; {
		cid := row / c.chunkRows
		coff := row % c.chunkRows
		n := min(c.chunkRows-coff, end-row)
		copy(chunks[cid][coff*c.width:(coff+n)*c.width], src[:n*c.width])
		src = src[n*c.width:]
		row += n
	}
}

func (c *FlatColumn[T]) grow(until int64) {
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
		newChunks = append(newChunks, make([]T, c.chunkRows*c.width))
	}
	c.chunks.Store(&newChunks)
}

// Row returns a view of one row, or nil if its chunk is unallocated or
// reclaimed. It does not synchronize with reclamation; use it only where
// chunks cannot be dropped (the interim index's own store).
func (c *FlatColumn[T]) Row(offset int64) []T {
	if offset < 0 {
		return nil
	}
	chunks := *c.chunks.Load()
	cid := offset / c.chunkRows
	if cid >= int64(len(chunks)) || chunks[cid] == nil {
		return nil
	}
	coff := offset % c.chunkRows
	return chunks[cid][coff*c.width : (coff+1)*c.width]
}

// FetchRows copies the rows at the given offsets into one flat slice, in
// order, under the shared read lock. Returns false if any offset addresses
// an unallocated (or reclaimed) chunk.
func (c *FlatColumn[T]) FetchRows(offsets []int64) ([]T, bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()

	chunks := *c.chunks.Load()
	out := make([]T, int64(len(offsets))*c.width)
	for i, off := range offsets {
		cid := off / c.chunkRows
		if off < 0 || cid >= int64(len(chunks)) || chunks[cid] == nil {
			return nil, false
		}
		coff := off % c.chunkRows
		copy(out[int64(i)*c.width:], chunks[cid][coff*c.width:(coff+1)*c.width])
	}
	return out, true
}

// ScanChunks calls fn for each chunk covering rows [0, rows), under the
// shared read lock. The span is clipped to valid rows (valid*width values);
// returning false stops the scan. Reports false if chunks have been
// reclaimed below the requested row count.
func (c *FlatColumn[T]) ScanChunks(rows int64, fn func(chunkID int, span []T, startRow int64) bool) bool {
	return c.ScanChunkRange(0, rows, fn)
}

// ScanChunkRange calls fn for each chunk span covering rows [from, to),
// under the shared read lock. Spans are clipped to the range; returning
// false stops the scan. Reports false if any chunk in the range is
// unallocated or reclaimed, in which case fn may already have seen earlier
// spans.
func (c *FlatColumn[T]) ScanChunkRange(from, to int64, fn func(chunkID int, span []T, startRow int64) bool) bool {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return true
	}
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()

	chunks := *c.chunks.Load()
	if (to+c.chunkRows-1)/c.chunkRows > int64(len(chunks)) {
		return false
	}
	for cid := from / c.chunkRows; cid*c.chunkRows < to; cid++ {
		if chunks[cid] == nil {
			return false
		}
		start := cid * c.chunkRows
		lo := max(from-start, 0)
		hi := min(c.chunkRows, to-start)
		if !fn(int(cid), chunks[cid][lo*c.width:hi*c.width], start+lo) {
			break
		}
	}
	return true
}

// TryDropChunksBelow releases the chunks sitting wholly below the given row
// bound, if the exclusive lock is immediately free, and returns the number
// of chunks released. A chunk straddling the bound stays resident. Callers
// guarantee the dropped rows are served from elsewhere first.
func (c *FlatColumn[T]) TryDropChunksBelow(rows int64) int {
	if !c.dataMu.TryLock() {
		return 0
	}
	defer c.dataMu.Unlock()
	return c.dropBelowLocked(rows / c.chunkRows)
}

// dropBelowLocked nils out the directory entries [0, until). It takes the
// growth lock so the copy-on-write swap cannot lose a concurrent append.
func (c *FlatColumn[T]) dropBelowLocked(until int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunks := *c.chunks.Load()
	if until > int64(len(chunks)) {
		until = int64(len(chunks))
	}
	dropped := 0
	for cid := int64(0); cid < until; cid++ {
		if chunks[cid] != nil {
			dropped++
		}
	}
	if dropped == 0 {
		return 0
	}
	next := make([][]T, len(chunks), cap(chunks))
	copy(next, chunks)
	for cid := int64(0); cid < until; cid++ {
		next[cid] = nil
	}
	c.chunks.Store(&next)
	return dropped
}
