package growseg

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growseg/growseg/model"
)

// insertRangeTS fills one reserved range with the testBatch row shape and
// a single shared timestamp.
func insertRangeTS(t testing.TB, seg *Segment, off, n int64, ts model.Timestamp) {
	rowIDs := make([]int64, n)
	tss := make([]model.Timestamp, n)
	ids := make([]int64, n)
	bodies := make([]string, n)
	vecs := make([]float32, n*4)
	for i := int64(0); i < n; i++ {
		row := off + i
		rowIDs[i] = row
		tss[i] = ts
		ids[i] = 1000 + row
		bodies[i] = fmt.Sprintf("row-%d", row)
		for j := int64(0); j < 4; j++ {
			vecs[i*4+j] = float32(row)
		}
	}
	if err := seg.Insert(context.Background(), off, rowIDs, tss, map[model.FieldID]model.FieldData{
		100: &model.ScalarData[int64]{Values: ids},
		101: &model.ScalarData[string]{Values: bodies},
		102: &model.FloatVectorData{Dim: 4, Values: vecs},
	}); err != nil {
		t.Error(err)
	}
}

func TestConcurrentPreInsert(t *testing.T) {
	seg := testSegment(t)

	const goroutines = 100
	var mu sync.Mutex
	offs := make([]int64, 0, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			off, err := seg.PreInsert(7)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			offs = append(offs, off)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Reservations tile [0, 700) with no gaps and no overlaps.
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	for i, off := range offs {
		require.Equal(t, int64(i*7), off)
	}
	assert.Equal(t, int64(700), seg.ReservedRows())
	assert.Equal(t, int64(0), seg.RowCount())
}

func TestConcurrentWriters(t *testing.T) {
	seg := testSegment(t, WithChunkRows(32))

	const (
		writers = 8
		batches = 5
		rows    = 20
		ts      = model.Timestamp(7)
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				off, err := seg.PreInsert(rows)
				if err != nil {
					t.Error(err)
					return
				}
				insertRangeTS(t, seg, off, rows, ts)
			}
		}()
	}
	wg.Wait()

	total := int64(writers * batches * rows)
	assert.Equal(t, total, seg.RowCount())
	assert.Equal(t, total, seg.ReservedRows())
	assert.Equal(t, total, seg.ActiveRowCount(ts))
	assert.Equal(t, int64(0), seg.ActiveRowCount(ts-1))

	// Every row is findable by its key at its own offset.
	for row := int64(0); row < total; row++ {
		require.Equal(t, []int64{row}, seg.SearchPK(model.NewInt64PrimaryKey(1000+row), ts))
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t, WithChunkRows(32))

	const (
		writers = 4
		batches = 10
		rows    = 25
	)

	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var prev int64
			for {
				select {
				case <-done:
					return
				default:
				}
				cur := seg.RowCount()
				if cur < prev {
					t.Errorf("visible rows went backwards: %d -> %d", prev, cur)
					return
				}
				prev = cur
				if cur > seg.ReservedRows() {
					t.Errorf("visible rows %d exceed reserved", cur)
					return
				}
				if _, err := seg.Search(ctx, SearchRequest{
					Field: 102, Query: []float32{0, 0, 0, 0}, K: 5,
				}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func() {
			defer writersWG.Done()
			for b := 0; b < batches; b++ {
				off, err := seg.PreInsert(rows)
				if err != nil {
					t.Error(err)
					return
				}
				insertRangeTS(t, seg, off, rows, 1)
			}
		}()
	}
	writersWG.Wait()
	close(done)
	readers.Wait()

	assert.Equal(t, int64(writers*batches*rows), seg.RowCount())
}

func TestConcurrentDeletes(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	off, err := seg.PreInsert(400)
	require.NoError(t, err)
	insertRangeTS(t, seg, off, 400, 1)

	// Four deleters tombstone disjoint key ranges while searches run.
	done := make(chan struct{})
	var searchers sync.WaitGroup
	for r := 0; r < 2; r++ {
		searchers.Add(1)
		go func() {
			defer searchers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := seg.Search(ctx, SearchRequest{
					Field: 102, Query: []float32{0, 0, 0, 0}, K: 10, Timestamp: 2,
				}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	var deleters sync.WaitGroup
	for d := 0; d < 4; d++ {
		deleters.Add(1)
		go func(d int) {
			defer deleters.Done()
			pks := make([]model.PrimaryKey, 25)
			tss := make([]model.Timestamp, 25)
			for i := range pks {
				pks[i] = model.NewInt64PrimaryKey(int64(1000 + 100*d + i))
				tss[i] = 2
			}
			applied, err := seg.Delete(ctx, pks, tss)
			if err != nil {
				t.Error(err)
				return
			}
			if applied != 25 {
				t.Errorf("applied %d of 25", applied)
			}
		}(d)
	}
	deleters.Wait()
	close(done)
	searchers.Wait()

	// Deleters covered offsets {0..24, 100..124, 200..224, 300..324}.
	mask := roaring.New()
	seg.BuildDeleteMask(mask, 400, 2)
	assert.Equal(t, uint64(100), mask.GetCardinality())
	assert.True(t, mask.Contains(0))
	assert.True(t, mask.Contains(324))
	assert.False(t, mask.Contains(25))

	results, err := seg.Search(ctx, SearchRequest{
		Field: 102, Query: []float32{0, 0, 0, 0}, K: 400, Timestamp: 2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 300)
	for _, r := range results {
		assert.False(t, mask.Contains(uint32(r.Offset)), "deleted offset %d returned", r.Offset)
	}
}

func TestConcurrentInterimIngestion(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t,
		WithChunkRows(8),
		WithInterimIndex(func(o *InterimIndexOptions) {
			o.NList = 2
			o.BuildThreshold = 16
		}),
	)

	const (
		writers = 4
		batches = 8
		rows    = 8
	)

	// Searches and point reads race ingestion, training and reclamation.
	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 2; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := seg.Search(ctx, SearchRequest{
					Field: 102, Query: []float32{0, 0, 0, 0}, K: 10,
				}); err != nil {
					t.Error(err)
					return
				}
				if n := seg.RowCount(); n > 0 {
					if _, err := seg.FetchByOffsets(102, []int64{n - 1, 0}); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				off, err := seg.PreInsert(rows)
				if err != nil {
					t.Error(err)
					return
				}
				insertRangeTS(t, seg, off, rows, 1)
			}
		}()
	}
	wg.Wait()
	close(done)
	readers.Wait()

	// An exhaustive probe must return every row exactly once: no row lost
	// to reclamation, none counted by both the index and the raw tail.
	const total = writers * batches * rows
	require.Equal(t, int64(total), seg.RowCount())
	results, err := seg.Search(ctx, SearchRequest{
		Field: 102, Query: []float32{0, 0, 0, 0}, K: total, Nprobe: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, total)
	for i, r := range results {
		require.Equal(t, int64(i), r.Offset)
	}

	// Point reads agree with the written values on both routes.
	for _, off := range []int64{0, 7, 128, int64(total - 1)} {
		data, err := seg.FetchByOffsets(102, []int64{off})
		require.NoError(t, err)
		vd := data.(*model.FloatVectorData)
		assert.Equal(t, float32(off), vd.Values[0])
	}
}
