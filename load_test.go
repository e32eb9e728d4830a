package growseg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growseg/growseg/binlog"
	"github.com/growseg/growseg/blobstore"
	"github.com/growseg/growseg/model"
)

// seedBinlogs encodes n rows in the testBatch shape, split into two
// binlogs per field under log ids 3 and 12, and uploads them. The
// returned path lists hand the later log first; numeric suffix order
// disagrees with lexicographic order on purpose.
func seedBinlogs(t *testing.T, store blobstore.BlobStore, n int) map[model.FieldID][]string {
	t.Helper()
	ctx := context.Background()
	half := n / 2
	rowIDs, tss, fields := testBatch(0, n, 1)

	rawTS := make([]int64, len(tss))
	for i, ts := range tss {
		rawTS[i] = int64(ts)
	}
	columns := map[model.FieldID]model.FieldData{
		model.RowIDField:     &model.ScalarData[int64]{Values: rowIDs},
		model.TimestampField: &model.ScalarData[int64]{Values: rawTS},
		100:                  fields[100],
		101:                  fields[101],
		102:                  fields[102],
	}

	slice := func(fd model.FieldData, from, to int) model.FieldData {
		switch d := fd.(type) {
		case *model.ScalarData[int64]:
			return &model.ScalarData[int64]{Values: d.Values[from:to]}
		case *model.ScalarData[string]:
			return &model.ScalarData[string]{Values: d.Values[from:to]}
		case *model.FloatVectorData:
			return &model.FloatVectorData{Dim: d.Dim, Values: d.Values[from*d.Dim : to*d.Dim]}
		default:
			t.Fatalf("unexpected field data %T", fd)
			return nil
		}
	}

	paths := make(map[model.FieldID][]string)
	for id, fd := range columns {
		for _, part := range []struct {
			logID    int64
			from, to int
		}{{3, 0, half}, {12, half, n}} {
			blob, err := binlog.EncodeInsert(id, slice(fd, part.from, part.to), binlog.CompressionZstd)
			require.NoError(t, err)
			require.NoError(t, store.Put(ctx, fmt.Sprintf("seed/%d/%d", id, part.logID), blob))
		}
		paths[id] = []string{
			fmt.Sprintf("seed/%d/12", id),
			fmt.Sprintf("seed/%d/3", id),
		}
	}
	return paths
}

func TestLoadFieldData(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	seg := testSegment(t, WithBlobStore(store))
	paths := seedBinlogs(t, store, 20)

	require.NoError(t, seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 20, Fields: paths}))

	assert.Equal(t, int64(20), seg.RowCount())
	assert.Equal(t, int64(10), seg.ActiveRowCount(10))
	assert.Equal(t, int64(20), seg.ActiveRowCount(model.MaxTimestamp))

	// Within-field binlog order came from the numeric suffix, not the
	// scrambled path list.
	data, err := seg.FetchByOffsets(101, []int64{7, 15})
	require.NoError(t, err)
	assert.Equal(t, &model.ScalarData[string]{Values: []string{"row-7", "row-15"}}, data)

	vec, err := seg.FetchByOffsets(102, []int64{15})
	require.NoError(t, err)
	assert.Equal(t, &model.FloatVectorData{Dim: 4, Values: []float32{15, 15, 15, 15}}, vec)

	// Primary keys registered during the load.
	assert.Equal(t, []int64{15}, seg.SearchPK(model.NewInt64PrimaryKey(1015), model.MaxTimestamp))

	results, err := seg.Search(ctx, SearchRequest{Field: 102, Query: []float32{0, 0, 0, 0}, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, offsets(results))
}

func TestLoadFieldDataValidation(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	err := seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 0})
	require.ErrorIs(t, err, ErrEmptyBatch)

	full := map[model.FieldID][]string{
		model.RowIDField: {"x/0/1"}, model.TimestampField: {"x/1/1"},
		100: {"x/100/1"}, 101: {"x/101/1"}, 102: {"x/102/1"},
	}

	withExtra := map[model.FieldID][]string{999: {"x/999/1"}}
	for id, p := range full {
		withExtra[id] = p
	}
	err = seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 1, Fields: withExtra})
	var nf *ErrFieldNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, model.FieldID(999), nf.Field)

	for _, drop := range []model.FieldID{model.RowIDField, model.TimestampField, 101} {
		partial := make(map[model.FieldID][]string)
		for id, p := range full {
			if id != drop {
				partial[id] = p
			}
		}
		err = seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 1, Fields: partial})
		require.ErrorIs(t, err, ErrMissingField, "dropped field %d", drop)
	}
}

func TestLoadFieldDataCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	seg := testSegment(t, WithBlobStore(store))
	paths := seedBinlogs(t, store, 20)

	// Clobber the first primary-key binlog.
	require.NoError(t, store.Put(ctx, "seed/100/3", []byte{0xde, 0xad, 0xbe, 0xef}))

	err := seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 20, Fields: paths})
	require.Error(t, err)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeLoadFailure, ge.Code)

	// The reserved range never completes, and the segment keeps serving.
	assert.Equal(t, int64(0), seg.RowCount())
	assert.Equal(t, int64(20), seg.ReservedRows())
	assert.False(t, seg.ContainsPK(model.NewInt64PrimaryKey(1000)))
	results, err := seg.Search(ctx, SearchRequest{Field: 102, Query: []float32{0, 0, 0, 0}, K: 3})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Later batches land behind the hole and stay invisible with it.
	mustInsert(t, seg, 5, 100)
	assert.Equal(t, int64(0), seg.RowCount())
}

func TestLoadFieldDataMissingBlob(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	seg := testSegment(t, WithBlobStore(store))
	paths := seedBinlogs(t, store, 20)
	require.NoError(t, store.Delete(ctx, "seed/102/12"))

	// A missing blob fails fast instead of retrying.
	start := time.Now()
	err := seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 20, Fields: paths})
	require.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.Less(t, time.Since(start), 5*time.Second)

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeLoadFailure, ge.Code)
}

func TestLoadFieldDataWrongField(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	seg := testSegment(t, WithBlobStore(store))
	paths := seedBinlogs(t, store, 20)

	// A body binlog listed under the vector field.
	blob, err := blobstore.ReadAll(ctx, store, "seed/101/3")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "seed/102/3", blob))

	err = seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 20, Fields: paths})
	require.Error(t, err)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeLoadFailure, ge.Code)
}

func TestLoadFieldDataRowCountMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	paths := seedBinlogs(t, store, 20)

	// Fewer rows declared than the binlogs hold.
	seg := testSegment(t, WithBlobStore(store))
	err := seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 19, Fields: paths})
	require.Error(t, err)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeLoadFailure, ge.Code)

	// More rows declared than the binlogs hold.
	seg = testSegment(t, WithBlobStore(store))
	err = seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 21, Fields: paths})
	require.Error(t, err)
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeLoadFailure, ge.Code)
}

func TestLoadFieldDataInterim(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	seg := testSegment(t,
		WithBlobStore(store),
		WithChunkRows(16),
		WithInterimIndex(func(o *InterimIndexOptions) {
			o.NList = 4
			o.BuildThreshold = 32
		}),
	)
	paths := seedBinlogs(t, store, 64)

	require.NoError(t, seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 64, Fields: paths}))
	assert.Equal(t, int64(64), seg.RowCount())
	assert.Greater(t, seg.Stats().InterimBytes, int64(0))

	results, err := seg.Search(ctx, SearchRequest{Field: 102, Query: []float32{0, 0, 0, 0}, K: 5, Nprobe: 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, offsets(results))

	vec, err := seg.FetchByOffsets(102, []int64{40})
	require.NoError(t, err)
	assert.Equal(t, &model.FloatVectorData{Dim: 4, Values: []float32{40, 40, 40, 40}}, vec)
}

// flakyStore fails Open a fixed number of times per blob before letting
// the wrapped store answer.
type flakyStore struct {
	blobstore.BlobStore
	mu   sync.Mutex
	left map[string]int
}

func (f *flakyStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	f.mu.Lock()
	if f.left[name] > 0 {
		f.left[name]--
		f.mu.Unlock()
		return nil, errors.New("transient outage")
	}
	f.mu.Unlock()
	return f.BlobStore.Open(ctx, name)
}

func TestLoadFieldDataRetriesTransient(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	paths := seedBinlogs(t, mem, 20)

	flaky := &flakyStore{BlobStore: mem, left: map[string]int{"seed/100/3": 2}}
	seg := testSegment(t, WithBlobStore(flaky))

	require.NoError(t, seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 20, Fields: paths}))
	assert.Equal(t, int64(20), seg.RowCount())
}

func TestLoadFieldDataContextCanceled(t *testing.T) {
	mem := blobstore.NewMemoryStore()
	paths := seedBinlogs(t, mem, 20)

	flaky := &flakyStore{BlobStore: mem, left: map[string]int{"seed/100/3": 1 << 30}}
	seg := testSegment(t, WithBlobStore(flaky))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 20, Fields: paths})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadDeletedRecord(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)
	mustInsert(t, seg, 10, 1)

	// Recovered tombstones land unfiltered, including keys this segment
	// never saw.
	err := seg.LoadDeletedRecord(ctx,
		[]model.PrimaryKey{model.NewInt64PrimaryKey(1003), model.NewInt64PrimaryKey(9999)},
		[]model.Timestamp{50, 50})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seg.DeletedRows())

	mask := roaring.New()
	seg.BuildDeleteMask(mask, 10, 50)
	assert.Equal(t, uint64(1), mask.GetCardinality())
	assert.True(t, mask.Contains(3))

	err = seg.LoadDeletedRecord(ctx, []model.PrimaryKey{model.NewInt64PrimaryKey(1)}, nil)
	require.ErrorIs(t, err, ErrRowCountMismatch)
	err = seg.LoadDeletedRecord(ctx, nil, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}
