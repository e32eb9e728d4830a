package growseg

import (
	"context"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growseg/growseg/distance"
	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

func testSchema(t *testing.T) *schema.CollectionSchema {
	t.Helper()
	sch := &schema.CollectionSchema{
		Name: "docs",
		Fields: []schema.FieldSchema{
			{ID: 100, Name: "id", DataType: model.DataTypeInt64, IsPrimaryKey: true},
			{ID: 101, Name: "body", DataType: model.DataTypeVarChar},
			{ID: 102, Name: "embedding", DataType: model.DataTypeFloatVector, Dim: 4},
		},
	}
	require.NoError(t, sch.Validate())
	return sch
}

func testSegment(t *testing.T, optFns ...Option) *Segment {
	t.Helper()
	seg, err := Open(1, testSchema(t), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })
	return seg
}

// testBatch builds n rows starting at offset: pk = 1000+row, body derived
// from the row number, embedding four copies of the row number.
func testBatch(offset int64, n int, baseTS model.Timestamp) ([]int64, []model.Timestamp, map[model.FieldID]model.FieldData) {
	rowIDs := make([]int64, n)
	tss := make([]model.Timestamp, n)
	ids := make([]int64, n)
	bodies := make([]string, n)
	vecs := make([]float32, 0, n*4)
	for i := 0; i < n; i++ {
		row := offset + int64(i)
		rowIDs[i] = row
		tss[i] = baseTS + model.Timestamp(i)
		ids[i] = 1000 + row
		bodies[i] = fmt.Sprintf("row-%d", row)
		for j := 0; j < 4; j++ {
			vecs = append(vecs, float32(row))
		}
	}
	return rowIDs, tss, map[model.FieldID]model.FieldData{
		100: &model.ScalarData[int64]{Values: ids},
		101: &model.ScalarData[string]{Values: bodies},
		102: &model.FloatVectorData{Dim: 4, Values: vecs},
	}
}

func mustInsert(t *testing.T, seg *Segment, n int, baseTS model.Timestamp) int64 {
	t.Helper()
	off, err := seg.PreInsert(int64(n))
	require.NoError(t, err)
	rowIDs, tss, fields := testBatch(off, n, baseTS)
	require.NoError(t, seg.Insert(context.Background(), off, rowIDs, tss, fields))
	return off
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(1, nil)
	require.Error(t, err)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidInput, ge.Code)

	// No primary key.
	_, err = Open(1, &schema.CollectionSchema{
		Name:   "bad",
		Fields: []schema.FieldSchema{{ID: 100, Name: "v", DataType: model.DataTypeFloat}},
	})
	require.Error(t, err)

	// Hamming on a float vector field.
	_, err = Open(1, testSchema(t), WithMetric(102, distance.MetricHamming))
	require.Error(t, err)
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidInput, ge.Code)

	// L2 on a binary vector field.
	binSch := &schema.CollectionSchema{
		Name: "bin",
		Fields: []schema.FieldSchema{
			{ID: 100, Name: "id", DataType: model.DataTypeInt64, IsPrimaryKey: true},
			{ID: 101, Name: "sig", DataType: model.DataTypeBinaryVector, Dim: 16},
		},
	}
	_, err = Open(1, binSch, WithMetric(101, distance.MetricL2))
	require.Error(t, err)

	seg, err := Open(42, testSchema(t))
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, int64(42), seg.ID())
	assert.Equal(t, "docs", seg.Schema().Name)
	assert.Equal(t, DefaultChunkRows, seg.ChunkRows())
}

func TestSegmentInsert(t *testing.T) {
	seg := testSegment(t, WithChunkRows(4))

	mustInsert(t, seg, 10, 100)

	assert.Equal(t, int64(10), seg.RowCount())
	assert.Equal(t, int64(10), seg.ReservedRows())

	// Timestamps run 100..109.
	assert.Equal(t, int64(0), seg.ActiveRowCount(99))
	assert.Equal(t, int64(5), seg.ActiveRowCount(104))
	assert.Equal(t, int64(10), seg.ActiveRowCount(model.MaxTimestamp))

	// 10 rows in chunks of 4.
	assert.Equal(t, int64(3), seg.NumChunks(model.MaxTimestamp))
	assert.Equal(t, int64(2), seg.NumChunks(104))
	assert.Equal(t, 3, seg.NumChunksOfField(102))

	data, err := seg.FetchByOffsets(101, []int64{7, 2})
	require.NoError(t, err)
	assert.Equal(t, &model.ScalarData[string]{Values: []string{"row-7", "row-2"}}, data)

	vec, err := seg.FetchByOffsets(102, []int64{3})
	require.NoError(t, err)
	assert.Equal(t, &model.FloatVectorData{Dim: 4, Values: []float32{3, 3, 3, 3}}, vec)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	_, err := seg.PreInsert(0)
	require.ErrorIs(t, err, ErrEmptyBatch)

	off, err := seg.PreInsert(3)
	require.NoError(t, err)
	rowIDs, tss, fields := testBatch(off, 3, 10)

	// Timestamp count differs from the row count.
	err = seg.Insert(ctx, off, rowIDs, tss[:2], fields)
	require.ErrorIs(t, err, ErrRowCountMismatch)

	// Range beyond the reservation.
	err = seg.Insert(ctx, off+1, rowIDs, tss, fields)
	require.ErrorIs(t, err, ErrRowCountMismatch)

	// Unknown field id.
	bad := map[model.FieldID]model.FieldData{
		100: fields[100], 101: fields[101], 102: fields[102],
		999: &model.ScalarData[int64]{Values: []int64{1, 2, 3}},
	}
	err = seg.Insert(ctx, off, rowIDs, tss, bad)
	var nf *ErrFieldNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, model.FieldID(999), nf.Field)

	// Missing field.
	err = seg.Insert(ctx, off, rowIDs, tss, map[model.FieldID]model.FieldData{
		100: fields[100], 102: fields[102],
	})
	require.ErrorIs(t, err, ErrMissingField)

	// Wrong data type for the field.
	err = seg.Insert(ctx, off, rowIDs, tss, map[model.FieldID]model.FieldData{
		100: fields[100],
		101: &model.ScalarData[int64]{Values: []int64{1, 2, 3}},
		102: fields[102],
	})
	var ut *ErrUnsupportedDataType
	require.ErrorAs(t, err, &ut)
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeUnsupportedType, ge.Code)

	// Wrong vector dimension.
	err = seg.Insert(ctx, off, rowIDs, tss, map[model.FieldID]model.FieldData{
		100: fields[100], 101: fields[101],
		102: &model.FloatVectorData{Dim: 8, Values: make([]float32, 24)},
	})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 8, dm.Actual)

	// Row count mismatch inside one field.
	err = seg.Insert(ctx, off, rowIDs, tss, map[model.FieldID]model.FieldData{
		100: &model.ScalarData[int64]{Values: []int64{1}},
		101: fields[101], 102: fields[102],
	})
	require.ErrorIs(t, err, ErrRowCountMismatch)

	// Every rejection left the reservation unfilled; a correct insert
	// into the same range still lands.
	assert.Equal(t, int64(0), seg.RowCount())
	require.NoError(t, seg.Insert(ctx, off, rowIDs, tss, fields))
	assert.Equal(t, int64(3), seg.RowCount())
}

func TestOutOfOrderVisibility(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	first, err := seg.PreInsert(100)
	require.NoError(t, err)
	second, err := seg.PreInsert(100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(100), second)

	// The later reservation completes first: nothing becomes visible.
	rowIDs, tss, fields := testBatch(second, 100, 200)
	require.NoError(t, seg.Insert(ctx, second, rowIDs, tss, fields))
	assert.Equal(t, int64(0), seg.RowCount())
	assert.Equal(t, int64(200), seg.ReservedRows())
	assert.Equal(t, int64(0), seg.ActiveRowCount(model.MaxTimestamp))

	// The earlier reservation completes: both ranges appear at once.
	rowIDs, tss, fields = testBatch(first, 100, 100)
	require.NoError(t, seg.Insert(ctx, first, rowIDs, tss, fields))
	assert.Equal(t, int64(200), seg.RowCount())
	assert.Equal(t, int64(200), seg.ActiveRowCount(model.MaxTimestamp))

	// Timestamps run 100..199 then 200..299; boundaries line up with the
	// ingestion order, so timestamp scoping stays exact.
	assert.Equal(t, int64(100), seg.ActiveRowCount(199))
	assert.Equal(t, int64(150), seg.ActiveRowCount(249))
}

func TestDeleteSemantics(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t, WithChunkRows(128))

	// 1000 rows with timestamps 1..1000.
	mustInsert(t, seg, 1000, 1)

	// Row at offset 499 carries pk 1499 and timestamp 500.
	applied, err := seg.Delete(ctx, []model.PrimaryKey{model.NewInt64PrimaryKey(1499)}, []model.Timestamp{1001})
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied)
	assert.Equal(t, int64(1), seg.DeletedRows())

	mask := roaring.New()
	seg.BuildDeleteMask(mask, 1000, 1001)
	assert.Equal(t, uint64(1), mask.GetCardinality())
	assert.True(t, mask.Contains(499))

	// Before the delete timestamp the row is still alive.
	before := roaring.New()
	seg.BuildDeleteMask(before, 1000, 1000)
	assert.True(t, before.IsEmpty())

	// Deletes never shrink the row count.
	assert.Equal(t, int64(1000), seg.ActiveRowCount(1000))
	assert.Equal(t, int64(1000), seg.RowCount())

	// Keys this segment never saw are dropped silently.
	pks := make([]model.PrimaryKey, 5)
	tss := make([]model.Timestamp, 5)
	for i := range pks {
		pks[i] = model.NewInt64PrimaryKey(int64(5000 + i))
		tss[i] = 1002
	}
	applied, err = seg.Delete(ctx, pks, tss)
	require.NoError(t, err)
	assert.Equal(t, int64(0), applied)
	assert.Equal(t, int64(1), seg.DeletedRows())

	_, err = seg.Delete(ctx, pks, tss[:2])
	require.ErrorIs(t, err, ErrRowCountMismatch)
	_, err = seg.Delete(ctx, nil, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestDeleteBeforeInsertTimestamp(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	// Row at offset 2 has pk 1002 and timestamp 30.
	mustInsert(t, seg, 5, 10)

	// A delete stamped before the row's insert leaves the row alive.
	applied, err := seg.Delete(ctx, []model.PrimaryKey{model.NewInt64PrimaryKey(1002)}, []model.Timestamp{11})
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied)

	mask := roaring.New()
	seg.BuildDeleteMask(mask, 5, model.MaxTimestamp)
	assert.True(t, mask.IsEmpty())
}

func TestBuildDeleteMaskIdempotent(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	mustInsert(t, seg, 10, 1)
	_, err := seg.Delete(ctx,
		[]model.PrimaryKey{model.NewInt64PrimaryKey(1002), model.NewInt64PrimaryKey(1007)},
		[]model.Timestamp{20, 20})
	require.NoError(t, err)

	mask := roaring.New()
	seg.BuildDeleteMask(mask, 10, 20)
	seg.BuildDeleteMask(mask, 10, 20)
	assert.Equal(t, uint64(2), mask.GetCardinality())
	assert.True(t, mask.Contains(2))
	assert.True(t, mask.Contains(7))

	// Caller bits survive the merge.
	mask.Add(9)
	seg.BuildDeleteMask(mask, 10, 20)
	assert.Equal(t, uint64(3), mask.GetCardinality())

	// A nil mask or empty prefix is a no-op.
	seg.BuildDeleteMask(nil, 10, 20)
	empty := roaring.New()
	seg.BuildDeleteMask(empty, 0, 20)
	assert.True(t, empty.IsEmpty())
}

func TestSearchPKTimestampBound(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)

	// Same key written twice: offset 0 at ts 10, offset 1 at ts 20.
	pk := model.NewInt64PrimaryKey(7)
	write := func(off int64, ts model.Timestamp, body string, vec []float32) {
		require.NoError(t, seg.Insert(ctx, off, []int64{off}, []model.Timestamp{ts}, map[model.FieldID]model.FieldData{
			100: &model.ScalarData[int64]{Values: []int64{7}},
			101: &model.ScalarData[string]{Values: []string{body}},
			102: &model.FloatVectorData{Dim: 4, Values: vec},
		}))
	}
	off, err := seg.PreInsert(1)
	require.NoError(t, err)
	write(off, 10, "a", []float32{1, 2, 3, 4})
	off, err = seg.PreInsert(1)
	require.NoError(t, err)
	write(off, 20, "b", []float32{5, 6, 7, 8})

	assert.True(t, seg.ContainsPK(pk))
	assert.False(t, seg.ContainsPK(model.NewInt64PrimaryKey(8)))

	assert.Empty(t, seg.SearchPK(pk, 5))
	assert.Equal(t, []int64{0}, seg.SearchPK(pk, 10))
	assert.Equal(t, []int64{0}, seg.SearchPK(pk, 19))
	assert.Equal(t, []int64{0, 1}, seg.SearchPK(pk, 20))
}

func TestFetchByOffsetsValidation(t *testing.T) {
	seg := testSegment(t)
	mustInsert(t, seg, 5, 1)

	_, err := seg.FetchByOffsets(999, []int64{0})
	var nf *ErrFieldNotFound
	require.ErrorAs(t, err, &nf)

	_, err = seg.FetchByOffsets(101, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = seg.FetchByOffsets(101, []int64{99})
	require.Error(t, err)
}

func TestSegmentStats(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)
	mustInsert(t, seg, 10, 1)
	_, err := seg.Delete(ctx, []model.PrimaryKey{model.NewInt64PrimaryKey(1003)}, []model.Timestamp{50})
	require.NoError(t, err)

	st := seg.Stats()
	assert.Equal(t, int64(1), st.SegmentID)
	assert.Equal(t, int64(10), st.RowCount)
	assert.Equal(t, int64(10), st.ReservedRows)
	assert.Equal(t, int64(1), st.DeletedRows)
	assert.Greater(t, st.MemoryBytes, int64(0))
	assert.Equal(t, int64(0), st.InterimBytes)

	// Only variable-width fields report an average row size.
	assert.Contains(t, st.AvgRowSize, model.FieldID(101))
	assert.NotContains(t, st.AvgRowSize, model.FieldID(100))
	assert.NotContains(t, st.AvgRowSize, model.FieldID(102))
	assert.Greater(t, st.AvgRowSize[101], int64(0))
}

func TestClosedSegment(t *testing.T) {
	ctx := context.Background()
	seg := testSegment(t)
	mustInsert(t, seg, 3, 1)

	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())

	_, err := seg.PreInsert(1)
	require.ErrorIs(t, err, ErrSegmentClosed)

	err = seg.Insert(ctx, 0, []int64{0}, []model.Timestamp{1}, nil)
	require.ErrorIs(t, err, ErrSegmentClosed)

	_, err = seg.Delete(ctx, []model.PrimaryKey{model.NewInt64PrimaryKey(1)}, []model.Timestamp{1})
	require.ErrorIs(t, err, ErrSegmentClosed)

	_, err = seg.Search(ctx, SearchRequest{Field: 102, Query: []float32{0, 0, 0, 0}, K: 1})
	require.ErrorIs(t, err, ErrSegmentClosed)

	_, err = seg.FetchByOffsets(101, []int64{0})
	require.ErrorIs(t, err, ErrSegmentClosed)

	_, err = seg.Flush(ctx)
	require.ErrorIs(t, err, ErrSegmentClosed)

	err = seg.LoadFieldData(ctx, LoadFieldDataInfo{RowCount: 1})
	require.ErrorIs(t, err, ErrSegmentClosed)

	// Failures surface through the uniform envelope.
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidInput, ge.Code)
	assert.Equal(t, "load", ge.Op)

	var nilSeg *Segment
	require.NoError(t, nilSeg.Close())
}

func TestSegmentMetricsCollector(t *testing.T) {
	ctx := context.Background()
	mc := &BasicMetricsCollector{}
	seg := testSegment(t, WithMetricsCollector(mc))

	mustInsert(t, seg, 10, 1)
	_, err := seg.Delete(ctx, []model.PrimaryKey{model.NewInt64PrimaryKey(1001)}, []model.Timestamp{20})
	require.NoError(t, err)
	_, err = seg.Search(ctx, SearchRequest{Field: 102, Query: []float32{0, 0, 0, 0}, K: 3})
	require.NoError(t, err)
	_, err = seg.Search(ctx, SearchRequest{Field: 102, Query: []float32{0, 0, 0, 0}, K: 0})
	require.Error(t, err)

	st := mc.GetStats()
	assert.Equal(t, int64(1), st.InsertCount)
	assert.Equal(t, int64(10), st.InsertRows)
	assert.Equal(t, int64(1), st.DeleteCount)
	assert.Equal(t, int64(2), st.SearchCount)
	assert.Equal(t, int64(1), st.SearchErrors)
	assert.Equal(t, int64(0), st.InsertErrors)
}
