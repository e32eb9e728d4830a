// Package record holds the mutable row state of one growing segment: the
// insert record (typed field columns, primary-key index, write visibility)
// and the deleted record (the timestamp-ordered tombstone log).
//
// Writers reserve disjoint offset ranges and fill them without coordination;
// a range becomes readable only after its writer marks it complete. Readers
// address rows through barriers computed from the completed prefix, so a
// torn or in-flight row is never observable.
package record

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/growseg/growseg/internal/ack"
	"github.com/growseg/growseg/internal/chunked"
	"github.com/growseg/growseg/internal/pkindex"
	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

// fieldColumn is the uniform face of one typed chunked store, dispatched by
// field id.
type fieldColumn interface {
	fill(offset int64, data model.FieldData) error
	fetch(offsets []int64) (model.FieldData, bool)
	fetchPrefix(rows int64) (model.FieldData, bool)
	numChunks() int
}

type scalarColumn[T model.ScalarValue] struct {
	col *chunked.Column[T]
}

func (c *scalarColumn[T]) fill(offset int64, data model.FieldData) error {
	d, ok := data.(*model.ScalarData[T])
	if !ok {
		return fmt.Errorf("record: %T does not fit a %s column", data, data.Type())
	}
	c.col.Fill(offset, d.Values)
	return nil
}

func (c *scalarColumn[T]) fetch(offsets []int64) (model.FieldData, bool) {
	values, ok := c.col.FetchValues(offsets)
	if !ok {
		return nil, false
	}
	return &model.ScalarData[T]{Values: values}, true
}

func (c *scalarColumn[T]) fetchPrefix(rows int64) (model.FieldData, bool) {
	out := make([]T, 0, rows)
	ok := c.col.ScanChunks(rows, func(_ int, span []T, _ int64) bool {
		out = append(out, span...)
		return true
	})
	if !ok {
		return nil, false
	}
	return &model.ScalarData[T]{Values: out}, true
}

func (c *scalarColumn[T]) numChunks() int { return c.col.NumChunks() }

type floatVectorColumn struct {
	dim int64
	col *chunked.FlatColumn[float32]
}

func (c *floatVectorColumn) fill(offset int64, data model.FieldData) error {
	d, ok := data.(*model.FloatVectorData)
	if !ok {
		return fmt.Errorf("record: %T does not fit a float vector column", data)
	}
	if int64(d.Dim) != c.dim {
		return fmt.Errorf("record: dimension %d does not fit a %d-dimensional column", d.Dim, c.dim)
	}
	c.col.Fill(offset, d.Values)
	return nil
}

func (c *floatVectorColumn) fetch(offsets []int64) (model.FieldData, bool) {
	values, ok := c.col.FetchRows(offsets)
	if !ok {
		return nil, false
	}
	return &model.FloatVectorData{Dim: int(c.dim), Values: values}, true
}

func (c *floatVectorColumn) fetchPrefix(rows int64) (model.FieldData, bool) {
	out := make([]float32, 0, rows*c.dim)
	ok := c.col.ScanChunks(rows, func(_ int, span []float32, _ int64) bool {
		out = append(out, span...)
		return true
	})
	if !ok {
		return nil, false
	}
	return &model.FloatVectorData{Dim: int(c.dim), Values: out}, true
}

func (c *floatVectorColumn) numChunks() int { return c.col.NumChunks() }

type binaryVectorColumn struct {
	dim int64 // bits
	col *chunked.FlatColumn[byte]
}

func (c *binaryVectorColumn) fill(offset int64, data model.FieldData) error {
	d, ok := data.(*model.BinaryVectorData)
	if !ok {
		return fmt.Errorf("record: %T does not fit a binary vector column", data)
	}
	if int64(d.Dim) != c.dim {
		return fmt.Errorf("record: dimension %d does not fit a %d-bit column", d.Dim, c.dim)
	}
	c.col.Fill(offset, d.Values)
	return nil
}

func (c *binaryVectorColumn) fetch(offsets []int64) (model.FieldData, bool) {
	values, ok := c.col.FetchRows(offsets)
	if !ok {
		return nil, false
	}
	return &model.BinaryVectorData{Dim: int(c.dim), Values: values}, true
}

func (c *binaryVectorColumn) fetchPrefix(rows int64) (model.FieldData, bool) {
	out := make([]byte, 0, rows*c.dim/8)
	ok := c.col.ScanChunks(rows, func(_ int, span []byte, _ int64) bool {
		out = append(out, span...)
		return true
	})
	if !ok {
		return nil, false
	}
	return &model.BinaryVectorData{Dim: int(c.dim), Values: out}, true
}

func (c *binaryVectorColumn) numChunks() int { return c.col.NumChunks() }

func newFieldColumn(f schema.FieldSchema, chunkRows int64) (fieldColumn, error) {
	switch f.DataType {
	case model.DataTypeBool:
		return &scalarColumn[bool]{col: chunked.NewColumn[bool](chunkRows)}, nil
	case model.DataTypeInt8:
		return &scalarColumn[int8]{col: chunked.NewColumn[int8](chunkRows)}, nil
	case model.DataTypeInt16:
		return &scalarColumn[int16]{col: chunked.NewColumn[int16](chunkRows)}, nil
	case model.DataTypeInt32:
		return &scalarColumn[int32]{col: chunked.NewColumn[int32](chunkRows)}, nil
	case model.DataTypeInt64:
		return &scalarColumn[int64]{col: chunked.NewColumn[int64](chunkRows)}, nil
	case model.DataTypeFloat:
		return &scalarColumn[float32]{col: chunked.NewColumn[float32](chunkRows)}, nil
	case model.DataTypeDouble:
		return &scalarColumn[float64]{col: chunked.NewColumn[float64](chunkRows)}, nil
	case model.DataTypeVarChar:
		return &scalarColumn[string]{col: chunked.NewColumn[string](chunkRows)}, nil
	case model.DataTypeJSON:
		return &scalarColumn[[]byte]{col: chunked.NewColumn[[]byte](chunkRows)}, nil
	case model.DataTypeArray:
		return &scalarColumn[model.Array]{col: chunked.NewColumn[model.Array](chunkRows)}, nil
	case model.DataTypeFloatVector:
		return &floatVectorColumn{dim: int64(f.Dim), col: chunked.NewFlatColumn[float32](chunkRows, int64(f.Dim))}, nil
	case model.DataTypeBinaryVector:
		return &binaryVectorColumn{dim: int64(f.Dim), col: chunked.NewFlatColumn[byte](chunkRows, int64(f.Dim)/8)}, nil
	default:
		return nil, fmt.Errorf("record: unsupported data type %s", f.DataType)
	}
}

type fieldStats struct {
	bytes atomic.Int64
	rows  atomic.Int64
}

// InsertRecord aggregates the per-field column stores of one segment with
// the two system columns, the primary-key index, and the completion tracker
// that turns reserved ranges into readable rows.
type InsertRecord struct {
	chunkRows  int64
	reserved   atomic.Int64
	bytes      atomic.Int64
	reclaimed  atomic.Int64
	rowIDs     *chunked.Column[int64]
	timestamps *chunked.Column[model.Timestamp]
	columns    map[model.FieldID]fieldColumn
	stats      map[model.FieldID]*fieldStats
	pkField    model.FieldID
	pks        *pkindex.Index
	ack        *ack.Responder
}

// NewInsertRecord builds one column store per schema field plus the row-id
// and timestamp system columns.
func NewInsertRecord(sch *schema.CollectionSchema, chunkRows int64) (*InsertRecord, error) {
	r := &InsertRecord{
		chunkRows:  chunkRows,
		rowIDs:     chunked.NewColumn[int64](chunkRows),
		timestamps: chunked.NewColumn[model.Timestamp](chunkRows),
		columns:    make(map[model.FieldID]fieldColumn, len(sch.Fields)),
		stats:      make(map[model.FieldID]*fieldStats, len(sch.Fields)),
		ack:        ack.NewResponder(),
	}
	for _, f := range sch.Fields {
		col, err := newFieldColumn(f, chunkRows)
		if err != nil {
			return nil, err
		}
		r.columns[f.ID] = col
		r.stats[f.ID] = &fieldStats{}
		if f.IsPrimaryKey {
			r.pkField = f.ID
		}
	}
	r.pks = pkindex.New(r.TimestampAt)
	return r, nil
}

// ChunkRows returns the per-chunk row capacity shared by all columns.
func (r *InsertRecord) ChunkRows() int64 { return r.chunkRows }

// PKField returns the primary-key field id.
func (r *InsertRecord) PKField() model.FieldID { return r.pkField }

// Reserve hands out n consecutive offsets and returns the first. Ranges are
// pairwise disjoint and never reused; a caller that fails after reserving
// leaves a hole that never becomes visible.
func (r *InsertRecord) Reserve(n int64) int64 {
	return r.reserved.Add(n) - n
}

// Reserved returns the total number of offsets handed out.
func (r *InsertRecord) Reserved() int64 { return r.reserved.Load() }

// VisibleRows returns the length of the fully written prefix.
func (r *InsertRecord) VisibleRows() int64 { return r.ack.VisibleCount() }

// FillRowIDs writes the row-id system column for a reserved range.
func (r *InsertRecord) FillRowIDs(offset int64, rowIDs []int64) {
	r.rowIDs.Fill(offset, rowIDs)
	r.bytes.Add(int64(len(rowIDs)) * 8)
}

// FillTimestamps writes the timestamp system column for a reserved range.
func (r *InsertRecord) FillTimestamps(offset int64, timestamps []model.Timestamp) {
	r.timestamps.Fill(offset, timestamps)
	r.bytes.Add(int64(len(timestamps)) * 8)
}

// FillSystem writes both system columns for a reserved range.
func (r *InsertRecord) FillSystem(offset int64, rowIDs []int64, timestamps []model.Timestamp) {
	r.FillRowIDs(offset, rowIDs)
	r.FillTimestamps(offset, timestamps)
}

// FillField writes one field column for a reserved range and accumulates its
// byte statistics.
func (r *InsertRecord) FillField(offset int64, fieldID model.FieldID, data model.FieldData) error {
	col, ok := r.columns[fieldID]
	if !ok {
		return fmt.Errorf("record: no column for field %d", fieldID)
	}
	if err := col.fill(offset, data); err != nil {
		return err
	}
	s := r.stats[fieldID]
	s.bytes.Add(data.ByteSize())
	s.rows.Add(int64(data.RowCount()))
	r.bytes.Add(data.ByteSize())
	return nil
}

// RegisterPKs records the primary keys of a reserved range in the index.
func (r *InsertRecord) RegisterPKs(offset int64, pks []model.PrimaryKey) {
	offsets := make([]int64, len(pks))
	for i := range offsets {
		offsets[i] = offset + int64(i)
	}
	r.pks.InsertBatch(pks, offsets)
}

// MarkComplete reports a reserved range as fully written, making it
// reachable once every earlier range completes too.
func (r *InsertRecord) MarkComplete(offset, n int64) {
	r.ack.MarkComplete(offset, n)
}

// Insert writes one reserved batch end to end: system columns, the given
// field columns, primary keys, then completion. Fields absent from the map
// are skipped. Primary keys are registered before the range is marked
// complete.
func (r *InsertRecord) Insert(offset int64, rowIDs []int64, timestamps []model.Timestamp, fields map[model.FieldID]model.FieldData) error {
	r.FillSystem(offset, rowIDs, timestamps)
	for id, data := range fields {
		if err := r.FillField(offset, id, data); err != nil {
			return err
		}
	}
	if data, ok := fields[r.pkField]; ok {
		pks, err := model.PrimaryKeys(data)
		if err != nil {
			return err
		}
		r.RegisterPKs(offset, pks)
	}
	r.MarkComplete(offset, int64(len(rowIDs)))
	return nil
}

// ContainsPK reports whether any row was ever written with the key.
func (r *InsertRecord) ContainsPK(pk model.PrimaryKey) bool {
	return r.pks.Contains(pk)
}

// SearchPK returns the offsets holding pk whose row timestamp is <= maxTS,
// ordered by offset.
func (r *InsertRecord) SearchPK(pk model.PrimaryKey, maxTS model.Timestamp) []int64 {
	return r.pks.Lookup(pk, maxTS)
}

// TimestampAt returns the write timestamp of a row. The offset must address
// a written row.
func (r *InsertRecord) TimestampAt(offset int64) model.Timestamp {
	ts, _ := r.timestamps.Get(offset)
	return ts
}

// ActiveCount returns the number of rows with timestamp <= ts among the
// fully written prefix. Timestamps arrive non-decreasing by upstream
// contract, so this is an upper-bound binary search; the result is the
// authoritative row barrier for reads at ts.
func (r *InsertRecord) ActiveCount(ts model.Timestamp) int64 {
	n := r.ack.VisibleCount()
	return int64(sort.Search(int(n), func(i int) bool {
		return r.TimestampAt(int64(i)) > ts
	}))
}

// SystemPrefix copies the row ids and timestamps of rows [0, rows). System
// columns are never reclaimed.
func (r *InsertRecord) SystemPrefix(rows int64) ([]int64, []model.Timestamp) {
	ids := make([]int64, 0, rows)
	r.rowIDs.ScanChunks(rows, func(_ int, span []int64, _ int64) bool {
		ids = append(ids, span...)
		return true
	})
	tss := make([]model.Timestamp, 0, rows)
	r.timestamps.ScanChunks(rows, func(_ int, span []model.Timestamp, _ int64) bool {
		tss = append(tss, span...)
		return true
	})
	return ids, tss
}

// FetchByOffsets copies the field values at the given offsets, in order.
func (r *InsertRecord) FetchByOffsets(fieldID model.FieldID, offsets []int64) (model.FieldData, error) {
	col, ok := r.columns[fieldID]
	if !ok {
		return nil, fmt.Errorf("record: no column for field %d", fieldID)
	}
	data, ok := col.fetch(offsets)
	if !ok {
		return nil, fmt.Errorf("record: field %d rows unavailable in raw storage", fieldID)
	}
	return data, nil
}

// FetchPrefix copies the field values of rows [0, rows), in order.
func (r *InsertRecord) FetchPrefix(fieldID model.FieldID, rows int64) (model.FieldData, error) {
	col, ok := r.columns[fieldID]
	if !ok {
		return nil, fmt.Errorf("record: no column for field %d", fieldID)
	}
	data, ok := col.fetchPrefix(rows)
	if !ok {
		return nil, fmt.Errorf("record: field %d rows unavailable in raw storage", fieldID)
	}
	return data, nil
}

// FloatVectors returns the raw store behind a float vector field.
func (r *InsertRecord) FloatVectors(fieldID model.FieldID) (*chunked.FlatColumn[float32], bool) {
	col, ok := r.columns[fieldID].(*floatVectorColumn)
	if !ok {
		return nil, false
	}
	return col.col, true
}

// BinaryVectors returns the raw store behind a binary vector field.
func (r *InsertRecord) BinaryVectors(fieldID model.FieldID) (*chunked.FlatColumn[byte], bool) {
	col, ok := r.columns[fieldID].(*binaryVectorColumn)
	if !ok {
		return nil, false
	}
	return col.col, true
}

// TryReclaimVectors releases the raw chunks of a float vector field that
// sit wholly below the given row bound, skipping when a raw read is in
// flight, and returns the number of chunks released. The caller guarantees
// every row below the bound is served from the interim index. Scalar fields
// never reclaim.
func (r *InsertRecord) TryReclaimVectors(fieldID model.FieldID, belowRows int64) int {
	col, ok := r.columns[fieldID].(*floatVectorColumn)
	if !ok {
		return 0
	}
	dropped := col.col.TryDropChunksBelow(belowRows)
	if dropped > 0 {
		r.reclaimed.Add(int64(dropped) * r.chunkRows * col.dim * 4)
	}
	return dropped
}

// NumChunksOfField returns the number of allocated chunks of one field.
func (r *InsertRecord) NumChunksOfField(fieldID model.FieldID) int {
	col, ok := r.columns[fieldID]
	if !ok {
		return 0
	}
	return col.numChunks()
}

// AvgRowSize returns the observed average byte size of one row of the
// field, zero before any rows arrive. Meaningful for variable-width fields;
// fixed-width fields report their static size.
func (r *InsertRecord) AvgRowSize(fieldID model.FieldID) int64 {
	s, ok := r.stats[fieldID]
	if !ok {
		return 0
	}
	rows := s.rows.Load()
	if rows == 0 {
		return 0
	}
	return s.bytes.Load() / rows
}

// BytesOfField returns the accumulated byte size of one field's rows.
func (r *InsertRecord) BytesOfField(fieldID model.FieldID) int64 {
	s, ok := r.stats[fieldID]
	if !ok {
		return 0
	}
	return s.bytes.Load()
}

// TotalBytes returns the resident byte size of all written rows, system
// columns included, net of reclaimed vector chunks. Per-field statistics
// keep counting logical bytes so average row sizes stay meaningful.
func (r *InsertRecord) TotalBytes() int64 { return r.bytes.Load() - r.reclaimed.Load() }
