package growseg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/growseg/growseg/distance"
	"github.com/growseg/growseg/internal/interim"
	"github.com/growseg/growseg/internal/record"
	"github.com/growseg/growseg/internal/resource"
	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

// Segment is one growing segment: the mutable, query-serving store of a
// single partition slice. It absorbs streamed inserts and deletes while
// concurrently serving timestamp-scoped search, point reads and primary-key
// lookups. Sealing is external; a segment only ever grows.
//
// All methods are safe for concurrent use.
type Segment struct {
	id     int64
	schema *schema.CollectionSchema
	opts   options

	insert  *record.InsertRecord
	deleted *record.DeletedRecord
	interim *interim.Record // nil unless WithInterimIndex
	res     *resource.Controller

	metrics MetricsCollector
	logger  *Logger

	indexMu sync.Mutex
	indexes map[model.FieldID]*BuiltIndex

	closed atomic.Bool
}

// Open creates an empty growing segment for the given schema.
func Open(id int64, sch *schema.CollectionSchema, optFns ...Option) (*Segment, error) {
	const op = "open"
	if sch == nil {
		return nil, opError(CodeInvalidInput, op, errors.New("nil schema"))
	}
	if err := sch.Validate(); err != nil {
		return nil, opError(CodeInvalidInput, op, err)
	}
	o := applyOptions(optFns)

	for _, f := range sch.Fields {
		switch f.DataType {
		case model.DataTypeFloatVector:
			m := distance.MetricL2
			if mm, ok := o.metrics[f.ID]; ok {
				m = mm
			}
			if _, err := distance.Provider(m); err != nil {
				return nil, opError(CodeInvalidInput, op, fmt.Errorf("field %d: %w", f.ID, err))
			}
		case model.DataTypeBinaryVector:
			if m, ok := o.metrics[f.ID]; ok && m != distance.MetricHamming {
				return nil, opError(CodeInvalidInput, op, fmt.Errorf("field %d: metric %s not supported for binary vectors", f.ID, m))
			}
		}
	}

	ins, err := record.NewInsertRecord(sch, o.chunkRows)
	if err != nil {
		return nil, opError(CodeUnsupportedType, op, err)
	}

	res := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.memoryLimit,
		MaxBackgroundWorkers: o.maxWorkers,
		IOLimitBytesPerSec:   o.ioLimit,
	})

	var itm *interim.Record
	if o.interimEnabled {
		itm, err = interim.New(sch, interim.Config{
			ChunkRows:      o.chunkRows,
			NList:          o.interim.NList,
			BuildThreshold: o.interim.BuildThreshold,
			Metrics:        o.metrics,
		}, res)
		if err != nil {
			return nil, opError(CodeIndexFailure, op, err)
		}
	}

	return &Segment{
		id:      id,
		schema:  sch,
		opts:    o,
		insert:  ins,
		deleted: record.NewDeletedRecord(),
		interim: itm,
		res:     res,
		metrics: o.metricsCollector,
		logger:  o.logger.WithSegment(id),
		indexes: make(map[model.FieldID]*BuiltIndex),
	}, nil
}

// ID returns the segment id.
func (s *Segment) ID() int64 { return s.id }

// Schema returns the collection schema the segment was opened with.
func (s *Segment) Schema() *schema.CollectionSchema { return s.schema }

// ChunkRows returns the per-chunk row capacity shared by all columns.
func (s *Segment) ChunkRows() int64 { return s.insert.ChunkRows() }

// PreInsert reserves n consecutive row offsets and returns the first.
// Reserved ranges are pairwise disjoint and never reused; a caller that
// reserves but never inserts leaves a permanent hole that never becomes
// visible.
func (s *Segment) PreInsert(n int64) (int64, error) {
	const op = "preinsert"
	if s.closed.Load() {
		return 0, translateError(op, ErrSegmentClosed)
	}
	if n <= 0 {
		return 0, translateError(op, ErrEmptyBatch)
	}
	return s.insert.Reserve(n), nil
}

// Insert writes one reserved batch. The batch must carry every schema
// field with exactly len(rowIDs) rows; nothing is written if validation
// fails. On success the range is filled, its primary keys are registered,
// enabled vector fields feed the interim index, and the range is marked
// complete. Completion is deferred until every earlier reserved range
// completes, so readers only ever see a contiguous prefix.
func (s *Segment) Insert(ctx context.Context, offset int64, rowIDs []int64, timestamps []model.Timestamp, fields map[model.FieldID]model.FieldData) error {
	const op = "insert"
	start := time.Now()
	n := int64(len(rowIDs))
	err := translateError(op, s.doInsert(offset, rowIDs, timestamps, fields))
	s.metrics.RecordInsert(n, time.Since(start), err)
	s.logger.LogInsert(ctx, offset, n, time.Since(start), err)
	return err
}

func (s *Segment) doInsert(offset int64, rowIDs []int64, timestamps []model.Timestamp, fields map[model.FieldID]model.FieldData) error {
	if s.closed.Load() {
		return ErrSegmentClosed
	}
	n := int64(len(rowIDs))
	if n == 0 {
		return ErrEmptyBatch
	}
	if int64(len(timestamps)) != n {
		return fmt.Errorf("%w: %d row ids, %d timestamps", ErrRowCountMismatch, n, len(timestamps))
	}
	if offset < 0 || offset+n > s.insert.Reserved() {
		return fmt.Errorf("%w: range [%d, %d) not reserved", ErrRowCountMismatch, offset, offset+n)
	}
	pks, err := s.validateBatch(n, fields)
	if err != nil {
		return err
	}

	s.insert.FillSystem(offset, rowIDs, timestamps)
	for id, data := range fields {
		if err := s.insert.FillField(offset, id, data); err != nil {
			return err
		}
	}
	s.insert.RegisterPKs(offset, pks)
	if s.interim != nil {
		for _, f := range s.schema.Fields {
			if !s.interim.Enabled(f.ID) {
				continue
			}
			vd := fields[f.ID].(*model.FloatVectorData)
			s.interim.TryAppend(f.ID, offset, vd.Values)
		}
	}
	s.insert.MarkComplete(offset, n)
	s.reclaim()
	return nil
}

// validateBatch checks the batch against the schema before anything is
// written and extracts the primary keys.
func (s *Segment) validateBatch(n int64, fields map[model.FieldID]model.FieldData) ([]model.PrimaryKey, error) {
	for id := range fields {
		if _, ok := s.schema.Field(id); !ok {
			return nil, &ErrFieldNotFound{Field: id}
		}
	}
	for _, f := range s.schema.Fields {
		data, ok := fields[f.ID]
		if !ok || data == nil {
			return nil, fmt.Errorf("%w: field %d (%s)", ErrMissingField, f.ID, f.Name)
		}
		if data.Type() != f.DataType {
			return nil, &ErrUnsupportedDataType{
				DataType: data.Type(),
				cause:    fmt.Errorf("field %d (%s) holds %s", f.ID, f.Name, f.DataType),
			}
		}
		if int64(data.RowCount()) != n {
			return nil, fmt.Errorf("%w: field %d has %d rows, batch has %d", ErrRowCountMismatch, f.ID, data.RowCount(), n)
		}
		if vd, ok := data.(*model.FloatVectorData); ok && vd.Dim != f.Dim {
			return nil, &ErrDimensionMismatch{Field: f.ID, Expected: f.Dim, Actual: vd.Dim}
		}
		if bd, ok := data.(*model.BinaryVectorData); ok && bd.Dim != f.Dim {
			return nil, &ErrDimensionMismatch{Field: f.ID, Expected: f.Dim, Actual: bd.Dim}
		}
	}
	return model.PrimaryKeys(fields[s.insert.PKField()])
}

// reclaim drops raw vector chunks that sit wholly below the interim
// index's covered prefix. Best effort; a chunk that stays behind is
// retried after the next batch.
func (s *Segment) reclaim() {
	if s.interim == nil {
		return
	}
	for _, f := range s.schema.Fields {
		if !s.interim.Enabled(f.ID) {
			continue
		}
		if covered := s.interim.CoveredPrefix(f.ID); covered >= s.insert.ChunkRows() {
			s.insert.TryReclaimVectors(f.ID, covered)
		}
	}
}

// Delete records tombstones for the given primary keys. Keys never written
// to this segment are silently dropped before the push; the applied count
// is returned. A tombstone at timestamp ts kills the visible rows holding
// that key with a strictly smaller row timestamp.
func (s *Segment) Delete(ctx context.Context, pks []model.PrimaryKey, timestamps []model.Timestamp) (int64, error) {
	const op = "delete"
	start := time.Now()
	var applied int64
	err := func() error {
		if s.closed.Load() {
			return ErrSegmentClosed
		}
		if len(pks) != len(timestamps) {
			return fmt.Errorf("%w: %d pks, %d timestamps", ErrRowCountMismatch, len(pks), len(timestamps))
		}
		if len(pks) == 0 {
			return ErrEmptyBatch
		}
		keepPKs := make([]model.PrimaryKey, 0, len(pks))
		keepTSs := make([]model.Timestamp, 0, len(pks))
		for i, pk := range pks {
			if s.insert.ContainsPK(pk) {
				keepPKs = append(keepPKs, pk)
				keepTSs = append(keepTSs, timestamps[i])
			}
		}
		applied = int64(len(keepPKs))
		if applied > 0 {
			s.deleted.Push(keepPKs, keepTSs)
		}
		return nil
	}()
	err = translateError(op, err)
	s.metrics.RecordDelete(applied, time.Since(start), err)
	s.logger.LogDelete(ctx, len(pks), err)
	return applied, err
}

// RowCount returns the number of visible rows, the length of the fully
// written prefix.
func (s *Segment) RowCount() int64 { return s.insert.VisibleRows() }

// ReservedRows returns the total number of offsets handed out by PreInsert.
func (s *Segment) ReservedRows() int64 { return s.insert.Reserved() }

// DeletedRows returns the number of recorded tombstones.
func (s *Segment) DeletedRows() int64 { return s.deleted.Len() }

// ActiveRowCount returns the number of visible rows written at or before
// ts. Row timestamps are non-decreasing by ingestion contract, so this is
// a binary search; the result is the row barrier for reads at ts.
func (s *Segment) ActiveRowCount(ts model.Timestamp) int64 {
	return s.insert.ActiveCount(ts)
}

// NumChunks returns the number of column chunks needed for the rows active
// at ts.
func (s *Segment) NumChunks(ts model.Timestamp) int64 {
	rows := s.insert.ActiveCount(ts)
	cr := s.insert.ChunkRows()
	return (rows + cr - 1) / cr
}

// NumChunksOfField returns the number of allocated chunks of one field.
func (s *Segment) NumChunksOfField(fieldID model.FieldID) int {
	return s.insert.NumChunksOfField(fieldID)
}

// SegmentStats is a point-in-time snapshot of a segment's size.
type SegmentStats struct {
	SegmentID    int64
	RowCount     int64
	ReservedRows int64
	DeletedRows  int64

	// MemoryBytes estimates resident bytes across raw columns, tombstones
	// and the interim index.
	MemoryBytes int64
	// InterimBytes is the interim index's share of MemoryBytes.
	InterimBytes int64

	// AvgRowSize reports the observed average row size of variable-width
	// fields, zero before any rows arrive.
	AvgRowSize map[model.FieldID]int64
}

// Stats returns a snapshot of the segment's row and byte counts.
func (s *Segment) Stats() SegmentStats {
	avg := make(map[model.FieldID]int64)
	for _, f := range s.schema.Fields {
		if f.DataType.IsVariableWidth() {
			avg[f.ID] = s.insert.AvgRowSize(f.ID)
		}
	}
	interimBytes := s.interim.Bytes()
	return SegmentStats{
		SegmentID:    s.id,
		RowCount:     s.insert.VisibleRows(),
		ReservedRows: s.insert.Reserved(),
		DeletedRows:  s.deleted.Len(),
		MemoryBytes:  s.insert.TotalBytes() + s.deleted.Bytes() + interimBytes,
		InterimBytes: interimBytes,
		AvgRowSize:   avg,
	}
}
