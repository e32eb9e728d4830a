package growseg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/growseg/growseg/binlog"
	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

// Binlog names one flushed artifact.
type Binlog struct {
	Path  string
	Bytes int64
	Rows  int64
}

// FlushResult reports everything one Flush wrote.
type FlushResult struct {
	// RowCount is the visible prefix length the flush captured.
	RowCount int64

	// Inserts holds one binlog per column, system fields included.
	Inserts map[model.FieldID]Binlog

	// Delta is the tombstone binlog, nil when no deletes were recorded.
	Delta *Binlog

	// Stats is the primary-key stats blob, nil when no rows were flushed.
	Stats *Binlog

	// Indexes holds the disk index built per float vector field when a
	// builder is configured.
	Indexes map[model.FieldID]*BuiltIndex
}

// Flush serializes the visible prefix of every column and the tombstone
// log to binlogs in the blob store. Artifact names carry allocator-issued
// log ids; columns upload in parallel under the background-worker budget.
// Rows landing during the flush stay in memory for the next one.
func (s *Segment) Flush(ctx context.Context) (*FlushResult, error) {
	const op = "flush"
	start := time.Now()
	res, err := s.doFlush(ctx)
	err = translateError(op, err)

	var bytes int64
	var blobs int
	var rows int64
	if res != nil {
		rows = res.RowCount
		for _, b := range res.Inserts {
			bytes += b.Bytes
			blobs++
		}
		if res.Delta != nil {
			bytes += res.Delta.Bytes
			blobs++
		}
		if res.Stats != nil {
			bytes += res.Stats.Bytes
			blobs++
		}
	}
	s.metrics.RecordFlush(bytes, time.Since(start), err)
	s.logger.LogFlush(ctx, rows, blobs, time.Since(start), err)
	return res, err
}

func (s *Segment) doFlush(ctx context.Context) (*FlushResult, error) {
	const op = "flush"
	if s.closed.Load() {
		return nil, ErrSegmentClosed
	}
	rows := s.insert.VisibleRows()
	delPKs, delTSs := s.deleted.Snapshot()
	if rows == 0 && len(delPKs) == 0 {
		return nil, ErrEmptyBatch
	}

	result := &FlushResult{
		RowCount: rows,
		Inserts:  make(map[model.FieldID]Binlog),
	}

	if rows > 0 {
		columns, err := s.collectColumns(rows)
		if err != nil {
			return nil, opError(CodeStoreFailure, op, err)
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for fieldID, data := range columns {
			fieldID, data := fieldID, data
			g.Go(func() error {
				if err := s.res.AcquireBackground(gctx); err != nil {
					return err
				}
				defer s.res.ReleaseBackground()
				blob, err := binlog.EncodeInsert(fieldID, data, s.opts.compression)
				if err != nil {
					return opError(CodeStoreFailure, op, fmt.Errorf("field %d: %w", fieldID, err))
				}
				logID, err := s.opts.allocator.AllocOne(gctx)
				if err != nil {
					return opError(CodeStoreFailure, op, err)
				}
				path := s.insertLogPath(fieldID, logID)
				if err := s.putBlobRetry(gctx, path, blob); err != nil {
					return opError(CodeStoreFailure, op, fmt.Errorf("%s: %w", path, err))
				}
				mu.Lock()
				result.Inserts[fieldID] = Binlog{Path: path, Bytes: int64(len(blob)), Rows: rows}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		stats, err := s.flushStats(ctx, columns[s.insert.PKField()], rows)
		if err != nil {
			return nil, err
		}
		result.Stats = stats

		if s.opts.indexBuilder != nil {
			idxs, err := s.buildDiskIndexes(ctx, columns)
			if err != nil {
				return nil, err
			}
			result.Indexes = idxs
		}
	}

	if len(delPKs) > 0 {
		blob, err := binlog.EncodeDelta(delPKs, delTSs, s.opts.compression)
		if err != nil {
			return nil, opError(CodeStoreFailure, op, err)
		}
		logID, err := s.opts.allocator.AllocOne(ctx)
		if err != nil {
			return nil, opError(CodeStoreFailure, op, err)
		}
		path := s.deltaLogPath(logID)
		if err := s.putBlobRetry(ctx, path, blob); err != nil {
			return nil, opError(CodeStoreFailure, op, fmt.Errorf("%s: %w", path, err))
		}
		result.Delta = &Binlog{Path: path, Bytes: int64(len(blob)), Rows: int64(len(delPKs))}
	}

	return result, nil
}

func (s *Segment) flushStats(ctx context.Context, pkData model.FieldData, rows int64) (*Binlog, error) {
	const op = "flush"
	pks, err := model.PrimaryKeys(pkData)
	if err != nil {
		return nil, opError(CodeStoreFailure, op, err)
	}
	blob, err := binlog.EncodeStats(binlog.NewStats(s.insert.PKField(), pks), s.opts.compression)
	if err != nil {
		return nil, opError(CodeStoreFailure, op, err)
	}
	logID, err := s.opts.allocator.AllocOne(ctx)
	if err != nil {
		return nil, opError(CodeStoreFailure, op, err)
	}
	path := s.statsLogPath(s.insert.PKField(), logID)
	if err := s.putBlobRetry(ctx, path, blob); err != nil {
		return nil, opError(CodeStoreFailure, op, fmt.Errorf("%s: %w", path, err))
	}
	return &Binlog{Path: path, Bytes: int64(len(blob)), Rows: rows}, nil
}

func (s *Segment) buildDiskIndexes(ctx context.Context, columns map[model.FieldID]model.FieldData) (map[model.FieldID]*BuiltIndex, error) {
	scalars := scalarColumns(columns, s.schema)
	out := make(map[model.FieldID]*BuiltIndex)
	for _, f := range s.schema.Fields {
		if f.DataType != model.DataTypeFloatVector {
			continue
		}
		vd := columns[f.ID].(*model.FloatVectorData)
		built, err := s.opts.indexBuilder.Build(ctx, f.ID, f.Dim, vd.Values, scalars)
		if err != nil {
			return nil, opError(CodeIndexFailure, "flush", fmt.Errorf("field %d: %w", f.ID, err))
		}
		err = s.registerIndex(f.ID, built)
		s.logger.LogIndexBuild(ctx, f.ID, err)
		out[f.ID] = built
	}
	return out, nil
}

// collectColumns snapshots rows [0, rows) of every column, system fields
// included. Vector prefixes whose raw chunks were reclaimed are stitched
// back from the interim store.
func (s *Segment) collectColumns(rows int64) (map[model.FieldID]model.FieldData, error) {
	ids, tss := s.insert.SystemPrefix(rows)
	rawTS := make([]int64, len(tss))
	for i, t := range tss {
		rawTS[i] = int64(t)
	}
	columns := make(map[model.FieldID]model.FieldData, len(s.schema.Fields)+2)
	columns[model.RowIDField] = &model.ScalarData[int64]{Values: ids}
	columns[model.TimestampField] = &model.ScalarData[int64]{Values: rawTS}
	for _, f := range s.schema.Fields {
		data, err := s.columnPrefix(f, rows)
		if err != nil {
			return nil, err
		}
		columns[f.ID] = data
	}
	return columns, nil
}

func (s *Segment) columnPrefix(f schema.FieldSchema, rows int64) (model.FieldData, error) {
	if !s.interim.Enabled(f.ID) {
		return s.insert.FetchPrefix(f.ID, rows)
	}
	for {
		covered := s.interim.CoveredPrefix(f.ID)
		if covered > rows {
			covered = rows
		}
		if covered == 0 {
			// The covered prefix is monotone, so nothing was ever reclaimed.
			return s.insert.FetchPrefix(f.ID, rows)
		}
		head, err := s.interim.VectorsPrefix(f.ID, covered)
		if err != nil {
			return nil, err
		}
		if covered == rows {
			return head, nil
		}
		vals := head.(*model.FloatVectorData).Values
		col, _ := s.insert.FloatVectors(f.ID)
		ok := col.ScanChunkRange(covered, rows, func(_ int, span []float32, _ int64) bool {
			vals = append(vals, span...)
			return true
		})
		if !ok {
			// Reclamation moved past the snapshot mid-scan; restitch.
			continue
		}
		return &model.FloatVectorData{Dim: f.Dim, Values: vals}, nil
	}
}

// scalarColumns picks the non-vector user columns out of a flush snapshot
// for the index builder's filtered-search sidecar.
func scalarColumns(columns map[model.FieldID]model.FieldData, sch *schema.CollectionSchema) map[model.FieldID]model.FieldData {
	out := make(map[model.FieldID]model.FieldData)
	for _, f := range sch.Fields {
		if f.DataType.IsVector() {
			continue
		}
		out[f.ID] = columns[f.ID]
	}
	return out
}

// putBlobRetry uploads one blob, charging the IO budget first and
// retrying transient store failures until the context is done.
func (s *Segment) putBlobRetry(ctx context.Context, name string, data []byte) error {
	if err := s.res.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	for {
		err := s.opts.store.Put(ctx, name, data)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(storeRetryDelay):
		}
	}
}

func (s *Segment) insertLogPath(fieldID model.FieldID, logID int64) string {
	return fmt.Sprintf("insert_log/%d/%d/%d/%d/%d", s.opts.collectionID, s.opts.partitionID, s.id, fieldID, logID)
}

func (s *Segment) deltaLogPath(logID int64) string {
	return fmt.Sprintf("delta_log/%d/%d/%d/%d", s.opts.collectionID, s.opts.partitionID, s.id, logID)
}

func (s *Segment) statsLogPath(fieldID model.FieldID, logID int64) string {
	return fmt.Sprintf("stats_log/%d/%d/%d/%d/%d", s.opts.collectionID, s.opts.partitionID, s.id, fieldID, logID)
}
