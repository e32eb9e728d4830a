package growseg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/growseg/growseg/binlog"
	"github.com/growseg/growseg/blobstore"
	"github.com/growseg/growseg/model"
)

// storeRetryDelay paces retries against a transiently failing blob store.
const storeRetryDelay = 50 * time.Millisecond

// LoadFieldDataInfo names the persisted binlogs of one batch to restore.
type LoadFieldDataInfo struct {
	// RowCount is the total number of rows across each field's binlogs.
	RowCount int64

	// Fields maps every schema field, plus the row-id and timestamp
	// system fields, to its binlog paths. Paths may arrive unordered;
	// they are sorted by the numeric log id after the last slash.
	Fields map[model.FieldID][]string
}

// LoadFieldData restores one persisted batch into the segment. Fields
// download and decode in parallel, bounded by the background-worker
// budget; the loaded range becomes visible only after every field lands.
// A failed load leaves a permanently invisible hole and the segment keeps
// serving.
func (s *Segment) LoadFieldData(ctx context.Context, info LoadFieldDataInfo) error {
	const op = "load"
	start := time.Now()
	err := translateError(op, s.doLoad(ctx, info))
	s.metrics.RecordLoad(info.RowCount, time.Since(start), err)
	s.logger.LogLoad(ctx, "field data", info.RowCount, time.Since(start), err)
	return err
}

func (s *Segment) doLoad(ctx context.Context, info LoadFieldDataInfo) error {
	if s.closed.Load() {
		return ErrSegmentClosed
	}
	if info.RowCount <= 0 {
		return ErrEmptyBatch
	}
	for id := range info.Fields {
		if id == model.RowIDField || id == model.TimestampField {
			continue
		}
		if _, ok := s.schema.Field(id); !ok {
			return &ErrFieldNotFound{Field: id}
		}
	}
	if _, ok := info.Fields[model.RowIDField]; !ok {
		return fmt.Errorf("%w: row-id system field", ErrMissingField)
	}
	if _, ok := info.Fields[model.TimestampField]; !ok {
		return fmt.Errorf("%w: timestamp system field", ErrMissingField)
	}
	for _, f := range s.schema.Fields {
		if _, ok := info.Fields[f.ID]; !ok {
			return fmt.Errorf("%w: field %d (%s)", ErrMissingField, f.ID, f.Name)
		}
	}

	offset := s.insert.Reserve(info.RowCount)

	g, gctx := errgroup.WithContext(ctx)
	for fieldID, paths := range info.Fields {
		fieldID, paths := fieldID, paths
		g.Go(func() error {
			if err := s.res.AcquireBackground(gctx); err != nil {
				return err
			}
			defer s.res.ReleaseBackground()
			return s.loadOneField(gctx, fieldID, paths, offset, info.RowCount)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.insert.MarkComplete(offset, info.RowCount)
	return nil
}

func (s *Segment) loadOneField(ctx context.Context, fieldID model.FieldID, paths []string, offset, rows int64) error {
	const op = "load"
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sortBinlogPaths(sorted)

	at := offset
	for _, path := range sorted {
		blob, err := s.readBlobRetry(ctx, path)
		if err != nil {
			return opError(CodeLoadFailure, op, fmt.Errorf("%s: %w", path, err))
		}
		id, data, err := binlog.DecodeInsert(blob)
		if err != nil {
			return opError(CodeLoadFailure, op, fmt.Errorf("%s: %w", path, err))
		}
		if id != fieldID {
			return opError(CodeLoadFailure, op, fmt.Errorf("%s: holds field %d, want %d", path, id, fieldID))
		}
		n := int64(data.RowCount())
		if n == 0 {
			continue
		}
		if at+n > offset+rows {
			return opError(CodeLoadFailure, op, fmt.Errorf("field %d: binlogs exceed %d rows", fieldID, rows))
		}
		if err := s.fillLoaded(fieldID, at, data); err != nil {
			return opError(CodeLoadFailure, op, err)
		}
		at += n
	}
	if at != offset+rows {
		return opError(CodeLoadFailure, op, fmt.Errorf("field %d: %d rows loaded, expected %d", fieldID, at-offset, rows))
	}
	return nil
}

func (s *Segment) fillLoaded(fieldID model.FieldID, at int64, data model.FieldData) error {
	switch fieldID {
	case model.RowIDField:
		ids, ok := data.(*model.ScalarData[int64])
		if !ok {
			return fmt.Errorf("row-id binlog holds %s", data.Type())
		}
		s.insert.FillRowIDs(at, ids.Values)
	case model.TimestampField:
		raw, ok := data.(*model.ScalarData[int64])
		if !ok {
			return fmt.Errorf("timestamp binlog holds %s", data.Type())
		}
		tss := make([]model.Timestamp, len(raw.Values))
		for i, v := range raw.Values {
			tss[i] = model.Timestamp(v)
		}
		s.insert.FillTimestamps(at, tss)
	default:
		if err := s.insert.FillField(at, fieldID, data); err != nil {
			return err
		}
		if fieldID == s.insert.PKField() {
			pks, err := model.PrimaryKeys(data)
			if err != nil {
				return err
			}
			s.insert.RegisterPKs(at, pks)
		}
		if s.interim.Enabled(fieldID) {
			s.interim.TryAppend(fieldID, at, data.(*model.FloatVectorData).Values)
		}
	}
	return nil
}

// LoadDeletedRecord pushes recovered tombstones directly, skipping the
// never-inserted filtering Delete applies; a reloading segment's pk index
// fills in as field binlogs land.
func (s *Segment) LoadDeletedRecord(ctx context.Context, pks []model.PrimaryKey, timestamps []model.Timestamp) error {
	const op = "load"
	start := time.Now()
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
		s.deleted.Push(pks, timestamps)
		return nil
	}()
	err = translateError(op, err)
	s.metrics.RecordLoad(int64(len(pks)), time.Since(start), err)
	s.logger.LogLoad(ctx, "deleted record", int64(len(pks)), time.Since(start), err)
	return err
}

// readBlobRetry downloads one blob, retrying transient store failures
// until the context is done. Missing blobs fail immediately.
func (s *Segment) readBlobRetry(ctx context.Context, name string) ([]byte, error) {
	for {
		data, err := s.readBlob(ctx, name)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(storeRetryDelay):
		}
	}
}

// readBlob reads a whole blob, charging the IO budget before the read.
func (s *Segment) readBlob(ctx context.Context, name string) ([]byte, error) {
	b, err := s.opts.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	if err := s.res.AcquireIO(ctx, int(b.Size())); err != nil {
		return nil, err
	}
	data := make([]byte, b.Size())
	if _, err := b.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

// sortBinlogPaths orders paths by the numeric log id after the last
// slash, falling back to lexicographic order for non-numeric suffixes.
func sortBinlogPaths(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		a, aok := pathLogID(paths[i])
		b, bok := pathLogID(paths[j])
		if aok && bok {
			return a < b
		}
		return paths[i] < paths[j]
	})
}

func pathLogID(p string) (int64, bool) {
	suffix := p[strings.LastIndexByte(p, '/')+1:]
	id, err := strconv.ParseInt(suffix, 10, 64)
	return id, err == nil
}
