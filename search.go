package growseg

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/growseg/growseg/distance"
	"github.com/growseg/growseg/internal/chunked"
	"github.com/growseg/growseg/internal/topk"
	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

// SearchRequest describes one top-k vector query.
type SearchRequest struct {
	// Field is the vector field to search.
	Field model.FieldID

	// Query is the float vector query. Binary vector fields take
	// BinaryQuery instead.
	Query []float32

	// BinaryQuery is the packed binary vector query.
	BinaryQuery []byte

	// K is the number of neighbors to return.
	K int

	// Timestamp scopes the search to rows written at or before it and to
	// tombstones at or below it. Zero means no bound.
	Timestamp model.Timestamp

	// Exclude marks extra offsets to skip, typically a predicate mask.
	// Rows deleted at the request timestamp are excluded regardless.
	Exclude *roaring.Bitmap

	// Nprobe bounds the centroid postings the interim index probes once
	// clustered. Zero picks a default from the centroid count.
	Nprobe int
}

// SearchResult is one search hit.
type SearchResult struct {
	// Offset addresses the row within the segment; feed it to
	// FetchByOffsets to materialize fields.
	Offset int64

	// Distance is the metric value. Smaller wins for L2 and Hamming,
	// larger for dot product and cosine.
	Distance float32
}

// Search runs a top-k query over the rows active at the request timestamp,
// minus excluded and deleted offsets. The prefix covered by the interim
// index goes through it; the raw tail above is scanned brute force; the
// two merge through one bounded heap. Results come back best first.
func (s *Segment) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	const op = "search"
	start := time.Now()
	results, err := s.doSearch(ctx, req)
	err = translateError(op, err)
	s.metrics.RecordSearch(req.K, time.Since(start), err)
	s.logger.LogSearch(ctx, req.Field, req.K, len(results), time.Since(start), err)
	return results, err
}

func (s *Segment) doSearch(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if s.closed.Load() {
		return nil, ErrSegmentClosed
	}
	if req.K <= 0 {
		return nil, ErrInvalidK
	}
	f, ok := s.schema.Field(req.Field)
	if !ok {
		return nil, &ErrFieldNotFound{Field: req.Field}
	}
	switch f.DataType {
	case model.DataTypeFloatVector:
		if len(req.Query) != f.Dim {
			return nil, &ErrDimensionMismatch{Field: f.ID, Expected: f.Dim, Actual: len(req.Query)}
		}
	case model.DataTypeBinaryVector:
		if len(req.BinaryQuery)*8 != f.Dim {
			return nil, &ErrDimensionMismatch{Field: f.ID, Expected: f.Dim, Actual: len(req.BinaryQuery) * 8}
		}
	default:
		return nil, &ErrUnsupportedDataType{
			DataType: f.DataType,
			cause:    fmt.Errorf("field %d is not a vector field", f.ID),
		}
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = model.MaxTimestamp
	}
	barrier := s.insert.ActiveCount(ts)
	if barrier == 0 {
		return nil, nil
	}
	exclude := s.searchExclusions(req.Exclude, barrier, ts)

	if f.DataType == model.DataTypeBinaryVector {
		return s.searchBinary(f, req.BinaryQuery, req.K, exclude, barrier)
	}
	return s.searchFloat(ctx, f, req, exclude, barrier)
}

// searchExclusions unions the caller's predicate mask with the delete
// bitmap at ts. The caller's bitmap is never mutated.
func (s *Segment) searchExclusions(pred *roaring.Bitmap, barrier int64, ts model.Timestamp) *roaring.Bitmap {
	delBarrier := s.deleted.DeleteBarrier(ts)
	if delBarrier == 0 {
		return pred
	}
	mask := s.deleted.DeleteBitmap(s.insert, delBarrier, barrier)
	if pred != nil {
		mask.Or(pred)
	}
	return mask
}

func (s *Segment) searchFloat(ctx context.Context, f schema.FieldSchema, req SearchRequest, exclude *roaring.Bitmap, barrier int64) ([]SearchResult, error) {
	metric := s.metricOf(f.ID)
	dist, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	q := req.Query
	cosine := metric == distance.MetricCosine
	if cosine {
		q, _ = distance.NormalizeL2Copy(req.Query)
	}
	col, _ := s.insert.FloatVectors(f.ID)

	queue := topk.New(metric.LargerIsBetter())
	if !s.interim.Enabled(f.ID) {
		// Without an interim index nothing is ever reclaimed and the scan
		// cannot fail.
		scanFloat(col, 0, barrier, q, cosine, dist, exclude, req.K, queue)
		return toResults(queue), nil
	}

	for {
		covered := s.interim.CoveredPrefix(f.ID)
		if covered > barrier {
			covered = barrier
		}
		if covered < barrier && !scanFloat(col, covered, barrier, q, cosine, dist, exclude, req.K, queue) {
			// The raw tail lost a chunk to reclamation mid-scan, which
			// means the covered prefix advanced; rescan from the new split.
			queue.Reset()
			if s.interim.CoveredPrefix(f.ID) > covered {
				continue
			}
			return nil, fmt.Errorf("field %d: raw rows unavailable", f.ID)
		}
		if covered > 0 {
			items, err := s.interim.Search(ctx, f.ID, req.Query, req.K, exclude, covered, req.Nprobe)
			if err != nil {
				return nil, opError(CodeIndexFailure, "search", err)
			}
			for _, it := range items {
				queue.PushBounded(it, req.K)
			}
		}
		return toResults(queue), nil
	}
}

func (s *Segment) searchBinary(f schema.FieldSchema, q []byte, k int, exclude *roaring.Bitmap, barrier int64) ([]SearchResult, error) {
	col, _ := s.insert.BinaryVectors(f.ID)
	width := len(q)
	queue := topk.New(false)
	col.ScanChunkRange(0, barrier, func(_ int, span []byte, startRow int64) bool {
		rows := len(span) / width
		for i := 0; i < rows; i++ {
			off := startRow + int64(i)
			if exclude != nil && exclude.Contains(uint32(off)) {
				continue
			}
			d := distance.Hamming(q, span[i*width:(i+1)*width])
			queue.PushBounded(topk.Item{Offset: off, Distance: d}, k)
		}
		return true
	})
	return toResults(queue), nil
}

// scanFloat brute-scans rows [from, to) of a raw vector store into the
// queue. Cosine queries arrive normalized; stored rows stay raw and are
// corrected by their norm, matching the interim index's scoring.
func scanFloat(col *chunked.FlatColumn[float32], from, to int64, q []float32, cosine bool, dist distance.Func, exclude *roaring.Bitmap, k int, queue *topk.Queue) bool {
	dim := len(q)
	return col.ScanChunkRange(from, to, func(_ int, span []float32, startRow int64) bool {
		rows := len(span) / dim
		for i := 0; i < rows; i++ {
			off := startRow + int64(i)
			if exclude != nil && exclude.Contains(uint32(off)) {
				continue
			}
			row := span[i*dim : (i+1)*dim]
			d := dist(q, row)
			if cosine {
				n := float32(math.Sqrt(float64(distance.Dot(row, row))))
				if n == 0 {
					d = 0
				} else {
					d /= n
				}
			}
			queue.PushBounded(topk.Item{Offset: off, Distance: d}, k)
		}
		return true
	})
}

func (s *Segment) metricOf(fieldID model.FieldID) distance.Metric {
	if m, ok := s.opts.metrics[fieldID]; ok {
		return m
	}
	return distance.MetricL2
}

func toResults(queue *topk.Queue) []SearchResult {
	items := queue.Results()
	out := make([]SearchResult, len(items))
	for i, it := range items {
		out[i] = SearchResult{Offset: it.Offset, Distance: it.Distance}
	}
	return out
}
