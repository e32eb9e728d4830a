// Package interim maintains the incremental vector indexes of one growing
// segment. Each float vector field gets its own offset-addressed copy of
// the vectors; once enough of the write prefix is absorbed, k-means
// centroids are trained and rows are assigned to posting lists as the
// prefix advances. Rows past the clustered watermark are brute-scanned
// from the record's own store, so results are exact for the tail and
// nprobe-bounded for the clustered body.
//
// Ingestion is best effort: every absorbed range reserves memory through
// the resource controller, and the first failed reservation stops
// ingestion for that field for good. A field that stops ingesting never
// reports itself synced, so raw chunks are never reclaimed and reads fall
// back to raw storage.
package interim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/growseg/growseg/distance"
	"github.com/growseg/growseg/internal/ack"
	"github.com/growseg/growseg/internal/chunked"
	"github.com/growseg/growseg/internal/kmeans"
	"github.com/growseg/growseg/internal/resource"
	"github.com/growseg/growseg/internal/topk"
	"github.com/growseg/growseg/model"
	"github.com/growseg/growseg/schema"
)

const (
	trainIterations = 10
	minTrainRows    = 2
)

// Config sizes the per-field indexes.
type Config struct {
	// ChunkRows is the chunk capacity of the index's own vector store.
	ChunkRows int64
	// NList is the number of k-means centroids.
	NList int
	// BuildThreshold is the absorbed prefix length that triggers centroid
	// training.
	BuildThreshold int64
	// Metrics assigns a metric per float vector field; fields without an
	// entry use L2.
	Metrics map[model.FieldID]distance.Metric
}

// fieldIndex is the incremental index of one float vector field.
type fieldIndex struct {
	dim     int64
	metric  distance.Metric
	dist    distance.Func
	store   *chunked.FlatColumn[float32]
	norms   *chunked.Column[float32] // cosine only
	covered *ack.Responder
	stopped atomic.Bool

	cmu       sync.RWMutex
	centroids []float32
	postings  [][]int64
	clustered int64
}

// Record holds the incremental indexes of a segment, one per float vector
// field. A nil Record is valid and reports every field as absent.
type Record struct {
	cfg      Config
	res      *resource.Controller
	fields   map[model.FieldID]*fieldIndex
	acquired atomic.Int64
}

// New builds an index shell for every float vector field in the schema.
// Training and clustering happen lazily as rows arrive.
func New(sch *schema.CollectionSchema, cfg Config, res *resource.Controller) (*Record, error) {
	r := &Record{
		cfg:    cfg,
		res:    res,
		fields: make(map[model.FieldID]*fieldIndex),
	}
	for _, f := range sch.Fields {
		if f.DataType != model.DataTypeFloatVector {
			continue
		}
		metric := distance.MetricL2
		if m, ok := cfg.Metrics[f.ID]; ok {
			metric = m
		}
		dist, err := distance.Provider(metric)
		if err != nil {
			return nil, fmt.Errorf("interim: field %d: %w", f.ID, err)
		}
		fi := &fieldIndex{
			dim:     int64(f.Dim),
			metric:  metric,
			dist:    dist,
			store:   chunked.NewFlatColumn[float32](cfg.ChunkRows, int64(f.Dim)),
			covered: ack.NewResponder(),
		}
		if metric == distance.MetricCosine {
			fi.norms = chunked.NewColumn[float32](cfg.ChunkRows)
		}
		r.fields[f.ID] = fi
	}
	return r, nil
}

// Enabled reports whether the field has an incremental index.
func (r *Record) Enabled(fieldID model.FieldID) bool {
	if r == nil {
		return false
	}
	_, ok := r.fields[fieldID]
	return ok
}

// TryAppend absorbs one written range into the field's index store,
// reporting whether it did. Ranges from concurrent writers may arrive in
// any order; the index serves reads only up to its contiguously absorbed
// prefix. A false return means the field stopped ingesting and will never
// sync.
func (r *Record) TryAppend(fieldID model.FieldID, offset int64, vectors []float32) bool {
	if r == nil {
		return false
	}
	fi, ok := r.fields[fieldID]
	if !ok || fi.stopped.Load() {
		return false
	}
	n := int64(len(vectors)) / fi.dim
	if n == 0 {
		return true
	}
	bytes := n * fi.dim * 4
	if !r.res.TryAcquireMemory(bytes) {
		fi.stopped.Store(true)
		return false
	}
	r.acquired.Add(bytes)

	fi.store.Fill(offset, vectors)
	if fi.norms != nil {
		norms := make([]float32, n)
		for i := int64(0); i < n; i++ {
			row := vectors[i*fi.dim : (i+1)*fi.dim]
			norms[i] = float32(math.Sqrt(float64(distance.Dot(row, row))))
		}
		fi.norms.Fill(offset, norms)
	}
	fi.covered.MarkComplete(offset, n)

	// Advance clustering when a background slot is free; otherwise the
	// next search catches up.
	if r.res.TryAcquireBackground() {
		fi.catchUp(context.Background(), fi.covered.VisibleCount(), r.cfg.NList, r.cfg.BuildThreshold)
		r.res.ReleaseBackground()
	}
	return true
}

// Synced reports whether every one of rawRows reserved rows has been
// absorbed for the field, meaning reads no longer need raw chunks.
func (r *Record) Synced(fieldID model.FieldID, rawRows int64) bool {
	if r == nil {
		return false
	}
	fi, ok := r.fields[fieldID]
	if !ok {
		return false
	}
	return fi.covered.VisibleCount() >= rawRows
}

// CoveredPrefix returns the contiguously absorbed row prefix of the field.
func (r *Record) CoveredPrefix(fieldID model.FieldID) int64 {
	if r == nil {
		return 0
	}
	fi, ok := r.fields[fieldID]
	if !ok {
		return 0
	}
	return fi.covered.VisibleCount()
}

// FetchVectors copies the vectors at the given offsets from the index's
// own store. Offsets must sit below the covered prefix.
func (r *Record) FetchVectors(fieldID model.FieldID, offsets []int64) (model.FieldData, error) {
	if r == nil {
		return nil, errors.New("interim: no index")
	}
	fi, ok := r.fields[fieldID]
	if !ok {
		return nil, fmt.Errorf("interim: no index for field %d", fieldID)
	}
	values, ok := fi.store.FetchRows(offsets)
	if !ok {
		return nil, fmt.Errorf("interim: field %d offsets out of range", fieldID)
	}
	return &model.FloatVectorData{Dim: int(fi.dim), Values: values}, nil
}

// VectorsPrefix copies rows [0, rows) from the index's own store. The
// requested prefix must not exceed the covered prefix.
func (r *Record) VectorsPrefix(fieldID model.FieldID, rows int64) (model.FieldData, error) {
	if r == nil {
		return nil, errors.New("interim: no index")
	}
	fi, ok := r.fields[fieldID]
	if !ok {
		return nil, fmt.Errorf("interim: no index for field %d", fieldID)
	}
	if rows > fi.covered.VisibleCount() {
		return nil, fmt.Errorf("interim: field %d prefix %d beyond covered rows", fieldID, rows)
	}
	return &model.FloatVectorData{Dim: int(fi.dim), Values: fi.rowsPrefix(rows)}, nil
}

// Search runs a top-k query over rows [0, barrier) of the field, skipping
// offsets set in exclude. The clustered body is limited to the nearest
// nprobe posting lists; the unclustered tail is scanned exactly. Results
// come back best first.
func (r *Record) Search(ctx context.Context, fieldID model.FieldID, query []float32, k int, exclude *roaring.Bitmap, barrier int64, nprobe int) ([]topk.Item, error) {
	if r == nil {
		return nil, errors.New("interim: no index")
	}
	fi, ok := r.fields[fieldID]
	if !ok {
		return nil, fmt.Errorf("interim: no index for field %d", fieldID)
	}
	if int64(len(query)) != fi.dim {
		return nil, fmt.Errorf("interim: query dimension %d, field has %d", len(query), fi.dim)
	}
	if covered := fi.covered.VisibleCount(); barrier > covered {
		barrier = covered
	}

	q := query
	if fi.metric == distance.MetricCosine {
		q, _ = distance.NormalizeL2Copy(query)
	}

	if err := fi.catchUp(ctx, barrier, r.cfg.NList, r.cfg.BuildThreshold); err != nil {
		return nil, err
	}

	queue := topk.New(fi.metric.LargerIsBetter())
	fi.cmu.RLock()
	clustered := fi.clustered
	if clustered > barrier {
		clustered = barrier
	}
	if fi.centroids != nil && clustered > 0 {
		if nprobe <= 0 {
			nprobe = 1 + r.cfg.NList/16
		}
		if nprobe > r.cfg.NList {
			nprobe = r.cfg.NList
		}
		for _, cid := range kmeans.NearestCentroids(q, fi.centroids, int(fi.dim), nprobe) {
			for _, off := range fi.postings[cid] {
				if off >= clustered {
					continue
				}
				if exclude != nil && exclude.Contains(uint32(off)) {
					continue
				}
				queue.PushBounded(topk.Item{Offset: off, Distance: fi.score(q, off)}, k)
			}
		}
	} else {
		clustered = 0
	}
	fi.cmu.RUnlock()

	// Exact scan of the unclustered tail.
	for off := clustered; off < barrier; off++ {
		if exclude != nil && exclude.Contains(uint32(off)) {
			continue
		}
		queue.PushBounded(topk.Item{Offset: off, Distance: fi.score(q, off)}, k)
	}
	return queue.Results(), nil
}

// score computes the query-to-row distance. Cosine queries arrive
// normalized; stored rows stay raw and are corrected by their norm.
func (fi *fieldIndex) score(q []float32, off int64) float32 {
	row := fi.store.Row(off)
	d := fi.dist(q, row)
	if fi.norms != nil {
		n, _ := fi.norms.Get(off)
		if n == 0 {
			return 0
		}
		d /= n
	}
	return d
}

// catchUp trains centroids once the absorbed prefix crosses the build
// threshold and assigns rows [clustered, target) to posting lists.
func (fi *fieldIndex) catchUp(ctx context.Context, target int64, nlist int, threshold int64) error {
	if covered := fi.covered.VisibleCount(); target > covered {
		target = covered
	}
	fi.cmu.Lock()
	defer fi.cmu.Unlock()

	if fi.centroids == nil {
		prefix := fi.covered.VisibleCount()
		if prefix < threshold || prefix < minTrainRows {
			return nil
		}
		sample := fi.rowsPrefix(prefix)
		if fi.metric == distance.MetricCosine {
			for i := int64(0); i < prefix; i++ {
				distance.NormalizeL2InPlace(sample[i*fi.dim : (i+1)*fi.dim])
			}
		}
		centroids, err := kmeans.Train(ctx, sample, int(fi.dim), nlist, trainIterations)
		if err != nil {
			return fmt.Errorf("interim: training centroids: %w", err)
		}
		if centroids == nil {
			return nil
		}
		fi.centroids = centroids
		fi.postings = make([][]int64, nlist)
	}

	for off := fi.clustered; off < target; off++ {
		vec := fi.store.Row(off)
		if fi.metric == distance.MetricCosine {
			vec, _ = distance.NormalizeL2Copy(vec)
		}
		cid := kmeans.Assign(vec, fi.centroids, int(fi.dim))
		fi.postings[cid] = append(fi.postings[cid], off)
	}
	if target > fi.clustered {
		fi.clustered = target
	}
	return nil
}

// rowsPrefix copies rows [0, n) of the store into one flat slice.
func (fi *fieldIndex) rowsPrefix(n int64) []float32 {
	out := make([]float32, 0, n*fi.dim)
	fi.store.ScanChunks(n, func(_ int, span []float32, _ int64) bool {
		out = append(out, span...)
		return true
	})
	return out
}

// Bytes returns the memory reserved for index stores.
func (r *Record) Bytes() int64 {
	if r == nil {
		return 0
	}
	return r.acquired.Load()
}

// Release returns all reserved memory to the controller.
func (r *Record) Release() {
	if r == nil {
		return
	}
	r.res.ReleaseMemory(r.acquired.Swap(0))
}
