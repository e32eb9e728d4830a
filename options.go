package growseg

import (
	"log/slog"

	"github.com/growseg/growseg/alloc"
	"github.com/growseg/growseg/binlog"
	"github.com/growseg/growseg/blobstore"
	"github.com/growseg/growseg/distance"
	"github.com/growseg/growseg/model"
)

const (
	// DefaultChunkRows is the number of rows per column chunk.
	DefaultChunkRows int64 = 32768

	// DefaultNList is the number of k-means centroids the interim index
	// trains per vector field.
	DefaultNList = 128

	// DefaultBuildThreshold is the number of absorbed rows after which the
	// interim index trains centroids. Below it searches scan brute force.
	DefaultBuildThreshold int64 = 4096
)

type options struct {
	collectionID     int64
	partitionID      int64
	chunkRows        int64
	metrics          map[model.FieldID]distance.Metric
	interimEnabled   bool
	interim          InterimIndexOptions
	store            blobstore.BlobStore
	allocator        alloc.Allocator
	compression      binlog.Compression
	indexBuilder     DiskIndexBuilder
	memoryLimit      int64
	maxWorkers       int64
	ioLimit          int64
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures segment constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. store-specific constructor variants).
type Option func(*options)

// InterimIndexOptions tunes the in-memory vector index that accelerates
// searches while the segment grows.
type InterimIndexOptions struct {
	// NList is the number of k-means centroids.
	NList int
	// BuildThreshold is the number of absorbed rows that triggers centroid
	// training.
	BuildThreshold int64
}

// WithCollection records the collection and partition the segment belongs
// to. The ids only shape flush artifact paths.
func WithCollection(collectionID, partitionID int64) Option {
	return func(o *options) {
		o.collectionID = collectionID
		o.partitionID = partitionID
	}
}

// WithChunkRows configures the number of rows per column chunk.
// Values <= 0 fall back to DefaultChunkRows.
func WithChunkRows(rows int64) Option {
	return func(o *options) {
		if rows > 0 {
			o.chunkRows = rows
		}
	}
}

// WithMetric configures the similarity metric of a float vector field.
// Fields without an explicit metric use L2.
func WithMetric(field model.FieldID, metric distance.Metric) Option {
	return func(o *options) {
		if o.metrics == nil {
			o.metrics = make(map[model.FieldID]distance.Metric)
		}
		o.metrics[field] = metric
	}
}

// WithInterimIndex enables the interim vector index. Without it every
// search scans the raw columns brute force.
//
// Example:
//
//	seg, _ := growseg.Open(1, sch,
//	    growseg.WithInterimIndex(func(o *growseg.InterimIndexOptions) {
//	        o.NList = 256
//	        o.BuildThreshold = 8192
//	    }))
func WithInterimIndex(optFns ...func(*InterimIndexOptions)) Option {
	return func(o *options) {
		o.interimEnabled = true
		for _, fn := range optFns {
			if fn != nil {
				fn(&o.interim)
			}
		}
	}
}

// WithBlobStore configures where Flush writes binlogs and where loads read
// them from. The default is an in-process memory store; production
// deployments pass an S3 or MinIO backed store.
//
// If nil is passed, the default is kept.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		if store != nil {
			o.store = store
		}
	}
}

// WithAllocator configures the id allocator for flush artifacts. The
// default is a process-local counter; clustered deployments pass a
// cluster-wide allocator.
func WithAllocator(a alloc.Allocator) Option {
	return func(o *options) {
		if a != nil {
			o.allocator = a
		}
	}
}

// WithCompression configures the binlog payload compression used by Flush.
func WithCompression(c binlog.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithDiskIndexBuilder configures a builder that turns each float vector
// field into a disk-resident index during Flush. Without it Flush writes
// binlogs only.
func WithDiskIndexBuilder(b DiskIndexBuilder) Option {
	return func(o *options) {
		o.indexBuilder = b
	}
}

// WithMemoryLimit caps the memory the interim index may take before it
// stops absorbing new rows. 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithMaxBackgroundWorkers bounds concurrent per-field load and flush
// workers. Values <= 0 fall back to 1.
func WithMaxBackgroundWorkers(n int) Option {
	return func(o *options) {
		o.maxWorkers = int64(n)
	}
}

// WithIORateLimit throttles blob store traffic to the given bytes per
// second. 0 means unlimited.
func WithIORateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &growseg.BasicMetricsCollector{}
//	seg, _ := growseg.Open(1, sch, growseg.WithMetricsCollector(metrics))
//	// ... use seg ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Avg latency: %dns\n", stats.InsertCount, stats.InsertAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := growseg.NewJSONLogger(slog.LevelInfo)
//	seg, _ := growseg.Open(1, sch, growseg.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		chunkRows: DefaultChunkRows,
		interim: InterimIndexOptions{
			NList:          DefaultNList,
			BuildThreshold: DefaultBuildThreshold,
		},
		store:            blobstore.NewMemoryStore(),
		allocator:        alloc.NewLocal(1),
		compression:      binlog.CompressionZstd,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.interim.NList <= 0 {
		o.interim.NList = DefaultNList
	}
	if o.interim.BuildThreshold <= 0 {
		o.interim.BuildThreshold = DefaultBuildThreshold
	}
	return o
}
