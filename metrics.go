package growseg

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    insertCounter   prometheus.Counter
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordInsert(rows int64, duration time.Duration, err error) {
//	    p.insertCounter.Add(float64(rows))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordInsert is called after each insert batch.
	// rows is the batch size, duration the total time taken, err nil on success.
	RecordInsert(rows int64, duration time.Duration, err error)

	// RecordDelete is called after each delete batch.
	RecordDelete(rows int64, duration time.Duration, err error)

	// RecordSearch is called after each vector search.
	// k is the number of neighbors requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordLoad is called after each load of persisted field data or
	// deleted records.
	RecordLoad(rows int64, duration time.Duration, err error)

	// RecordFlush is called after each flush to the blob store.
	// bytes is the encoded size written.
	RecordFlush(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordLoad(int64, time.Duration, error)   {}
func (NoopMetricsCollector) RecordFlush(int64, time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertRows       atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteRows       atomic.Int64
	DeleteErrors     atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	LoadCount        atomic.Int64
	LoadRows         atomic.Int64
	LoadErrors       atomic.Int64
	FlushCount       atomic.Int64
	FlushBytes       atomic.Int64
	FlushErrors      atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(rows int64, duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertRows.Add(rows)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(rows int64, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteRows.Add(rows)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(rows int64, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadRows.Add(rows)
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(bytes int64, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushBytes.Add(bytes)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertRows:     b.InsertRows.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertAvgNanos: b.getAvgInsertNanos(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteRows:     b.DeleteRows.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
		LoadCount:      b.LoadCount.Load(),
		LoadRows:       b.LoadRows.Load(),
		LoadErrors:     b.LoadErrors.Load(),
		FlushCount:     b.FlushCount.Load(),
		FlushBytes:     b.FlushBytes.Load(),
		FlushErrors:    b.FlushErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgInsertNanos() int64 {
	count := b.InsertCount.Load()
	if count == 0 {
		return 0
	}
	return b.InsertTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertRows     int64
	InsertErrors   int64
	InsertAvgNanos int64
	DeleteCount    int64
	DeleteRows     int64
	DeleteErrors   int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	LoadCount      int64
	LoadRows       int64
	LoadErrors     int64
	FlushCount     int64
	FlushBytes     int64
	FlushErrors    int64
}
