package annexec

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
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordSearch(queries, k int, duration time.Duration, err error) {
//	    p.searchHistogram.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordBuild is called after each Build, Train or Add.
	// rows is the number of vectors submitted.
	RecordBuild(rows int, duration time.Duration, err error)

	// RecordSearch is called after each top-k search.
	RecordSearch(queries, k int, duration time.Duration, err error)

	// RecordRangeSearch is called after each range search.
	// hits is the total number of neighbors returned.
	RecordRangeSearch(queries, hits int, duration time.Duration, err error)

	// RecordSerialize is called after each Serialize with the size of the
	// produced binary set.
	RecordSerialize(bytes int64, duration time.Duration, err error)

	// RecordDeserialize is called after each Deserialize with the size of
	// the consumed binary set.
	RecordDeserialize(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration, error)            {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordRangeSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSerialize(int64, time.Duration, error)      {}
func (NoopMetricsCollector) RecordDeserialize(int64, time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	BuildCount       atomic.Int64
	BuildErrors      atomic.Int64
	BuildRows        atomic.Int64
	BuildTotalNanos  atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchQueries    atomic.Int64
	SearchTotalNanos atomic.Int64
	RangeCount       atomic.Int64
	RangeErrors      atomic.Int64
	RangeHits        atomic.Int64
	SerializeCount   atomic.Int64
	SerializeErrors  atomic.Int64
	SerializeBytes   atomic.Int64
	LoadCount        atomic.Int64
	LoadErrors       atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(rows int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
		return
	}
	b.BuildRows.Add(int64(rows))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(queries, _ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.SearchQueries.Add(int64(queries))
}

// RecordRangeSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRangeSearch(_, hits int, _ time.Duration, err error) {
	b.RangeCount.Add(1)
	if err != nil {
		b.RangeErrors.Add(1)
		return
	}
	b.RangeHits.Add(int64(hits))
}

// RecordSerialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSerialize(bytes int64, _ time.Duration, err error) {
	b.SerializeCount.Add(1)
	if err != nil {
		b.SerializeErrors.Add(1)
		return
	}
	b.SerializeBytes.Add(bytes)
}

// RecordDeserialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDeserialize(_ int64, _ time.Duration, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:      b.BuildCount.Load(),
		BuildErrors:     b.BuildErrors.Load(),
		BuildRows:       b.BuildRows.Load(),
		BuildAvgNanos:   avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchQueries:   b.SearchQueries.Load(),
		SearchAvgNanos:  avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		RangeCount:      b.RangeCount.Load(),
		RangeErrors:     b.RangeErrors.Load(),
		RangeHits:       b.RangeHits.Load(),
		SerializeCount:  b.SerializeCount.Load(),
		SerializeErrors: b.SerializeErrors.Load(),
		SerializeBytes:  b.SerializeBytes.Load(),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	BuildCount      int64
	BuildErrors     int64
	BuildRows       int64
	BuildAvgNanos   int64
	SearchCount     int64
	SearchErrors    int64
	SearchQueries   int64
	SearchAvgNanos  int64
	RangeCount      int64
	RangeErrors     int64
	RangeHits       int64
	SerializeCount  int64
	SerializeErrors int64
	SerializeBytes  int64
	LoadCount       int64
	LoadErrors      int64
}
