// Package backend defines the opaque numeric engine contract driven by the
// index layer, and ships pure-Go engines implementing it: exact flat scan over
// float and binary vectors, and inverted-file indexes with flat, product
// quantized and 8-bit scalar quantized list storage.
//
// Engines are not safe for concurrent mutation. Concurrent Search and
// RangeSearch calls are safe as long as no Train or Add runs at the same time;
// the index layer enforces this with a reader/writer lock.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
)

var (
	// ErrNotTrained is returned by Add and Search on an engine that requires training.
	ErrNotTrained = errors.New("backend: not trained")
	// ErrAlreadyTrained is returned by a second Train on a stateful engine.
	ErrAlreadyTrained = errors.New("backend: already trained")
	// ErrInvalidArgument is returned for malformed inputs.
	ErrInvalidArgument = errors.New("backend: invalid argument")
	// ErrUnsupportedMetric is returned when an engine cannot run a metric.
	ErrUnsupportedMetric = errors.New("backend: unsupported metric")
	// ErrReconstructNotSupported is returned by engines that store lossy codes.
	ErrReconstructNotSupported = errors.New("backend: reconstruct not supported")
	// ErrCorrupt is returned by Read on malformed input.
	ErrCorrupt = errors.New("backend: corrupt index data")
)

// Metric is the engine-level distance function.
type Metric uint8

const (
	MetricL2 Metric = iota
	MetricIP
	MetricCosine
	MetricHamming
	MetricJaccard
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricIP:
		return "IP"
	case MetricCosine:
		return "COSINE"
	case MetricHamming:
		return "HAMMING"
	case MetricJaccard:
		return "JACCARD"
	default:
		return fmt.Sprintf("Metric(%d)", m)
	}
}

// HigherIsCloser reports whether larger scores rank first.
func (m Metric) HigherIsCloser() bool {
	return m == MetricIP || m == MetricCosine
}

// Binary reports whether the metric operates on packed bit vectors.
func (m Metric) Binary() bool {
	return m == MetricHamming || m == MetricJaccard
}

// IntegerDistance reports whether the metric produces integer distances.
func (m Metric) IntegerDistance() bool {
	return m == MetricHamming
}

// MetricFromConfig maps a configuration metric onto an engine metric.
func MetricFromConfig(m config.MetricType) (Metric, error) {
	switch m {
	case config.MetricL2:
		return MetricL2, nil
	case config.MetricIP:
		return MetricIP, nil
	case config.MetricCosine:
		return MetricCosine, nil
	case config.MetricHamming:
		return MetricHamming, nil
	case config.MetricJaccard:
		return MetricJaccard, nil
	default:
		return 0, fmt.Errorf("%w: %q", config.ErrInvalidMetric, m)
	}
}

// SearchParams carries per-call search options.
type SearchParams struct {
	// Filter excludes ids from the result. Nil filters nothing.
	Filter dataset.BitsetView
	// Nprobe is the number of inverted lists visited. Ignored by flat engines.
	Nprobe int
}

func (p *SearchParams) filter() dataset.BitsetView {
	if p == nil {
		return nil
	}
	return p.Filter
}

func (p *SearchParams) nprobe() int {
	if p == nil || p.Nprobe <= 0 {
		return 1
	}
	return p.Nprobe
}

// RangeSearchResult is the flat output of a range search over n queries.
// Query i's hits are Labels[Lims[i]:Lims[i+1]].
type RangeSearchResult struct {
	Lims      []int
	Labels    []int64
	Distances []float32
}

// Index is a float vector engine. Ids are assigned sequentially on Add,
// starting at zero.
type Index interface {
	Dim() int
	Ntotal() int64
	IsTrained() bool
	Metric() Metric

	Train(ctx context.Context, n int, x []float32) error
	Add(ctx context.Context, n int, x []float32) error
	// Search writes the k best neighbors of each of the n queries into
	// distances and labels, both of length n*k. Missing neighbors are
	// reported with label -1.
	Search(ctx context.Context, n int, x []float32, k int, distances []float32, labels []int64, params *SearchParams) error
	RangeSearch(ctx context.Context, n int, x []float32, radius float32, params *SearchParams) (*RangeSearchResult, error)
	Reconstruct(id int64, out []float32) error

	// MemoryUsage estimates resident bytes.
	MemoryUsage() int64
}

// Distances is the output buffer of a binary search. Exactly one of Int and
// Float is used, depending on Metric.IntegerDistance.
type Distances struct {
	Int   []int32
	Float []float32
}

// BinaryIndex is a packed-bit vector engine. Dim counts bits.
type BinaryIndex interface {
	Dim() int
	Ntotal() int64
	IsTrained() bool
	Metric() Metric

	Train(ctx context.Context, n int, x []byte) error
	Add(ctx context.Context, n int, x []byte) error
	Search(ctx context.Context, n int, x []byte, k int, distances Distances, labels []int64, params *SearchParams) error
	RangeSearch(ctx context.Context, n int, x []byte, radius float32, params *SearchParams) (*RangeSearchResult, error)
	Reconstruct(id int64, out []byte) error

	MemoryUsage() int64
}

// worst returns the padding distance for missing neighbors.
func worst(m Metric) float32 {
	if m.HigherIsCloser() {
		return negInf
	}
	return posInf
}

func checkSearchBuffers(n, k int, distLen, labelLen int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if distLen < n*k || labelLen < n*k {
		return fmt.Errorf("%w: result buffers too small for %d×%d", ErrInvalidArgument, n, k)
	}
	return nil
}
