// Package config defines the per-call configuration record consumed by index
// variants.
//
// A Config is a plain value: it is constructed fresh for every call and passed
// by value, so an index can never mutate the caller's copy.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrInvalidMetric is returned when metric_type names no supported metric.
var ErrInvalidMetric = errors.New("invalid metric")

// ErrInvalidConfig is returned by Validate for out-of-range parameters.
var ErrInvalidConfig = errors.New("invalid config")

// MetricType selects the distance or similarity function.
type MetricType string

// Supported metrics.
const (
	MetricL2      MetricType = "L2"
	MetricIP      MetricType = "IP"
	MetricCosine  MetricType = "COSINE"
	MetricHamming MetricType = "HAMMING"
	MetricJaccard MetricType = "JACCARD"
)

// ParseMetric parses a metric name case-insensitively.
func ParseMetric(s string) (MetricType, error) {
	switch m := MetricType(strings.ToUpper(strings.TrimSpace(s))); m {
	case MetricL2, MetricIP, MetricCosine, MetricHamming, MetricJaccard:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
	}
}

// IsSimilarity reports whether larger values mean closer (IP, COSINE).
func (m MetricType) IsSimilarity() bool {
	return m == MetricIP || m == MetricCosine
}

// IsBinary reports whether the metric operates on packed binary vectors.
func (m MetricType) IsBinary() bool {
	return m == MetricHamming || m == MetricJaccard
}

func (m MetricType) String() string { return string(m) }

// Config is the configuration record shared by all index variants.
// Each variant reads only the keys it understands.
type Config struct {
	// MetricType is the distance/similarity selector (L2, IP, COSINE, HAMMING, JACCARD).
	MetricType string `json:"metric_type" yaml:"metric_type"`

	// K is the result count for fixed-k search.
	K int `json:"k" yaml:"k"`

	// Nlist is the number of inverted-file clusters.
	Nlist int `json:"nlist" yaml:"nlist"`
	// Nprobe is the number of clusters visited per query.
	Nprobe int `json:"nprobe" yaml:"nprobe"`

	// M is the number of product-quantization segments.
	M int `json:"m" yaml:"m"`
	// Nbits is the number of bits per product-quantization segment.
	Nbits int `json:"nbits" yaml:"nbits"`

	// Radius is the range-search threshold.
	Radius float32 `json:"radius" yaml:"radius"`
	// RangeFilter is the secondary range-search threshold. Nil disables it.
	RangeFilter *float32 `json:"range_filter,omitempty" yaml:"range_filter,omitempty"`

	// BuildThreadNum bounds backend parallelism during Build/Train/Add.
	// Zero means runtime.GOMAXPROCS(0).
	BuildThreadNum int `json:"build_thread_num,omitempty" yaml:"build_thread_num,omitempty"`
	// QueryThreadNum bounds backend parallelism during non fan-out search work.
	// Zero means runtime.GOMAXPROCS(0).
	QueryThreadNum int `json:"query_thread_num,omitempty" yaml:"query_thread_num,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		MetricType: string(MetricL2),
		K:          10,
		Nlist:      128,
		Nprobe:     8,
		M:          4,
		Nbits:      8,
	}
}

// Metric parses MetricType.
func (c Config) Metric() (MetricType, error) {
	return ParseMetric(c.MetricType)
}

// HasRangeFilter reports whether the secondary range filter is set.
func (c Config) HasRangeFilter() bool {
	return c.RangeFilter != nil
}

// WithRangeFilter returns a copy of c with the secondary range filter set.
func (c Config) WithRangeFilter(v float32) Config {
	c.RangeFilter = &v
	return c
}

// BuildThreads returns the effective build thread budget.
func (c Config) BuildThreads() int {
	if c.BuildThreadNum > 0 {
		return c.BuildThreadNum
	}
	return runtime.GOMAXPROCS(0)
}

// QueryThreads returns the effective query thread budget.
func (c Config) QueryThreads() int {
	if c.QueryThreadNum > 0 {
		return c.QueryThreadNum
	}
	return runtime.GOMAXPROCS(0)
}

// Validate checks the generic constraints shared by all variants.
// Variant-specific constraints (k for search, nlist for training) are
// checked by the operation that needs them.
func (c Config) Validate() error {
	if _, err := c.Metric(); err != nil {
		return err
	}
	if c.K < 0 {
		return fmt.Errorf("%w: k must not be negative, got %d", ErrInvalidConfig, c.K)
	}
	if c.Nlist < 0 || c.Nprobe < 0 {
		return fmt.Errorf("%w: nlist/nprobe must not be negative", ErrInvalidConfig)
	}
	if c.M < 0 || c.Nbits < 0 || c.Nbits > 8 {
		return fmt.Errorf("%w: m must be >= 0 and nbits in [0, 8]", ErrInvalidConfig)
	}
	if c.BuildThreadNum < 0 || c.QueryThreadNum < 0 {
		return fmt.Errorf("%w: thread numbers must not be negative", ErrInvalidConfig)
	}
	return nil
}
