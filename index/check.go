package index

import (
	"fmt"
	"io"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
)

// Helpers shared by variant implementations.

// Metric resolves the engine metric named by cfg.
func Metric(cfg config.Config) (backend.Metric, error) {
	m, err := cfg.Metric()
	if err != nil {
		return 0, err
	}
	return backend.MetricFromConfig(m)
}

// CheckDataset validates that ds is non-nil, carries enc and, when dim > 0,
// has dimension dim.
func CheckDataset(ds *dataset.Dataset, enc dataset.Encoding, dim int) error {
	if ds == nil {
		return fmt.Errorf("%w: nil dataset", ErrInvalidArgs)
	}
	if ds.Encoding() != enc {
		return fmt.Errorf("%w: expected %s dataset, got %s", ErrInvalidArgs, enc, ds.Encoding())
	}
	if dim > 0 && ds.Dim() != dim {
		return &DimensionMismatchError{Expected: dim, Actual: ds.Dim()}
	}
	return nil
}

// CheckK validates the fixed-k result count.
func CheckK(k int) error {
	if k < 1 {
		return fmt.Errorf("%w: k must be at least 1, got %d", ErrInvalidArgs, k)
	}
	return nil
}

// CheckIDs returns the ids of ds, all of which must lie in [0, count).
func CheckIDs(ds *dataset.Dataset, count int64) ([]int64, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: nil dataset", ErrInvalidArgs)
	}
	ids := ds.IDs()
	for _, id := range ids {
		if id < 0 || id >= count {
			return nil, fmt.Errorf("%w: id %d out of range [0, %d)", ErrInvalidArgs, id, count)
		}
	}
	return ids, nil
}

// SearchParams builds the engine parameters of a query.
func SearchParams(cfg config.Config, filter dataset.BitsetView) *backend.SearchParams {
	return &backend.SearchParams{Filter: filter, Nprobe: cfg.Nprobe}
}

// WriteSegment serializes through write into a memory sink and stores the
// bytes under key.
func WriteSegment(set *binaryset.BinarySet, key string, sizeHint int64, write func(io.Writer) error) error {
	if set == nil {
		return fmt.Errorf("%w: nil binary set", ErrInvalidArgs)
	}
	w := binaryset.NewMemoryWriter(int(max(sizeHint, 0)))
	if err := write(w); err != nil {
		return fmt.Errorf("%w: serialize %s: %w", ErrBackendInner, key, err)
	}
	if err := set.Append(key, w.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgs, err)
	}
	return nil
}

// ReadSegment looks up key and returns a bounded reader over it.
func ReadSegment(set *binaryset.BinarySet, key string) (*binaryset.MemoryReader, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil binary set", ErrInvalidArgs)
	}
	b, err := set.GetByName(key)
	if err != nil {
		return nil, err
	}
	return binaryset.NewMemoryReader(b.Data), nil
}

// DeserializeError wraps a backend reader failure.
func DeserializeError(key string, err error) error {
	return fmt.Errorf("%w: deserialize %s: %w", ErrBackendInner, key, err)
}
