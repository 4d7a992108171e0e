package backend

import (
	"context"
	"fmt"
	"math"
)

// BinaryFlat is an exact brute-force engine over packed bit vectors.
// Hamming distances are produced as integers, Jaccard distances as floats.
type BinaryFlat struct {
	dim      int
	codeSize int
	metric   Metric
	codes    []byte
}

var _ BinaryIndex = (*BinaryFlat)(nil)

// NewBinaryFlat returns an empty binary engine over dim-bit vectors.
func NewBinaryFlat(dim int, metric Metric) (*BinaryFlat, error) {
	if dim <= 0 || dim%8 != 0 {
		return nil, fmt.Errorf("%w: binary dim must be a positive multiple of 8, got %d", ErrInvalidArgument, dim)
	}
	if !metric.Binary() {
		return nil, fmt.Errorf("%w: %s on binary vectors", ErrUnsupportedMetric, metric)
	}
	return &BinaryFlat{dim: dim, codeSize: dim / 8, metric: metric}, nil
}

func (b *BinaryFlat) Dim() int        { return b.dim }
func (b *BinaryFlat) Ntotal() int64   { return int64(len(b.codes) / b.codeSize) }
func (b *BinaryFlat) IsTrained() bool { return true }
func (b *BinaryFlat) Metric() Metric  { return b.metric }

func (b *BinaryFlat) Train(context.Context, int, []byte) error { return nil }

func (b *BinaryFlat) Add(_ context.Context, n int, x []byte) error {
	if len(x) != n*b.codeSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidArgument, n*b.codeSize, len(x))
	}
	b.codes = append(b.codes, x...)
	return nil
}

func (b *BinaryFlat) row(i int) []byte {
	return b.codes[i*b.codeSize : (i+1)*b.codeSize]
}

func (b *BinaryFlat) score(q []byte, j int) float32 {
	if b.metric == MetricHamming {
		return float32(hamming(q, b.row(j)))
	}
	return jaccard(q, b.row(j))
}

func (b *BinaryFlat) Search(ctx context.Context, n int, x []byte, k int, distances Distances, labels []int64, params *SearchParams) error {
	distLen := len(distances.Float)
	if b.metric.IntegerDistance() {
		distLen = len(distances.Int)
	}
	if err := checkSearchBuffers(n, k, distLen, len(labels)); err != nil {
		return err
	}
	if len(x) != n*b.codeSize {
		return fmt.Errorf("%w: expected %d query bytes, got %d", ErrInvalidArgument, n*b.codeSize, len(x))
	}
	filter := params.filter()
	total := int(b.Ntotal())

	return parallelFor(ctx, n, func(i int) error {
		top := newTopK(k, b.metric)
		q := x[i*b.codeSize : (i+1)*b.codeSize]
		for j := 0; j < total; j++ {
			if filter != nil && filter.Test(int64(j)) {
				continue
			}
			top.push(int64(j), b.score(q, j))
		}
		rowLabels := labels[i*k : (i+1)*k]
		if !b.metric.IntegerDistance() {
			top.drain(rowLabels, distances.Float[i*k:(i+1)*k])
			return nil
		}
		scores := make([]float32, k)
		top.drain(rowLabels, scores)
		out := distances.Int[i*k : (i+1)*k]
		for j, s := range scores {
			if rowLabels[j] < 0 {
				out[j] = math.MaxInt32
				continue
			}
			out[j] = int32(s)
		}
		return nil
	})
}

func (b *BinaryFlat) RangeSearch(ctx context.Context, n int, x []byte, radius float32, params *SearchParams) (*RangeSearchResult, error) {
	if len(x) != n*b.codeSize {
		return nil, fmt.Errorf("%w: expected %d query bytes, got %d", ErrInvalidArgument, n*b.codeSize, len(x))
	}
	filter := params.filter()
	total := int(b.Ntotal())
	perQuery := make([][]neighbor, n)

	err := parallelFor(ctx, n, func(i int) error {
		q := x[i*b.codeSize : (i+1)*b.codeSize]
		for j := 0; j < total; j++ {
			if filter != nil && filter.Test(int64(j)) {
				continue
			}
			if s := b.score(q, j); inRange(b.metric, s, radius) {
				perQuery[i] = append(perQuery[i], neighbor{id: int64(j), score: s})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flattenRange(perQuery), nil
}

func (b *BinaryFlat) Reconstruct(id int64, out []byte) error {
	if id < 0 || id >= b.Ntotal() {
		return fmt.Errorf("%w: id %d out of range [0, %d)", ErrInvalidArgument, id, b.Ntotal())
	}
	copy(out, b.row(int(id)))
	return nil
}

func (b *BinaryFlat) MemoryUsage() int64 {
	return int64(cap(b.codes))
}
