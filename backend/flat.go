package backend

import (
	"context"
	"fmt"
)

// Flat is an exact brute-force engine over float vectors.
type Flat struct {
	dim    int
	metric Metric
	data   []float32
}

var _ Index = (*Flat)(nil)

// NewFlat returns an empty flat engine.
func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidArgument, dim)
	}
	if metric.Binary() {
		return nil, fmt.Errorf("%w: %s on float vectors", ErrUnsupportedMetric, metric)
	}
	return &Flat{dim: dim, metric: metric}, nil
}

func (f *Flat) Dim() int        { return f.dim }
func (f *Flat) Ntotal() int64   { return int64(len(f.data) / f.dim) }
func (f *Flat) IsTrained() bool { return true }
func (f *Flat) Metric() Metric  { return f.metric }

// Train is a no-op; flat engines need no training.
func (f *Flat) Train(context.Context, int, []float32) error { return nil }

// Add appends n vectors. Cosine vectors are stored normalized.
func (f *Flat) Add(_ context.Context, n int, x []float32) error {
	if len(x) != n*f.dim {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidArgument, n*f.dim, len(x))
	}
	start := len(f.data)
	f.data = append(f.data, x...)
	if f.metric == MetricCosine {
		for i := start; i < len(f.data); i += f.dim {
			normalize(f.data[i : i+f.dim])
		}
	}
	return nil
}

func (f *Flat) row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// query returns query i, normalized into scratch for cosine.
func (f *Flat) query(x []float32, i int, scratch []float32) []float32 {
	q := x[i*f.dim : (i+1)*f.dim]
	if f.metric != MetricCosine {
		return q
	}
	copy(scratch, q)
	normalize(scratch)
	return scratch
}

func (f *Flat) Search(ctx context.Context, n int, x []float32, k int, distances []float32, labels []int64, params *SearchParams) error {
	if err := checkSearchBuffers(n, k, len(distances), len(labels)); err != nil {
		return err
	}
	if len(x) != n*f.dim {
		return fmt.Errorf("%w: expected %d query values, got %d", ErrInvalidArgument, n*f.dim, len(x))
	}
	filter := params.filter()
	total := int(f.Ntotal())

	return parallelFor(ctx, n, func(i int) error {
		top := newTopK(k, f.metric)
		q := f.query(x, i, make([]float32, f.dim))
		for j := 0; j < total; j++ {
			if filter != nil && filter.Test(int64(j)) {
				continue
			}
			top.push(int64(j), floatScore(f.metric, q, f.row(j)))
		}
		top.drain(labels[i*k:(i+1)*k], distances[i*k:(i+1)*k])
		return nil
	})
}

func (f *Flat) RangeSearch(ctx context.Context, n int, x []float32, radius float32, params *SearchParams) (*RangeSearchResult, error) {
	if len(x) != n*f.dim {
		return nil, fmt.Errorf("%w: expected %d query values, got %d", ErrInvalidArgument, n*f.dim, len(x))
	}
	filter := params.filter()
	total := int(f.Ntotal())
	perQuery := make([][]neighbor, n)

	err := parallelFor(ctx, n, func(i int) error {
		q := f.query(x, i, make([]float32, f.dim))
		for j := 0; j < total; j++ {
			if filter != nil && filter.Test(int64(j)) {
				continue
			}
			if s := floatScore(f.metric, q, f.row(j)); inRange(f.metric, s, radius) {
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

func (f *Flat) Reconstruct(id int64, out []float32) error {
	if id < 0 || id >= f.Ntotal() {
		return fmt.Errorf("%w: id %d out of range [0, %d)", ErrInvalidArgument, id, f.Ntotal())
	}
	copy(out, f.row(int(id)))
	return nil
}

func (f *Flat) MemoryUsage() int64 {
	return int64(cap(f.data)) * 4
}

func flattenRange(perQuery [][]neighbor) *RangeSearchResult {
	lims := make([]int, len(perQuery)+1)
	for i, hits := range perQuery {
		lims[i+1] = lims[i] + len(hits)
	}
	res := &RangeSearchResult{
		Lims:      lims,
		Labels:    make([]int64, lims[len(perQuery)]),
		Distances: make([]float32, lims[len(perQuery)]),
	}
	for i, hits := range perQuery {
		for j, h := range hits {
			res.Labels[lims[i]+j] = h.id
			res.Distances[lims[i]+j] = h.score
		}
	}
	return res
}
