// Package rangesearch runs per-query range searches through the dispatcher,
// applies the optional secondary range filter and merges the per-query hit
// lists into one flat, offset-indexed result.
package rangesearch

import (
	"context"
	"fmt"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/dispatch"
)

// Hits is the private hit list of one query.
type Hits struct {
	IDs       []int64
	Distances []float32
}

// Len returns the number of hits.
func (h Hits) Len() int { return len(h.IDs) }

// FromBackend extracts query i of a backend range result.
func FromBackend(res *backend.RangeSearchResult, i int) Hits {
	lo, hi := res.Lims[i], res.Lims[i+1]
	return Hits{IDs: res.Labels[lo:hi], Distances: res.Distances[lo:hi]}
}

// Filter applies the secondary bound to hits that already satisfy radius.
// Similarity metrics keep scores in (radius, rangeFilter]; distance metrics
// keep scores in [rangeFilter, radius). The relative order of kept hits is
// preserved. The input is not modified.
func Filter(h Hits, metric backend.Metric, rangeFilter float32) Hits {
	out := Hits{
		IDs:       make([]int64, 0, h.Len()),
		Distances: make([]float32, 0, h.Len()),
	}
	higher := metric.HigherIsCloser()
	for i, d := range h.Distances {
		if higher && d > rangeFilter {
			continue
		}
		if !higher && d < rangeFilter {
			continue
		}
		out.IDs = append(out.IDs, h.IDs[i])
		out.Distances = append(out.Distances, d)
	}
	return out
}

// Merge concatenates per-query hit lists in query order. Offsets are the
// prefix sum of the list lengths, starting at zero.
func Merge(perQuery []Hits) *dataset.RangeResult {
	offsets := make([]int, len(perQuery)+1)
	for i, h := range perQuery {
		offsets[i+1] = offsets[i] + h.Len()
	}
	total := offsets[len(perQuery)]
	res := &dataset.RangeResult{
		Rows:      len(perQuery),
		IDs:       make([]int64, total),
		Distances: make([]float32, total),
		Offsets:   offsets,
	}
	for i, h := range perQuery {
		copy(res.IDs[offsets[i]:], h.IDs)
		copy(res.Distances[offsets[i]:], h.Distances)
	}
	return res
}

// hitBytes is the merged footprint of one hit: an int64 id and a float32
// distance.
const hitBytes = 8 + 4

// QueryFunc runs the range search of query i.
type QueryFunc func(ctx context.Context, i int) (Hits, error)

// Aggregate drives rows independent range searches through d, filters each
// list when cfg carries a range filter, and merges the lists. The merged
// result is reserved against the dispatcher's memory controller first.
func Aggregate(ctx context.Context, d *dispatch.Dispatcher, rows int, metric backend.Metric, cfg config.Config, query QueryFunc) (*dataset.RangeResult, error) {
	perQuery := make([]Hits, rows)
	err := d.Run(ctx, rows, func(ctx context.Context, i int) error {
		h, err := query(ctx, i)
		if err != nil {
			return err
		}
		if cfg.HasRangeFilter() {
			h = Filter(h, metric, *cfg.RangeFilter)
		}
		perQuery[i] = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	total := int64(0)
	for _, h := range perQuery {
		total += int64(h.Len())
	}
	release, err := d.Reserve(total*hitBytes + int64(rows+1)*8)
	if err != nil {
		return nil, fmt.Errorf("%w: merging %d range hits", err, total)
	}
	defer release()
	return Merge(perQuery), nil
}

// Search range-searches a float engine, one query per unit.
func Search(ctx context.Context, d *dispatch.Dispatcher, idx backend.Index, q *dataset.Dataset, cfg config.Config, params *backend.SearchParams) (*dataset.RangeResult, error) {
	return Aggregate(ctx, d, q.Rows(), idx.Metric(), cfg, func(ctx context.Context, i int) (Hits, error) {
		res, err := idx.RangeSearch(ctx, 1, q.Row(i), cfg.Radius, params)
		if err != nil {
			return Hits{}, err
		}
		return FromBackend(res, 0), nil
	})
}

// SearchBinary range-searches a binary engine, one query per unit.
func SearchBinary(ctx context.Context, d *dispatch.Dispatcher, idx backend.BinaryIndex, q *dataset.Dataset, cfg config.Config, params *backend.SearchParams) (*dataset.RangeResult, error) {
	return Aggregate(ctx, d, q.Rows(), idx.Metric(), cfg, func(ctx context.Context, i int) (Hits, error) {
		res, err := idx.RangeSearch(ctx, 1, q.BinaryRow(i), cfg.Radius, params)
		if err != nil {
			return Hits{}, err
		}
		return FromBackend(res, 0), nil
	})
}
