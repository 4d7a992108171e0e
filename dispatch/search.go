package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/dataset"
)

const (
	resultEntryBytes = 8 + 4 // int64 id + float32 distance

	// MaxResultEntries bounds rows*k of a single fixed-k call.
	MaxResultEntries = 1 << 26
)

// reserveResult checks that rows*k result entries fit MaxResultEntries and
// reserves entryBytes per entry against the memory controller.
func (d *Dispatcher) reserveResult(rows, k int, entryBytes int64) (release func(), err error) {
	if rows < 0 || k < 0 || (k > 0 && rows > MaxResultEntries/k) {
		return nil, fmt.Errorf("%w: %d queries x %d neighbors exceeds %d result entries",
			ErrAllocationFailure, rows, k, MaxResultEntries)
	}
	return d.Reserve(int64(rows*k) * entryBytes)
}

// Search runs a fixed-k search with one unit per query. Unit i writes
// exactly [i*k, (i+1)*k) of the result.
func (d *Dispatcher) Search(ctx context.Context, idx backend.Index, q *dataset.Dataset, k int, params *backend.SearchParams) (*dataset.Result, error) {
	rows := q.Rows()
	release, err := d.reserveResult(rows, k, resultEntryBytes)
	if err != nil {
		return nil, err
	}
	defer release()

	res := dataset.NewResult(rows, k)
	err = d.Run(ctx, rows, func(ctx context.Context, i int) error {
		ids, dist := res.Row(i)
		return idx.Search(ctx, 1, q.Row(i), k, dist, ids, params)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SearchBinary runs a fixed-k search over a binary engine. Engines with
// integer distances write into a separate integer scratch buffer whose
// values are converted into the float result afterwards; the result buffer
// is never reinterpreted in place.
func (d *Dispatcher) SearchBinary(ctx context.Context, idx backend.BinaryIndex, q *dataset.Dataset, k int, params *backend.SearchParams) (*dataset.Result, error) {
	rows := q.Rows()
	intDist := idx.Metric().IntegerDistance()
	entryBytes := int64(resultEntryBytes)
	if intDist {
		entryBytes += 4
	}
	release, err := d.reserveResult(rows, k, entryBytes)
	if err != nil {
		return nil, err
	}
	defer release()

	res := dataset.NewResult(rows, k)
	var scratch []int32
	if intDist {
		scratch = make([]int32, rows*k)
	}
	err = d.Run(ctx, rows, func(ctx context.Context, i int) error {
		ids, dist := res.Row(i)
		out := backend.Distances{Float: dist}
		if intDist {
			out = backend.Distances{Int: scratch[i*k : (i+1)*k]}
		}
		return idx.Search(ctx, 1, q.BinaryRow(i), k, out, ids, params)
	})
	if err != nil {
		return nil, err
	}
	if intDist {
		convertIntDistances(res, scratch)
	}
	return res, nil
}

func convertIntDistances(res *dataset.Result, scratch []int32) {
	inf := float32(math.Inf(1))
	for i, v := range scratch {
		if res.IDs[i] < 0 {
			res.Distances[i] = inf
			continue
		}
		res.Distances[i] = float32(v)
	}
}

// SearchBlocks runs a fixed-k search in sequential blocks of blockSize
// queries, for engines that prefer large batches (accelerator-resident
// engines). The engine's own parallelism is governed by ctx. blockSize <= 0
// selects DefaultBlockSize.
func (d *Dispatcher) SearchBlocks(ctx context.Context, idx backend.Index, q *dataset.Dataset, k int, params *backend.SearchParams, blockSize int) (*dataset.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	rows, dim := q.Rows(), q.Dim()
	release, err := d.reserveResult(rows, k, resultEntryBytes)
	if err != nil {
		return nil, err
	}
	defer release()

	res := dataset.NewResult(rows, k)
	x := q.Float32()
	for start := 0; start < rows; start += blockSize {
		end := min(start+blockSize, rows)
		n := end - start
		err := idx.Search(ctx, n, x[start*dim:end*dim], k, res.Distances[start*k:end*k], res.IDs[start*k:end*k], params)
		if err != nil {
			return nil, fmt.Errorf("%w: block [%d, %d): %w", ErrBackendInner, start, end, err)
		}
	}
	return res, nil
}
