package annexec

import (
	"context"
	"time"

	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/index"
)

var _ index.Index = (*Index)(nil)

// Index is an index created by a Runtime. It forwards every call to the
// registered variant and records logs and metrics for the mutating and
// query operations.
type Index struct {
	index.Index

	logger  *Logger
	metrics MetricsCollector
}

// Unwrap returns the variant implementation.
func (x *Index) Unwrap() index.Index { return x.Index }

func rows(ds *dataset.Dataset) int {
	if ds == nil {
		return 0
	}
	return ds.Rows()
}

func setSize(set *binaryset.BinarySet) int64 {
	if set == nil {
		return 0
	}
	return set.Size()
}

func (x *Index) Build(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	start := time.Now()
	err := x.Index.Build(ctx, ds, cfg)
	x.metrics.RecordBuild(rows(ds), time.Since(start), err)
	x.logger.LogBuild(ctx, "build", rows(ds), err)
	return err
}

func (x *Index) Train(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	start := time.Now()
	err := x.Index.Train(ctx, ds, cfg)
	x.metrics.RecordBuild(rows(ds), time.Since(start), err)
	x.logger.LogBuild(ctx, "train", rows(ds), err)
	return err
}

func (x *Index) Add(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	start := time.Now()
	err := x.Index.Add(ctx, ds, cfg)
	x.metrics.RecordBuild(rows(ds), time.Since(start), err)
	x.logger.LogBuild(ctx, "add", rows(ds), err)
	return err
}

func (x *Index) Search(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.Result, error) {
	start := time.Now()
	res, err := x.Index.Search(ctx, q, cfg, filter)
	x.metrics.RecordSearch(rows(q), cfg.K, time.Since(start), err)
	x.logger.LogSearch(ctx, rows(q), cfg.K, err)
	return res, err
}

func (x *Index) RangeSearch(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.RangeResult, error) {
	start := time.Now()
	res, err := x.Index.RangeSearch(ctx, q, cfg, filter)
	var hits int
	if res != nil {
		hits = res.Total()
	}
	x.metrics.RecordRangeSearch(rows(q), hits, time.Since(start), err)
	x.logger.LogRangeSearch(ctx, rows(q), hits, err)
	return res, err
}

func (x *Index) Serialize(ctx context.Context, set *binaryset.BinarySet) error {
	start := time.Now()
	before := setSize(set)
	err := x.Index.Serialize(ctx, set)
	n := setSize(set) - before
	x.metrics.RecordSerialize(n, time.Since(start), err)
	x.logger.LogSerialize(ctx, n, err)
	return err
}

func (x *Index) Deserialize(ctx context.Context, set *binaryset.BinarySet) error {
	start := time.Now()
	err := x.Index.Deserialize(ctx, set)
	x.metrics.RecordDeserialize(setSize(set), time.Since(start), err)
	x.logger.LogDeserialize(ctx, setSize(set), err)
	return err
}
