// Package flat provides exact brute-force index variants over dense float
// vectors (FLAT) and packed binary vectors (BIN_FLAT).
//
// Flat variants have no training state: Train allocates the engine for the
// configured metric and dimension, and a second Train is a no-op.
package flat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/dispatch"
	"github.com/hupe1980/annexec/index"
	"github.com/hupe1980/annexec/rangesearch"
)

// Variant names and binary set keys.
const (
	TypeFlat      = "FLAT"
	TypeBinFlat   = "BIN_FLAT"
	TypeBinFlatV2 = "BINFLAT"

	KeyFlat    = "FLAT"
	KeyBinFlat = "BIN_FLAT"
)

func init() {
	index.Register(TypeFlat, func(obj index.Object) (index.Index, error) { return New(obj), nil })
	index.Register(TypeBinFlat, func(obj index.Object) (index.Index, error) { return NewBinary(obj, TypeBinFlat), nil })
	index.Register(TypeBinFlatV2, func(obj index.Object) (index.Index, error) { return NewBinary(obj, TypeBinFlatV2), nil })
}

// Compile-time check to ensure Flat satisfies the index contract.
var _ index.Index = (*Flat)(nil)

// Flat is the exact float vector index.
type Flat struct {
	factory    backend.Factory
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu  sync.RWMutex
	idx backend.Index // nil while empty
}

// New returns an empty FLAT index.
func New(obj index.Object) *Flat {
	return &Flat{
		factory:    obj.Factory(),
		dispatcher: obj.Dispatcher(),
		logger:     obj.Log().With(slog.String("index", TypeFlat)),
	}
}

func (f *Flat) Type() string { return TypeFlat }

// Build trains and populates the index.
func (f *Flat) Build(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := f.Train(ctx, ds, cfg); err != nil {
		return err
	}
	return f.Add(ctx, ds, cfg)
}

// Train allocates the engine. It is a no-op once the engine exists.
func (f *Flat) Train(_ context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := index.CheckDataset(ds, dataset.Float32, 0); err != nil {
		return err
	}
	metric, err := index.Metric(cfg)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx != nil {
		return nil
	}
	idx, err := f.factory.NewFlat(ds.Dim(), metric)
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
	}
	f.idx = idx
	return nil
}

// Add appends ds.
func (f *Flat) Add(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx == nil {
		return index.ErrEmptyIndex
	}
	if err := index.CheckDataset(ds, dataset.Float32, f.idx.Dim()); err != nil {
		return err
	}
	if err := f.idx.Add(dispatch.WithBuildThreads(ctx, cfg), ds.Rows(), ds.Float32()); err != nil {
		return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
	}
	return nil
}

// ready returns the engine for a query, or ErrEmptyIndex. Caller holds mu.
func (f *Flat) ready(ctx context.Context) (backend.Index, error) {
	if f.idx == nil || f.idx.Ntotal() == 0 {
		f.logger.WarnContext(ctx, "search on empty index")
		return nil, index.ErrEmptyIndex
	}
	return f.idx, nil
}

func (f *Flat) Search(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, err := f.ready(ctx)
	if err != nil {
		return nil, err
	}
	if err := index.CheckK(cfg.K); err != nil {
		return nil, err
	}
	if err := index.CheckDataset(q, dataset.Float32, idx.Dim()); err != nil {
		return nil, err
	}
	return f.dispatcher.Search(ctx, idx, q, cfg.K, index.SearchParams(cfg, filter))
}

func (f *Flat) RangeSearch(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.RangeResult, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, err := f.ready(ctx)
	if err != nil {
		return nil, err
	}
	if err := index.CheckDataset(q, dataset.Float32, idx.Dim()); err != nil {
		return nil, err
	}
	return rangesearch.Search(ctx, f.dispatcher, idx, q, cfg, index.SearchParams(cfg, filter))
}

func (f *Flat) GetVectorByIds(_ context.Context, ds *dataset.Dataset, _ config.Config) (*dataset.Dataset, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.idx == nil {
		return nil, index.ErrEmptyIndex
	}
	ids, err := index.CheckIDs(ds, f.idx.Ntotal())
	if err != nil {
		return nil, err
	}
	dim := f.idx.Dim()
	out := make([]float32, len(ids)*dim)
	for i, id := range ids {
		if err := f.idx.Reconstruct(id, out[i*dim:(i+1)*dim]); err != nil {
			return nil, fmt.Errorf("%w: %w", index.ErrBackendInner, err)
		}
	}
	return dataset.FromFloat32(len(ids), dim, out)
}

func (f *Flat) Serialize(_ context.Context, set *binaryset.BinarySet) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.idx == nil {
		return index.ErrEmptyIndex
	}
	return index.WriteSegment(set, KeyFlat, f.idx.MemoryUsage(), func(w io.Writer) error {
		return f.factory.Write(w, f.idx)
	})
}

func (f *Flat) Deserialize(_ context.Context, set *binaryset.BinarySet) error {
	r, err := index.ReadSegment(set, KeyFlat)
	if err != nil {
		return err
	}
	idx, err := f.factory.Read(r)
	if err != nil {
		return index.DeserializeError(KeyFlat, err)
	}

	f.mu.Lock()
	f.idx = idx
	f.mu.Unlock()
	return nil
}

func (f *Flat) Dim() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.idx == nil {
		return 0
	}
	return int64(f.idx.Dim())
}

func (f *Flat) Count() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.idx == nil {
		return 0
	}
	return f.idx.Ntotal()
}

func (f *Flat) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.idx == nil {
		return 0
	}
	return f.idx.MemoryUsage()
}

// Close drops the engine. The index is empty afterwards.
func (f *Flat) Close() error {
	f.mu.Lock()
	f.idx = nil
	f.mu.Unlock()
	return nil
}
