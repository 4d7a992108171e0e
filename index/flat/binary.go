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

var _ index.Index = (*Binary)(nil)

// Binary is the exact index over packed binary vectors. Dim counts bits.
// Hamming distances are computed as integers and reported as floats.
type Binary struct {
	name       string
	factory    backend.Factory
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu  sync.RWMutex
	idx backend.BinaryIndex
}

// NewBinary returns an empty binary index registered under name.
func NewBinary(obj index.Object, name string) *Binary {
	return &Binary{
		name:       name,
		factory:    obj.Factory(),
		dispatcher: obj.Dispatcher(),
		logger:     obj.Log().With(slog.String("index", name)),
	}
}

func (b *Binary) Type() string { return b.name }

func (b *Binary) Build(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := b.Train(ctx, ds, cfg); err != nil {
		return err
	}
	return b.Add(ctx, ds, cfg)
}

func (b *Binary) Train(_ context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := index.CheckDataset(ds, dataset.Binary, 0); err != nil {
		return err
	}
	metric, err := index.Metric(cfg)
	if err != nil {
		return err
	}
	if !metric.Binary() {
		return fmt.Errorf("%w: %s is not a binary metric", index.ErrInvalidMetric, metric)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx != nil {
		return nil
	}
	idx, err := b.factory.NewBinaryFlat(ds.Dim(), metric)
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
	}
	b.idx = idx
	return nil
}

func (b *Binary) Add(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx == nil {
		return index.ErrEmptyIndex
	}
	if err := index.CheckDataset(ds, dataset.Binary, b.idx.Dim()); err != nil {
		return err
	}
	if err := b.idx.Add(dispatch.WithBuildThreads(ctx, cfg), ds.Rows(), ds.Binary()); err != nil {
		return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
	}
	return nil
}

func (b *Binary) ready(ctx context.Context, q *dataset.Dataset) (backend.BinaryIndex, error) {
	if b.idx == nil || b.idx.Ntotal() == 0 {
		b.logger.WarnContext(ctx, "search on empty index")
		return nil, index.ErrEmptyIndex
	}
	if err := index.CheckDataset(q, dataset.Binary, b.idx.Dim()); err != nil {
		return nil, err
	}
	return b.idx, nil
}

func (b *Binary) Search(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.ready(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := index.CheckK(cfg.K); err != nil {
		return nil, err
	}
	return b.dispatcher.SearchBinary(ctx, idx, q, cfg.K, index.SearchParams(cfg, filter))
}

func (b *Binary) RangeSearch(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.RangeResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.ready(ctx, q)
	if err != nil {
		return nil, err
	}
	return rangesearch.SearchBinary(ctx, b.dispatcher, idx, q, cfg, index.SearchParams(cfg, filter))
}

func (b *Binary) GetVectorByIds(_ context.Context, ds *dataset.Dataset, _ config.Config) (*dataset.Dataset, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.idx == nil {
		return nil, index.ErrEmptyIndex
	}
	ids, err := index.CheckIDs(ds, b.idx.Ntotal())
	if err != nil {
		return nil, err
	}
	dim := b.idx.Dim()
	codeSize := dim / 8
	out := make([]byte, len(ids)*codeSize)
	for i, id := range ids {
		if err := b.idx.Reconstruct(id, out[i*codeSize:(i+1)*codeSize]); err != nil {
			return nil, fmt.Errorf("%w: %w", index.ErrBackendInner, err)
		}
	}
	return dataset.FromBinary(len(ids), dim, out)
}

func (b *Binary) Serialize(_ context.Context, set *binaryset.BinarySet) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.idx == nil {
		return index.ErrEmptyIndex
	}
	return index.WriteSegment(set, KeyBinFlat, b.idx.MemoryUsage(), func(w io.Writer) error {
		return b.factory.WriteBinary(w, b.idx)
	})
}

func (b *Binary) Deserialize(_ context.Context, set *binaryset.BinarySet) error {
	r, err := index.ReadSegment(set, KeyBinFlat)
	if err != nil {
		return err
	}
	idx, err := b.factory.ReadBinary(r)
	if err != nil {
		return index.DeserializeError(KeyBinFlat, err)
	}
	b.mu.Lock()
	b.idx = idx
	b.mu.Unlock()
	return nil
}

func (b *Binary) Dim() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.idx == nil {
		return 0
	}
	return int64(b.idx.Dim())
}

func (b *Binary) Count() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.idx == nil {
		return 0
	}
	return b.idx.Ntotal()
}

func (b *Binary) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.idx == nil {
		return 0
	}
	return b.idx.MemoryUsage()
}

func (b *Binary) Close() error {
	b.mu.Lock()
	b.idx = nil
	b.mu.Unlock()
	return nil
}
