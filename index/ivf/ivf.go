// Package ivf provides inverted-file index variants: IVF_FLAT keeps raw
// vectors in its lists, IVF_PQ product-quantized codes and IVF_SQ8 8-bit
// scalar-quantized codes.
//
// IVF variants are stateful: Train learns nlist coarse centroids (and the
// quantizer) once, and a second Train fails with index.ErrAlreadyTrained.
// Search visits the nprobe lists closest to each query.
package ivf

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

// Variant names and the binary set key shared by all IVF variants.
const (
	TypeIVFFlat = "IVF_FLAT"
	TypeIVFPQ   = "IVF_PQ"
	TypeIVFSQ8  = "IVF_SQ8"

	Key = "IVF"
)

func init() {
	for name, enc := range map[string]backend.IVFEncoding{
		TypeIVFFlat: backend.IVFFlatEncoding,
		TypeIVFPQ:   backend.IVFPQEncoding,
		TypeIVFSQ8:  backend.IVFSQ8Encoding,
	} {
		index.Register(name, func(obj index.Object) (index.Index, error) {
			return New(obj, name, enc), nil
		})
	}
}

// Params maps the configuration onto engine parameters for enc.
func Params(cfg config.Config, enc backend.IVFEncoding) backend.IVFParams {
	p := backend.IVFParams{Nlist: cfg.Nlist, Encoding: enc}
	if enc == backend.IVFPQEncoding {
		p.M = cfg.M
		p.Nbits = cfg.Nbits
	}
	return p
}

// CheckEncoding verifies that a deserialized engine matches enc. Engines
// from foreign factories are accepted as they are.
func CheckEncoding(idx backend.Index, enc backend.IVFEncoding) error {
	if x, ok := idx.(*backend.IVF); ok && x.Encoding() != enc {
		return fmt.Errorf("%w: segment holds IVF %s, index is IVF %s", index.ErrInvalidArgs, x.Encoding(), enc)
	}
	return nil
}

var _ index.Index = (*IVF)(nil)

// IVF is an inverted-file index.
type IVF struct {
	name       string
	encoding   backend.IVFEncoding
	factory    backend.Factory
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu  sync.RWMutex
	idx backend.Index // nil until trained
}

// New returns an untrained IVF index storing lists with enc.
func New(obj index.Object, name string, enc backend.IVFEncoding) *IVF {
	return &IVF{
		name:       name,
		encoding:   enc,
		factory:    obj.Factory(),
		dispatcher: obj.Dispatcher(),
		logger:     obj.Log().With(slog.String("index", name)),
	}
}

func (x *IVF) Type() string { return x.name }

func (x *IVF) Build(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := x.Train(ctx, ds, cfg); err != nil {
		return err
	}
	return x.Add(ctx, ds, cfg)
}

// Train clusters ds into cfg.Nlist lists. The trained engine is published
// only if training succeeds.
func (x *IVF) Train(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := index.CheckDataset(ds, dataset.Float32, 0); err != nil {
		return err
	}
	metric, err := index.Metric(cfg)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.idx != nil {
		return index.ErrAlreadyTrained
	}
	idx, err := x.factory.NewIVF(ds.Dim(), metric, Params(cfg, x.encoding))
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrInvalidArgs, err)
	}
	if err := idx.Train(dispatch.WithBuildThreads(ctx, cfg), ds.Rows(), ds.Float32()); err != nil {
		x.logger.WarnContext(ctx, "train failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
	}
	x.idx = idx
	return nil
}

func (x *IVF) Add(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.idx == nil {
		return index.ErrNotTrained
	}
	if err := index.CheckDataset(ds, dataset.Float32, x.idx.Dim()); err != nil {
		return err
	}
	if err := x.idx.Add(dispatch.WithBuildThreads(ctx, cfg), ds.Rows(), ds.Float32()); err != nil {
		return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
	}
	return nil
}

func (x *IVF) ready(ctx context.Context, q *dataset.Dataset) (backend.Index, error) {
	if x.idx == nil || x.idx.Ntotal() == 0 {
		x.logger.WarnContext(ctx, "search on empty index")
		return nil, index.ErrEmptyIndex
	}
	if err := index.CheckDataset(q, dataset.Float32, x.idx.Dim()); err != nil {
		return nil, err
	}
	return x.idx, nil
}

func (x *IVF) Search(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	idx, err := x.ready(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := index.CheckK(cfg.K); err != nil {
		return nil, err
	}
	return x.dispatcher.Search(ctx, idx, q, cfg.K, index.SearchParams(cfg, filter))
}

func (x *IVF) RangeSearch(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.RangeResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	idx, err := x.ready(ctx, q)
	if err != nil {
		return nil, err
	}
	return rangesearch.Search(ctx, x.dispatcher, idx, q, cfg, index.SearchParams(cfg, filter))
}

// GetVectorByIds is supported by IVF_FLAT only; quantized lists hold lossy
// codes.
func (x *IVF) GetVectorByIds(_ context.Context, ds *dataset.Dataset, _ config.Config) (*dataset.Dataset, error) {
	if x.encoding != backend.IVFFlatEncoding {
		return nil, fmt.Errorf("%w: %s does not store raw vectors", index.ErrNotImplemented, x.name)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx == nil {
		return nil, index.ErrEmptyIndex
	}
	ids, err := index.CheckIDs(ds, x.idx.Ntotal())
	if err != nil {
		return nil, err
	}
	dim := x.idx.Dim()
	out := make([]float32, len(ids)*dim)
	for i, id := range ids {
		if err := x.idx.Reconstruct(id, out[i*dim:(i+1)*dim]); err != nil {
			return nil, fmt.Errorf("%w: %w", index.ErrBackendInner, err)
		}
	}
	return dataset.FromFloat32(len(ids), dim, out)
}

func (x *IVF) Serialize(_ context.Context, set *binaryset.BinarySet) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx == nil {
		return index.ErrEmptyIndex
	}
	return index.WriteSegment(set, Key, x.idx.MemoryUsage(), func(w io.Writer) error {
		return x.factory.Write(w, x.idx)
	})
}

func (x *IVF) Deserialize(_ context.Context, set *binaryset.BinarySet) error {
	r, err := index.ReadSegment(set, Key)
	if err != nil {
		return err
	}
	idx, err := x.factory.Read(r)
	if err != nil {
		return index.DeserializeError(Key, err)
	}
	if err := CheckEncoding(idx, x.encoding); err != nil {
		return err
	}
	x.mu.Lock()
	x.idx = idx
	x.mu.Unlock()
	return nil
}

func (x *IVF) Dim() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx == nil {
		return 0
	}
	return int64(x.idx.Dim())
}

func (x *IVF) Count() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx == nil {
		return 0
	}
	return x.idx.Ntotal()
}

func (x *IVF) Size() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx == nil {
		return 0
	}
	return x.idx.MemoryUsage()
}

func (x *IVF) Close() error {
	x.mu.Lock()
	x.idx = nil
	x.mu.Unlock()
	return nil
}
