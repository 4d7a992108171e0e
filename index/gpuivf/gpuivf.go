// Package gpuivf provides inverted-file index variants resident on an
// accelerator: GPU_IVF_FLAT, GPU_IVF_PQ and GPU_IVF_SQ8.
//
// Training happens on the host; the trained engine is then uploaded to a
// device leased from index.Object.Devices. The index keeps a reference to
// that device and re-leases it for every later operation: exclusively for
// Add and Deserialize, shared for Search and Serialize. Queries run in
// sequential blocks rather than per-query fan-out.
//
// Range search and GetVectorByIds are not implemented.
package gpuivf

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
	"github.com/hupe1980/annexec/index/ivf"
	"github.com/hupe1980/annexec/resource"
)

// Variant names. The binary set key is shared with the host IVF variants,
// so a serialized GPU index can be loaded on the host and vice versa.
const (
	TypeGPUIVFFlat = "GPU_IVF_FLAT"
	TypeGPUIVFPQ   = "GPU_IVF_PQ"
	TypeGPUIVFSQ8  = "GPU_IVF_SQ8"

	Key = ivf.Key
)

func init() {
	for name, enc := range map[string]backend.IVFEncoding{
		TypeGPUIVFFlat: backend.IVFFlatEncoding,
		TypeGPUIVFPQ:   backend.IVFPQEncoding,
		TypeGPUIVFSQ8:  backend.IVFSQ8Encoding,
	} {
		index.Register(name, func(obj index.Object) (index.Index, error) {
			return New(obj, name, enc), nil
		})
	}
}

type devicePool = resource.Pool[backend.Accelerator]

type device = resource.Device[backend.Accelerator]

type lease = resource.Lease[backend.Accelerator]

var _ index.Index = (*GPUIVF)(nil)

// GPUIVF is a device-resident inverted-file index.
type GPUIVF struct {
	name       string
	encoding   backend.IVFEncoding
	factory    backend.Factory
	devices    *devicePool
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	blockSize  int

	mu  sync.RWMutex
	dev *device             // device the engine lives on; nil while empty
	idx backend.DeviceIndex // nil until trained
}

// New returns an untrained index that will be placed on obj.Devices.
func New(obj index.Object, name string, enc backend.IVFEncoding) *GPUIVF {
	return &GPUIVF{
		name:       name,
		encoding:   enc,
		factory:    obj.Factory(),
		devices:    obj.Devices,
		dispatcher: obj.Dispatcher(),
		logger:     obj.Log().With(slog.String("index", name)),
		blockSize:  dispatch.DefaultBlockSize,
	}
}

func (g *GPUIVF) Type() string { return g.name }

func (g *GPUIVF) Build(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := g.Train(ctx, ds, cfg); err != nil {
		return err
	}
	return g.Add(ctx, ds, cfg)
}

// upload places host on the device held by l.
func (g *GPUIVF) upload(ctx context.Context, l *lease, host backend.Index) (backend.DeviceIndex, error) {
	acc := l.Handle()
	di, err := acc.Upload(ctx, host)
	if err != nil {
		g.logger.WarnContext(ctx, "upload failed", slog.String("device", acc.Name()), slog.String("error", err.Error()))
		return nil, fmt.Errorf("upload to %s: %w", acc.Name(), err)
	}
	return di, nil
}

// Train trains a host engine, then leases a device exclusively and uploads
// it. Device acquisition happens before any training work starts.
func (g *GPUIVF) Train(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	if err := index.CheckDataset(ds, dataset.Float32, 0); err != nil {
		return err
	}
	metric, err := index.Metric(cfg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx != nil {
		return index.ErrAlreadyTrained
	}

	return g.devices.Do(ctx, resource.Exclusive, func(ctx context.Context, l *lease) error {
		host, err := g.factory.NewIVF(ds.Dim(), metric, ivf.Params(cfg, g.encoding))
		if err != nil {
			return fmt.Errorf("%w: %w", index.ErrInvalidArgs, err)
		}
		if err := host.Train(dispatch.WithBuildThreads(ctx, cfg), ds.Rows(), ds.Float32()); err != nil {
			return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
		}
		di, err := g.upload(ctx, l, host)
		if err != nil {
			return err
		}
		g.idx = di
		g.dev = l.Device()
		return nil
	})
}

func (g *GPUIVF) Add(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx == nil {
		return index.ErrNotTrained
	}
	if err := index.CheckDataset(ds, dataset.Float32, g.idx.Dim()); err != nil {
		return err
	}
	return g.devices.DoDevice(ctx, g.dev, resource.Exclusive, func(ctx context.Context, _ *lease) error {
		if err := g.idx.Add(dispatch.WithBuildThreads(ctx, cfg), ds.Rows(), ds.Float32()); err != nil {
			return fmt.Errorf("%w: %w", index.ErrBackendInner, err)
		}
		return nil
	})
}

func (g *GPUIVF) Search(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil || g.idx.Ntotal() == 0 {
		g.logger.WarnContext(ctx, "search on empty index")
		return nil, index.ErrEmptyIndex
	}
	if err := index.CheckK(cfg.K); err != nil {
		return nil, err
	}
	if err := index.CheckDataset(q, dataset.Float32, g.idx.Dim()); err != nil {
		return nil, err
	}

	var res *dataset.Result
	err := g.devices.DoDevice(ctx, g.dev, resource.Shared, func(ctx context.Context, _ *lease) error {
		var err error
		res, err = g.dispatcher.SearchBlocks(dispatch.WithQueryThreads(ctx, cfg), g.idx, q, cfg.K, index.SearchParams(cfg, filter), g.blockSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RangeSearch is not implemented for device-resident engines.
func (g *GPUIVF) RangeSearch(context.Context, *dataset.Dataset, config.Config, dataset.BitsetView) (*dataset.RangeResult, error) {
	return nil, fmt.Errorf("%w: range search on %s", index.ErrNotImplemented, g.name)
}

// GetVectorByIds is not implemented for device-resident engines.
func (g *GPUIVF) GetVectorByIds(context.Context, *dataset.Dataset, config.Config) (*dataset.Dataset, error) {
	return nil, fmt.Errorf("%w: get vector by ids on %s", index.ErrNotImplemented, g.name)
}

// Serialize downloads a host copy of the engine under a shared lease and
// writes it.
func (g *GPUIVF) Serialize(ctx context.Context, set *binaryset.BinarySet) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil {
		return index.ErrEmptyIndex
	}
	return g.devices.DoDevice(ctx, g.dev, resource.Shared, func(ctx context.Context, _ *lease) error {
		host, err := g.idx.Download(ctx)
		if err != nil {
			return fmt.Errorf("%w: download: %w", index.ErrBackendInner, err)
		}
		return index.WriteSegment(set, Key, host.MemoryUsage(), func(w io.Writer) error {
			return g.factory.Write(w, host)
		})
	})
}

// Deserialize rebuilds the engine on the host and uploads it under a fresh
// exclusive lease. The previous engine is freed only after the upload
// succeeded.
func (g *GPUIVF) Deserialize(ctx context.Context, set *binaryset.BinarySet) error {
	r, err := index.ReadSegment(set, Key)
	if err != nil {
		return err
	}
	host, err := g.factory.Read(r)
	if err != nil {
		return index.DeserializeError(Key, err)
	}
	if err := ivf.CheckEncoding(host, g.encoding); err != nil {
		return err
	}

	var (
		di  backend.DeviceIndex
		dev *device
	)
	err = g.devices.Do(ctx, resource.Exclusive, func(ctx context.Context, l *lease) error {
		var err error
		di, err = g.upload(ctx, l, host)
		dev = l.Device()
		return err
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	old := g.idx
	g.idx, g.dev = di, dev
	g.mu.Unlock()
	if old != nil {
		old.Free()
	}
	return nil
}

func (g *GPUIVF) Dim() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil {
		return 0
	}
	return int64(g.idx.Dim())
}

func (g *GPUIVF) Count() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil {
		return 0
	}
	return g.idx.Ntotal()
}

func (g *GPUIVF) Size() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil {
		return 0
	}
	return g.idx.MemoryUsage()
}

// Device returns the device the index was placed on, or nil while empty.
func (g *GPUIVF) Device() *resource.Device[backend.Accelerator] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dev
}

// Close frees the device memory. The index is empty afterwards.
func (g *GPUIVF) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx != nil {
		g.idx.Free()
	}
	g.idx, g.dev = nil, nil
	return nil
}
