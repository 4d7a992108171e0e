package annexec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/index"
	"github.com/hupe1980/annexec/persistence"
	"github.com/hupe1980/annexec/resource"
	"github.com/hupe1980/annexec/workerpool"

	// Register every built-in variant.
	_ "github.com/hupe1980/annexec/index/all"
)

// Runtime owns the process services indexes run on: the shared worker pool,
// the accelerator pool, the host memory budget and, optionally, a blob store
// for persistence. Indexes created by one Runtime share all of them.
//
// A Runtime is safe for concurrent use.
type Runtime struct {
	obj     index.Object
	logger  *Logger
	metrics MetricsCollector
	persist *persistence.Manager // nil without a store
}

// New creates a Runtime.
//
// Example:
//
//	rt := annexec.New(annexec.WithWorkers(8), annexec.WithMemoryLimit(1<<30))
//	idx, _ := rt.Create("IVF_FLAT")
func New(optFns ...Option) *Runtime {
	o := applyOptions(optFns)

	rc := resource.NewController(o.resources)
	rt := &Runtime{
		obj: index.Object{
			Pool:     workerpool.New(o.workers),
			Memory:   rc,
			Backends: o.backends,
			Logger:   o.logger.Logger,
		},
		logger:  o.logger,
		metrics: o.metricsCollector,
	}
	if len(o.accelerators) > 0 {
		rt.obj.Devices = resource.NewPool(o.accelerators, o.poolOptions...)
	}
	if o.store != nil {
		rt.persist = persistence.NewManager(o.store, persistence.ManagerOptions{
			Controller:  rc,
			Compression: o.compression,
			Logger:      o.logger.Logger,
		})
	}
	return rt
}

// Object returns the creation context handed to variant constructors.
func (r *Runtime) Object() index.Object { return r.obj }

// Types returns the registered index type names in sorted order.
func (r *Runtime) Types() []string { return index.Names() }

// Backend returns the name of the engine factory in use.
func (r *Runtime) Backend() string { return r.obj.Factory().Name() }

// Devices returns a load snapshot of every accelerator.
func (r *Runtime) Devices() []resource.DeviceStats { return r.obj.Devices.Stats() }

// Accelerators returns the registered accelerators.
func (r *Runtime) Accelerators() []backend.Accelerator {
	devs := r.obj.Devices.Devices()
	out := make([]backend.Accelerator, len(devs))
	for i, d := range devs {
		out[i] = d.Handle()
	}
	return out
}

// MemoryUsage returns the host memory currently reserved for result buffers.
func (r *Runtime) MemoryUsage() int64 { return r.obj.Memory.MemoryUsage() }

// Store returns the configured blob store, or nil.
func (r *Runtime) Store() blobstore.BlobStore {
	if r.persist == nil {
		return nil
	}
	return r.persist.Store()
}

// Create returns a new empty index of the named type.
func (r *Runtime) Create(name string) (*Index, error) {
	idx, err := index.Create(name, r.obj)
	if err != nil {
		r.logger.WarnContext(context.Background(), "create failed",
			slog.String("index", name),
			slog.String("error", err.Error()))
		return nil, err
	}
	return r.wrap(idx), nil
}

func (r *Runtime) wrap(idx index.Index) *Index {
	return &Index{
		Index:   idx,
		logger:  r.logger.WithIndex(idx.Type()),
		metrics: r.metrics,
	}
}

// Save serializes idx and writes it to the blob store as one container
// named name.
func (r *Runtime) Save(ctx context.Context, name string, idx index.Index) error {
	err := r.save(ctx, name, idx, false)
	r.logger.LogSave(ctx, name, err)
	return err
}

// SaveSegments is Save with one container per segment under prefix.
// Segments are uploaded in parallel, bounded by WithTransfers.
func (r *Runtime) SaveSegments(ctx context.Context, prefix string, idx index.Index) error {
	err := r.save(ctx, prefix, idx, true)
	r.logger.LogSave(ctx, prefix, err)
	return err
}

func (r *Runtime) save(ctx context.Context, name string, idx index.Index, split bool) error {
	if r.persist == nil {
		return ErrNoStore
	}
	set := binaryset.New()
	if err := idx.Serialize(ctx, set); err != nil {
		return err
	}
	if split {
		return translateError(r.persist.SaveSplit(ctx, name, set))
	}
	return translateError(r.persist.Save(ctx, name, set))
}

// Load reads the container written by Save and reconstructs an index of
// type indexType from it.
func (r *Runtime) Load(ctx context.Context, name, indexType string) (*Index, error) {
	idx, err := r.load(ctx, name, indexType, false)
	r.logger.LogLoad(ctx, name, err)
	return idx, err
}

// LoadSegments reads the containers written by SaveSegments.
func (r *Runtime) LoadSegments(ctx context.Context, prefix, indexType string) (*Index, error) {
	idx, err := r.load(ctx, prefix, indexType, true)
	r.logger.LogLoad(ctx, prefix, err)
	return idx, err
}

func (r *Runtime) load(ctx context.Context, name, indexType string, split bool) (*Index, error) {
	if r.persist == nil {
		return nil, ErrNoStore
	}
	idx, err := r.Create(indexType)
	if err != nil {
		return nil, err
	}

	var set *binaryset.BinarySet
	if split {
		set, err = r.persist.LoadSplit(ctx, name)
	} else {
		set, err = r.persist.Load(ctx, name)
	}
	if err != nil {
		_ = idx.Close()
		return nil, translateError(err)
	}
	if err := idx.Deserialize(ctx, set); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	return idx, nil
}

// Delete removes a container written by Save.
func (r *Runtime) Delete(ctx context.Context, name string) error {
	if r.persist == nil {
		return ErrNoStore
	}
	return translateError(r.persist.Delete(ctx, name))
}
