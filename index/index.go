package index

import (
	"context"
	"log/slog"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/dataset"
	"github.com/hupe1980/annexec/dispatch"
	"github.com/hupe1980/annexec/resource"
	"github.com/hupe1980/annexec/workerpool"
)

// Index is the uniform contract over one vector collection.
//
// Implementations are safe for concurrent use: queries run concurrently with
// each other, mutations are serialized against everything else.
type Index interface {
	// Build trains the index on ds and adds ds to it.
	Build(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error
	// Train prepares the backend structure. Clustering variants fail with
	// ErrAlreadyTrained on a second call.
	Train(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error
	// Add appends ds. Ids are assigned sequentially.
	Add(ctx context.Context, ds *dataset.Dataset, cfg config.Config) error

	// Search returns the cfg.K nearest neighbors of every query row. Ids
	// excluded by filter are never returned.
	Search(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.Result, error)
	// RangeSearch returns every neighbor within cfg.Radius, narrowed by
	// cfg.RangeFilter when set.
	RangeSearch(ctx context.Context, q *dataset.Dataset, cfg config.Config, filter dataset.BitsetView) (*dataset.RangeResult, error)
	// GetVectorByIds returns the stored vectors for the ids of ds.
	GetVectorByIds(ctx context.Context, ds *dataset.Dataset, cfg config.Config) (*dataset.Dataset, error)

	Serialize(ctx context.Context, set *binaryset.BinarySet) error
	Deserialize(ctx context.Context, set *binaryset.BinarySet) error

	Dim() int64
	Count() int64
	// Size estimates the resident bytes of the index.
	Size() int64
	Type() string

	// Close releases the backend structure and any device memory.
	Close() error
}

// Object is the creation context handed to a variant constructor. It carries
// the explicit services an index runs on. Zero fields select defaults.
type Object struct {
	// Pool runs per-query fan-out. Nil selects workerpool.Default().
	Pool *workerpool.Pool
	// Devices is the accelerator pool used by device-resident variants.
	Devices *resource.Pool[backend.Accelerator]
	// Memory accounts result buffers. Nil imposes no limit.
	Memory *resource.Controller
	// Backends builds and (de)serializes engines. Nil selects backend.Native.
	Backends backend.Factory
	// Logger receives warnings. Nil discards.
	Logger *slog.Logger
}

// Factory returns the backend factory.
func (o Object) Factory() backend.Factory {
	if o.Backends == nil {
		return backend.Native
	}
	return o.Backends
}

// Log returns the logger.
func (o Object) Log() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Dispatcher returns a dispatcher over the object's pool and memory budget.
func (o Object) Dispatcher() *dispatch.Dispatcher {
	return dispatch.New(o.Pool, o.Memory, o.Log())
}
