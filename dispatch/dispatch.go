// Package dispatch fans a batch of queries out over the shared worker pool,
// one unit per query, writing each unit's output into a disjoint slice of a
// pre-sized result buffer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/config"
	"github.com/hupe1980/annexec/resource"
	"github.com/hupe1980/annexec/workerpool"
)

var (
	// ErrBackendInner is returned when any unit of a fan-out fails or panics.
	// It wraps the first failure.
	ErrBackendInner = errors.New("backend inner error")
	// ErrAllocationFailure is returned when result buffers cannot be reserved.
	ErrAllocationFailure = errors.New("allocation failure")
)

// DefaultBlockSize is the number of queries per block in SearchBlocks.
const DefaultBlockSize = 2048

// Unit processes query i. The context it receives carries a backend thread
// budget of one.
type Unit func(ctx context.Context, i int) error

// Dispatcher runs per-query fan-outs on a shared worker pool.
type Dispatcher struct {
	pool   *workerpool.Pool
	mem    *resource.Controller
	logger *slog.Logger
}

// New creates a dispatcher. A nil pool selects workerpool.Default(); a nil
// controller imposes no memory limit; a nil logger discards.
func New(pool *workerpool.Pool, mem *resource.Controller, logger *slog.Logger) *Dispatcher {
	if pool == nil {
		pool = workerpool.Default()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{pool: pool, mem: mem, logger: logger}
}

// Pool returns the worker pool.
func (d *Dispatcher) Pool() *workerpool.Pool { return d.pool }

// Run submits one unit per row and blocks until all of them have finished.
// A canceled ctx is honoured only before dispatch; in-flight units are never
// abandoned. Any failure yields ErrBackendInner and the caller must discard
// the partially written buffers.
func (d *Dispatcher) Run(ctx context.Context, rows int, unit Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	futures := make([]*workerpool.Future, rows)
	for i := 0; i < rows; i++ {
		futures[i] = d.pool.Submit(ctx, func(ctx context.Context) error {
			return unit(backend.WithThreads(ctx, 1), i)
		})
	}
	if err := workerpool.WaitAll(futures); err != nil {
		d.logger.WarnContext(ctx, "backend inner error", slog.Int("rows", rows), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrBackendInner, err)
	}
	return nil
}

// Reserve accounts bytes of result buffers against the memory controller.
// The returned release func must be called once the buffers are handed off.
func (d *Dispatcher) Reserve(bytes int64) (release func(), err error) {
	if bytes < 0 {
		return nil, fmt.Errorf("%w: negative reservation %d", ErrAllocationFailure, bytes)
	}
	if err := d.mem.TryAcquireMemory(bytes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}
	return func() { d.mem.ReleaseMemory(bytes) }, nil
}

// WithBuildThreads bounds backend parallelism for Build/Train/Add work.
func WithBuildThreads(ctx context.Context, cfg config.Config) context.Context {
	return backend.WithThreads(ctx, cfg.BuildThreads())
}

// WithQueryThreads bounds backend parallelism for non fan-out search work.
func WithQueryThreads(ctx context.Context, cfg config.Config) context.Context {
	return backend.WithThreads(ctx, cfg.QueryThreads())
}
