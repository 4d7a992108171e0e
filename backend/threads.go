package backend

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type threadsKey struct{}

// WithThreads returns a context that bounds the engine's internal parallelism
// to n goroutines for calls made with it. n <= 0 removes the bound.
//
// The dispatcher runs every fan-out unit with WithThreads(ctx, 1) so that
// per-query parallelism and engine parallelism do not multiply.
func WithThreads(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, threadsKey{}, n)
}

// Threads returns the engine thread budget carried by ctx, defaulting to
// runtime.GOMAXPROCS(0).
func Threads(ctx context.Context) int {
	if n, ok := ctx.Value(threadsKey{}).(int); ok && n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// parallelFor runs fn(i) for i in [0, n), using at most Threads(ctx)
// goroutines. The first error wins.
func parallelFor(ctx context.Context, n int, fn func(i int) error) error {
	threads := Threads(ctx)
	if threads <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(threads)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
