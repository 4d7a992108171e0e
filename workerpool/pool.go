// Package workerpool provides the shared, bounded pool that executes
// per-query units of work.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// PanicError is returned by Future.Wait when the unit panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workerpool: unit panicked: %v", e.Value)
}

// Pool runs submitted units on at most Size worker goroutines. Submit
// never blocks: units wait in a FIFO queue and workers are started on
// demand, exiting once the queue drains.
type Pool struct {
	size int

	mu      sync.Mutex
	queue   []task
	running int
}

type task struct {
	ctx context.Context
	fn  func(context.Context) error
	f   *Future
}

// New creates a pool executing at most size units concurrently.
// size <= 0 means runtime.GOMAXPROCS(0).
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{size: size}
}

var (
	defaultPool *Pool
	defaultOnce sync.Once
)

// Default returns the process-wide pool sized to runtime.GOMAXPROCS(0).
func Default() *Pool {
	defaultOnce.Do(func() { defaultPool = New(0) })
	return defaultPool
}

// Size returns the concurrency bound.
func (p *Pool) Size() int { return p.size }

// Future is the pending result of a submitted unit.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the unit has finished and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done is closed when the unit has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Submit queues fn and returns immediately. Cancellation of ctx does not
// drop the unit: submitted units always run. Panics in fn are recovered
// into a *PanicError.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) *Future {
	f := &Future{done: make(chan struct{})}

	p.mu.Lock()
	p.queue = append(p.queue, task{ctx: ctx, fn: fn, f: f})
	spawn := p.running < p.size
	if spawn {
		p.running++
	}
	p.mu.Unlock()

	if spawn {
		go p.work()
	}
	return f
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.queue = nil
			p.running--
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = task{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		t.run()
	}
}

func (t task) run() {
	defer close(t.f.done)
	defer func() {
		if r := recover(); r != nil {
			t.f.err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	t.f.err = t.fn(t.ctx)
}

// WaitAll waits for every future and returns the first error in submission
// order.
func WaitAll(futures []*Future) error {
	var first error
	for _, f := range futures {
		if err := f.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
