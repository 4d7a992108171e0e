package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrDeviceMemoryExhausted is returned when an upload exceeds device memory.
var ErrDeviceMemoryExhausted = errors.New("backend: device memory exhausted")

// Accelerator is a compute device able to host engines.
type Accelerator interface {
	ID() int
	Name() string
	// Upload copies a host engine onto the device.
	Upload(ctx context.Context, host Index) (DeviceIndex, error)
	// MemoryUsage returns the bytes currently resident on the device.
	MemoryUsage() int64
}

// DeviceIndex is an engine resident on an Accelerator.
type DeviceIndex interface {
	Index
	// Download materializes a host copy of the device-resident engine.
	Download(ctx context.Context) (Index, error)
	// Free releases the device memory. It is idempotent.
	Free()
}

// SimulatedAccelerator is an in-process stand-in for a device. Device
// residency is modelled as an independent copy of the engine plus memory
// accounting against a fixed capacity.
type SimulatedAccelerator struct {
	id       int
	capacity int64
	used     atomic.Int64
}

var _ Accelerator = (*SimulatedAccelerator)(nil)

// NewSimulatedAccelerator returns a device with the given memory capacity in
// bytes. A non-positive capacity is unlimited.
func NewSimulatedAccelerator(id int, capacity int64) *SimulatedAccelerator {
	return &SimulatedAccelerator{id: id, capacity: capacity}
}

func (a *SimulatedAccelerator) ID() int { return a.id }

func (a *SimulatedAccelerator) Name() string { return fmt.Sprintf("sim:%d", a.id) }

func (a *SimulatedAccelerator) MemoryUsage() int64 { return a.used.Load() }

func (a *SimulatedAccelerator) reserve(n int64) error {
	for {
		cur := a.used.Load()
		if a.capacity > 0 && cur+n > a.capacity {
			return fmt.Errorf("%w: %s needs %d bytes, %d of %d in use", ErrDeviceMemoryExhausted, a.Name(), n, cur, a.capacity)
		}
		if a.used.CompareAndSwap(cur, cur+n) {
			return nil
		}
	}
}

func (a *SimulatedAccelerator) Upload(ctx context.Context, host Index) (DeviceIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resident, err := clone(host)
	if err != nil {
		return nil, err
	}
	size := resident.MemoryUsage()
	if err := a.reserve(size); err != nil {
		return nil, err
	}
	return &deviceIndex{Index: resident, host: resident, acc: a, bytes: size}, nil
}

type deviceIndex struct {
	Index
	host  Index
	acc   *SimulatedAccelerator
	mu    sync.Mutex
	bytes int64
	once  sync.Once
}

// addEntryOverhead covers the id and location bookkeeping of one added vector.
const addEntryOverhead = 16

// Add reserves room for the new vectors before appending on the device, then
// settles the charge on the measured footprint.
func (d *deviceIndex) Add(ctx context.Context, n int, x []float32) error {
	var want int64
	if n > 0 {
		want = int64(n) * (int64(d.Dim())*4 + addEntryOverhead)
		if err := d.acc.reserve(want); err != nil {
			return err
		}
	}
	err := d.Index.Add(ctx, n, x)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.acc.used.Add(-want)
		return err
	}
	now := d.Index.MemoryUsage()
	d.acc.used.Add(now - d.bytes - want)
	d.bytes = now
	return nil
}

func (d *deviceIndex) Download(ctx context.Context) (Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return clone(d.host)
}

func (d *deviceIndex) Free() {
	d.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.acc.used.Add(-d.bytes)
		d.bytes = 0
	})
}

func clone(idx Index) (Index, error) {
	var buf bytes.Buffer
	if err := Write(&buf, idx); err != nil {
		return nil, err
	}
	return Read(&buf)
}
