package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrNoResourceAvailable is returned when the pool has no devices, or by
	// TryAcquire when every slot is taken.
	ErrNoResourceAvailable = errors.New("no resource available")
	// ErrLeaseConflict is returned when a nested acquisition asks for
	// exclusive access while the enclosing lease is shared.
	ErrLeaseConflict = errors.New("lease conflict")
)

// Mode is the access mode of a lease.
type Mode uint8

const (
	// Shared leases may run concurrently on the same device. Shared leases
	// taken with AcquireDevice join the device's active shared group and
	// hold one slot between them.
	Shared Mode = iota
	// Exclusive leases lock the device context for their duration.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Device is one accelerator context of a pool. Index instances keep a
// *Device as a weak reference to the device they were placed on and re-lease
// it with Pool.AcquireDevice.
type Device[H any] struct {
	id     int
	handle H
	inUse  atomic.Int64
	slots  *semaphore.Weighted
	mu     sync.RWMutex

	// gate guards sharers and the slot the shared group holds.
	gate    sync.Mutex
	sharers int64
}

// ID returns the device's position in the pool.
func (d *Device[H]) ID() int { return d.id }

// Handle returns the backend handle of the device.
func (d *Device[H]) Handle() H { return d.handle }

// InUse returns the number of outstanding leases, nested leases included.
func (d *Device[H]) InUse() int64 { return d.inUse.Load() }

// DeviceStats is a snapshot of one device's load.
type DeviceStats struct {
	ID    int
	InUse int64
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	leasesPerDevice int64
	policy          Policy
}

// WithLeasesPerDevice sets how many root leases a device admits at once.
// A shared group formed by AcquireDevice counts as one. Defaults to 1.
func WithLeasesPerDevice(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.leasesPerDevice = int64(n)
		}
	}
}

// WithPolicy sets the device selection policy. Defaults to LeastLoaded.
func WithPolicy(p Policy) PoolOption {
	return func(o *poolOptions) {
		if p != nil {
			o.policy = p
		}
	}
}

// Pool is a fixed-size set of device contexts handed out as leases.
// Capacity is devices × leasesPerDevice root leases; nested leases taken
// through a lease-carrying context consume no extra capacity.
type Pool[H any] struct {
	devices   []*Device[H]
	perDevice int64
	sem       *semaphore.Weighted
	policy    Policy
	mu        sync.Mutex
}

// NewPool creates a pool with one device context per handle.
func NewPool[H any](handles []H, opts ...PoolOption) *Pool[H] {
	o := poolOptions{leasesPerDevice: 1, policy: LeastLoaded()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[H]{
		devices:   make([]*Device[H], len(handles)),
		perDevice: o.leasesPerDevice,
		policy:    o.policy,
	}
	for i, h := range handles {
		p.devices[i] = &Device[H]{id: i, handle: h, slots: semaphore.NewWeighted(o.leasesPerDevice)}
	}
	if capacity := p.Capacity(); capacity > 0 {
		p.sem = semaphore.NewWeighted(capacity)
	}
	return p
}

// Len returns the number of devices.
func (p *Pool[H]) Len() int {
	if p == nil {
		return 0
	}
	return len(p.devices)
}

// Capacity returns the maximum number of concurrent root leases.
func (p *Pool[H]) Capacity() int64 {
	if p == nil {
		return 0
	}
	return int64(len(p.devices)) * p.perDevice
}

// Devices returns the device contexts.
func (p *Pool[H]) Devices() []*Device[H] {
	if p == nil {
		return nil
	}
	return p.devices
}

// Stats returns a load snapshot of every device.
func (p *Pool[H]) Stats() []DeviceStats {
	stats := make([]DeviceStats, p.Len())
	for i, d := range p.Devices() {
		stats[i] = DeviceStats{ID: d.id, InUse: d.InUse()}
	}
	return stats
}

// Acquire leases a device chosen by the pool's policy, blocking while every
// slot is taken. The wait honours ctx. If ctx carries a lease from this pool
// (see ContextWithLease) that lease is reused.
func (p *Pool[H]) Acquire(ctx context.Context, mode Mode) (*Lease[H], error) {
	if p.Len() == 0 {
		return nil, ErrNoResourceAvailable
	}
	if outer := leaseFromContext[H](ctx, p); outer != nil {
		return outer.nest(mode)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoResourceAvailable, err)
	}
	d := p.claim()
	return p.lock(d, mode), nil
}

// TryAcquire is the non-blocking form of Acquire.
func (p *Pool[H]) TryAcquire(ctx context.Context, mode Mode) (*Lease[H], error) {
	if p.Len() == 0 {
		return nil, ErrNoResourceAvailable
	}
	if outer := leaseFromContext[H](ctx, p); outer != nil {
		return outer.nest(mode)
	}
	if !p.sem.TryAcquire(1) {
		return nil, ErrNoResourceAvailable
	}
	d := p.claim()
	var locked bool
	if mode == Exclusive {
		locked = d.mu.TryLock()
	} else {
		locked = d.mu.TryRLock()
	}
	if !locked {
		p.unclaim(d)
		return nil, ErrNoResourceAvailable
	}
	return &Lease[H]{pool: p, dev: d, mode: mode}, nil
}

// AcquireDevice leases a specific device, as an index does for every
// operation after placement. A shared lease joins the device's active shared
// group when there is one; otherwise, and for exclusive leases, it blocks
// while the device or the pool is full.
func (p *Pool[H]) AcquireDevice(ctx context.Context, d *Device[H], mode Mode) (*Lease[H], error) {
	if d == nil || d.id >= p.Len() || p.devices[d.id] != d {
		return nil, fmt.Errorf("%w: device does not belong to this pool", ErrNoResourceAvailable)
	}
	if outer := leaseFromContext[H](ctx, p); outer != nil && outer.dev == d {
		return outer.nest(mode)
	}
	if mode == Shared {
		return p.joinShared(ctx, d)
	}
	if err := p.take(ctx, d); err != nil {
		return nil, err
	}
	d.inUse.Add(1)
	return p.lock(d, mode), nil
}

// take blocks for a pool token and a slot on d.
func (p *Pool[H]) take(ctx context.Context, d *Device[H]) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrNoResourceAvailable, err)
	}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		p.sem.Release(1)
		return fmt.Errorf("%w: %w", ErrNoResourceAvailable, err)
	}
	return nil
}

// joinShared adds a lease to d's shared group. The first member takes the
// group's slot; the last one to leave returns it.
func (p *Pool[H]) joinShared(ctx context.Context, d *Device[H]) (*Lease[H], error) {
	d.gate.Lock()
	if d.sharers == 0 {
		if err := p.take(ctx, d); err != nil {
			d.gate.Unlock()
			return nil, err
		}
	}
	d.sharers++
	d.inUse.Add(1)
	d.gate.Unlock()

	d.mu.RLock()
	return &Lease[H]{pool: p, dev: d, mode: Shared, group: true}, nil
}

func (p *Pool[H]) leaveShared(d *Device[H]) {
	d.inUse.Add(-1)
	d.gate.Lock()
	d.sharers--
	if d.sharers == 0 {
		d.slots.Release(1)
		p.sem.Release(1)
	}
	d.gate.Unlock()
}

// claim picks a device with a free slot and takes it. The caller holds a
// pool token, so at least one device slot is free; the loop only retries
// when a concurrent AcquireDevice raced for the chosen slot.
func (p *Pool[H]) claim() *Device[H] {
	loads := make([]int64, len(p.devices))
	for {
		p.mu.Lock()
		for i, d := range p.devices {
			loads[i] = d.inUse.Load()
		}
		if i := p.policy.Pick(loads, p.perDevice); i >= 0 {
			d := p.devices[i]
			if d.slots.TryAcquire(1) {
				d.inUse.Add(1)
				p.mu.Unlock()
				return d
			}
		}
		// Fall back to any free slot in id order.
		for _, d := range p.devices {
			if d.slots.TryAcquire(1) {
				d.inUse.Add(1)
				p.mu.Unlock()
				return d
			}
		}
		p.mu.Unlock()
		runtime.Gosched()
	}
}

func (p *Pool[H]) unclaim(d *Device[H]) {
	d.inUse.Add(-1)
	d.slots.Release(1)
	p.sem.Release(1)
}

func (p *Pool[H]) lock(d *Device[H], mode Mode) *Lease[H] {
	if mode == Exclusive {
		d.mu.Lock()
	} else {
		d.mu.RLock()
	}
	return &Lease[H]{pool: p, dev: d, mode: mode}
}

// Do runs fn under a lease on a policy-chosen device and releases it on
// every exit path, panics included. fn receives a context carrying the
// lease so nested acquisitions reuse it.
func (p *Pool[H]) Do(ctx context.Context, mode Mode, fn func(context.Context, *Lease[H]) error) error {
	l, err := p.Acquire(ctx, mode)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(ContextWithLease(ctx, l), l)
}

// DoDevice is the scoped form of AcquireDevice.
func (p *Pool[H]) DoDevice(ctx context.Context, d *Device[H], mode Mode, fn func(context.Context, *Lease[H]) error) error {
	l, err := p.AcquireDevice(ctx, d, mode)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(ContextWithLease(ctx, l), l)
}

// Lease is a claim on one device context. Release must be called exactly
// once; further calls are no-ops.
type Lease[H any] struct {
	pool   *Pool[H]
	dev    *Device[H]
	mode   Mode
	nested bool
	group  bool
	once   sync.Once
}

// Device returns the leased device.
func (l *Lease[H]) Device() *Device[H] { return l.dev }

// Handle returns the leased device's backend handle.
func (l *Lease[H]) Handle() H { return l.dev.handle }

// Mode returns the lease's access mode.
func (l *Lease[H]) Mode() Mode { return l.mode }

func (l *Lease[H]) nest(mode Mode) (*Lease[H], error) {
	if mode == Exclusive && l.mode != Exclusive {
		return nil, fmt.Errorf("%w: exclusive lease requested inside a shared lease on device %d", ErrLeaseConflict, l.dev.id)
	}
	l.dev.inUse.Add(1)
	return &Lease[H]{pool: l.pool, dev: l.dev, mode: l.mode, nested: true}, nil
}

// Release returns the lease to the pool.
func (l *Lease[H]) Release() {
	l.once.Do(func() {
		if l.nested {
			l.dev.inUse.Add(-1)
			return
		}
		if l.group {
			l.dev.mu.RUnlock()
			l.pool.leaveShared(l.dev)
			return
		}
		if l.mode == Exclusive {
			l.dev.mu.Unlock()
		} else {
			l.dev.mu.RUnlock()
		}
		l.pool.unclaim(l.dev)
	})
}

type leaseKey struct{ pool any }

// ContextWithLease returns a context carrying l. Acquisitions on the same
// pool made with the returned context reuse l instead of taking a new slot.
func ContextWithLease[H any](ctx context.Context, l *Lease[H]) context.Context {
	return context.WithValue(ctx, leaseKey{pool: l.pool}, l)
}

func leaseFromContext[H any](ctx context.Context, p *Pool[H]) *Lease[H] {
	l, _ := ctx.Value(leaseKey{pool: p}).(*Lease[H])
	return l
}
