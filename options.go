package annexec

import (
	"log/slog"

	"github.com/hupe1980/annexec/backend"
	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/persistence"
	"github.com/hupe1980/annexec/resource"
)

type options struct {
	workers          int
	accelerators     []backend.Accelerator
	poolOptions      []resource.PoolOption
	resources        resource.Config
	backends         backend.Factory
	metricsCollector MetricsCollector
	logger           *Logger
	store            blobstore.BlobStore
	compression      persistence.Compression
}

// Option configures a Runtime.
type Option func(*options)

// WithWorkers sets the size of the shared worker pool that runs per-query
// fan-out. n <= 0 selects runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithDevices registers the accelerators available to device-resident
// variants. Without devices, GPU variants fail with ErrNoResourceAvailable.
//
// Example with simulated devices:
//
//	rt := annexec.New(annexec.WithDevices(
//	    backend.NewSimulatedAccelerator(0, 1<<30),
//	    backend.NewSimulatedAccelerator(1, 1<<30),
//	))
func WithDevices(accs ...backend.Accelerator) Option {
	return func(o *options) {
		o.accelerators = append(o.accelerators, accs...)
	}
}

// WithLeasesPerDevice bounds how many root leases a device grants at once.
// Concurrent searches on one device share a single root lease.
func WithLeasesPerDevice(n int) Option {
	return func(o *options) {
		o.poolOptions = append(o.poolOptions, resource.WithLeasesPerDevice(n))
	}
}

// WithPolicy selects the device placement policy. The default places work on
// the least-loaded device.
func WithPolicy(p resource.Policy) Option {
	return func(o *options) {
		o.poolOptions = append(o.poolOptions, resource.WithPolicy(p))
	}
}

// WithMemoryLimit bounds the host memory reserved for result buffers.
// Requests beyond it fail with ErrAllocationFailure. 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.resources.MemoryLimitBytes = bytes
	}
}

// WithIOLimit caps persistence throughput in bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.resources.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithTransfers bounds parallel segment uploads and downloads of split
// saves.
func WithTransfers(n int64) Option {
	return func(o *options) {
		o.resources.MaxBackgroundWorkers = n
	}
}

// WithBackend selects the engine factory. Nil selects backend.Native.
func WithBackend(f backend.Factory) Option {
	return func(o *options) {
		o.backends = f
	}
}

// WithStore enables Save and Load against store. Segments are compressed
// with c.
//
// Example with a local directory:
//
//	rt := annexec.New(annexec.WithStore(blobstore.NewLocalStore("./indexes"), persistence.CompressionZSTD))
func WithStore(store blobstore.BlobStore, c persistence.Compression) Option {
	return func(o *options) {
		o.store = store
		o.compression = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &annexec.BasicMetricsCollector{}
//	rt := annexec.New(annexec.WithMetricsCollector(metrics))
//	// ... use rt ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
