package persistence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/blobstore"
	"github.com/hupe1980/annexec/resource"
)

// ErrNoSegments is returned by LoadSplit when no segment blobs exist under
// the prefix.
var ErrNoSegments = errors.New("no segments under prefix")

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Controller charges IO and bounds parallel segment transfers. Nil means
	// unlimited IO and one transfer at a time.
	Controller *resource.Controller
	// Compression applies to every segment written.
	Compression Compression
	// Logger receives transfer logs. Nil discards.
	Logger *slog.Logger
}

// Manager saves and loads binary sets in a blob store.
type Manager struct {
	store       blobstore.BlobStore
	rc          *resource.Controller
	compression Compression
	logger      *slog.Logger
}

// NewManager creates a manager over store.
func NewManager(store blobstore.BlobStore, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:       store,
		rc:          opts.Controller,
		compression: opts.Compression,
		logger:      logger,
	}
}

// Store returns the underlying blob store.
func (m *Manager) Store() blobstore.BlobStore { return m.store }

// Save writes set as a single container blob.
func (m *Manager) Save(ctx context.Context, name string, set *binaryset.BinarySet) error {
	w, err := m.store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("persistence: create %q: %w", name, err)
	}
	bw := bufio.NewWriter(resource.NewRateLimitedWriter(ctx, w, m.rc))
	err = Encode(bw, set, m.compression)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = w.Sync()
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = m.store.Delete(ctx, name)
		return fmt.Errorf("persistence: save %q: %w", name, err)
	}
	m.logger.DebugContext(ctx, "saved binary set",
		slog.String("name", name),
		slog.Int("segments", set.Len()),
		slog.Int64("bytes", set.Size()),
		slog.String("compression", m.compression.String()))
	return nil
}

// Load reads a container blob written by Save.
func (m *Manager) Load(ctx context.Context, name string) (*binaryset.BinarySet, error) {
	b, err := m.store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("persistence: open %q: %w", name, err)
	}
	defer func() { _ = b.Close() }()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, fmt.Errorf("persistence: read %q: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	set, err := Decode(resource.NewRateLimitedReader(ctx, rc, m.rc))
	if err != nil {
		return nil, fmt.Errorf("persistence: load %q: %w", name, err)
	}
	return set, nil
}

// Delete removes a container blob.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.store.Delete(ctx, name)
}

func (m *Manager) transfers() int {
	return max(m.rc.BackgroundWorkers(), 1)
}

// SaveSplit writes every segment of set as its own container blob under
// prefix, transferring up to the controller's background worker count in
// parallel.
func (m *Manager) SaveSplit(ctx context.Context, prefix string, set *binaryset.BinarySet) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.transfers())

	for _, name := range set.Names() {
		b, err := set.GetByName(name)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := m.rc.AcquireBackground(gctx); err != nil {
				return err
			}
			defer m.rc.ReleaseBackground()

			single := binaryset.New()
			if err := single.Append(name, b.Data); err != nil {
				return err
			}
			return m.Save(gctx, path.Join(prefix, name), single)
		})
	}
	return g.Wait()
}

// LoadSplit reads every segment blob under prefix and merges them into one
// set.
func (m *Manager) LoadSplit(ctx context.Context, prefix string) (*binaryset.BinarySet, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	names, err := m.store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: list %q: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSegments, prefix)
	}

	var mu sync.Mutex
	out := binaryset.New()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.transfers())
	for _, name := range names {
		g.Go(func() error {
			if err := m.rc.AcquireBackground(gctx); err != nil {
				return err
			}
			defer m.rc.ReleaseBackground()

			part, err := m.Load(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, seg := range part.Names() {
				b, _ := part.GetByName(seg)
				if err := out.Append(seg, b.Data); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
