//go:build faiss

// Package faiss runs the backend engine contract on libfaiss through the
// go-faiss bindings. Binary engines are not exposed by the bindings and are
// delegated to the native factory.
package faiss

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	gofaiss "github.com/DataIntelligenceCrew/go-faiss"

	"github.com/hupe1980/annexec/backend"
)

// Factory is the libfaiss engine factory.
var Factory backend.Factory = factory{}

type factory struct{}

func (factory) Name() string { return "faiss" }

func faissMetric(m backend.Metric) (int, error) {
	switch m {
	case backend.MetricL2:
		return gofaiss.MetricL2, nil
	case backend.MetricIP:
		return gofaiss.MetricInnerProduct, nil
	default:
		return 0, fmt.Errorf("%w: %s", backend.ErrUnsupportedMetric, m)
	}
}

func newIndex(dim int, description string, metric backend.Metric) (*index, error) {
	fm, err := faissMetric(metric)
	if err != nil {
		return nil, err
	}
	idx, err := gofaiss.IndexFactory(dim, description, fm)
	if err != nil {
		return nil, fmt.Errorf("faiss index factory %q: %w", description, err)
	}
	return &index{idx: idx, metric: metric, description: description}, nil
}

func (factory) NewFlat(dim int, metric backend.Metric) (backend.Index, error) {
	return newIndex(dim, "Flat", metric)
}

func (factory) NewBinaryFlat(dim int, metric backend.Metric) (backend.BinaryIndex, error) {
	return backend.Native.NewBinaryFlat(dim, metric)
}

func (factory) NewIVF(dim int, metric backend.Metric, p backend.IVFParams) (backend.Index, error) {
	var desc string
	switch p.Encoding {
	case backend.IVFFlatEncoding:
		desc = fmt.Sprintf("IVF%d,Flat", p.Nlist)
	case backend.IVFPQEncoding:
		desc = fmt.Sprintf("IVF%d,PQ%dx%d", p.Nlist, p.M, p.Nbits)
	case backend.IVFSQ8Encoding:
		desc = fmt.Sprintf("IVF%d,SQ8", p.Nlist)
	default:
		return nil, fmt.Errorf("%w: unknown encoding %s", backend.ErrInvalidArgument, p.Encoding)
	}
	return newIndex(dim, desc, metric)
}

// Write streams the libfaiss index through a temporary file, since the
// bindings only expose file-based I/O.
func (factory) Write(w io.Writer, idx backend.Index) error {
	fi, ok := idx.(*index)
	if !ok {
		return fmt.Errorf("%w: cannot serialize %T", backend.ErrInvalidArgument, idx)
	}
	tmp, err := os.CreateTemp("", "annexec-faiss-*.idx")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(name) }()

	if err := gofaiss.WriteIndex(fi.idx, name); err != nil {
		return fmt.Errorf("faiss write index: %w", err)
	}
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var hdr [1]byte
	hdr[0] = byte(fi.metric)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func (factory) Read(r io.Reader) (backend.Index, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrCorrupt, err)
	}
	tmp, err := os.CreateTemp("", "annexec-faiss-*.idx")
	if err != nil {
		return nil, err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	idx, err := gofaiss.ReadIndex(name, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: faiss read index: %v", backend.ErrCorrupt, err)
	}
	return &index{idx: idx, metric: backend.Metric(hdr[0])}, nil
}

func (factory) WriteBinary(w io.Writer, idx backend.BinaryIndex) error {
	return backend.Native.WriteBinary(w, idx)
}

func (factory) ReadBinary(r io.Reader) (backend.BinaryIndex, error) {
	return backend.Native.ReadBinary(r)
}

type index struct {
	idx         gofaiss.Index
	metric      backend.Metric
	description string
	trainedOnce bool
}

var _ backend.Index = (*index)(nil)

func (x *index) Dim() int               { return x.idx.D() }
func (x *index) Ntotal() int64          { return x.idx.Ntotal() }
func (x *index) IsTrained() bool        { return x.idx.IsTrained() }
func (x *index) Metric() backend.Metric { return x.metric }

func (x *index) Train(_ context.Context, _ int, data []float32) error {
	if x.trainedOnce {
		return backend.ErrAlreadyTrained
	}
	if err := x.idx.Train(data); err != nil {
		return fmt.Errorf("faiss train: %w", err)
	}
	x.trainedOnce = true
	return nil
}

func (x *index) Add(_ context.Context, _ int, data []float32) error {
	if !x.idx.IsTrained() {
		return backend.ErrNotTrained
	}
	return x.idx.Add(data)
}

func (x *index) setNprobe(params *backend.SearchParams) error {
	if params == nil || params.Nprobe <= 0 {
		return nil
	}
	ps, err := gofaiss.NewParameterSpace()
	if err != nil {
		return err
	}
	defer ps.Delete()
	// Flat indexes have no nprobe; ignore the error there.
	_ = ps.SetIndexParameter(x.idx, "nprobe", float64(params.Nprobe))
	return nil
}

func (x *index) Search(_ context.Context, n int, data []float32, k int, distances []float32, labels []int64, params *backend.SearchParams) error {
	if err := x.setNprobe(params); err != nil {
		return err
	}
	var filter func(int64) bool
	if params != nil && params.Filter != nil {
		filter = params.Filter.Test
	}
	fetch := int64(k)
	if filter != nil {
		fetch = max(x.idx.Ntotal(), 1)
	}
	d, l, err := x.idx.Search(data, fetch)
	if err != nil {
		return fmt.Errorf("faiss search: %w", err)
	}
	pad := float32(math.Inf(1))
	if x.metric.HigherIsCloser() {
		pad = float32(math.Inf(-1))
	}
	for i := 0; i < n; i++ {
		out := 0
		for j := int64(0); j < fetch && out < k; j++ {
			id := l[int64(i)*fetch+j]
			if id < 0 || (filter != nil && filter(id)) {
				continue
			}
			labels[i*k+out] = id
			distances[i*k+out] = d[int64(i)*fetch+j]
			out++
		}
		for ; out < k; out++ {
			labels[i*k+out] = -1
			distances[i*k+out] = pad
		}
	}
	return nil
}

func (x *index) RangeSearch(_ context.Context, n int, data []float32, radius float32, params *backend.SearchParams) (*backend.RangeSearchResult, error) {
	if err := x.setNprobe(params); err != nil {
		return nil, err
	}
	res, err := x.idx.RangeSearch(data, radius)
	if err != nil {
		return nil, fmt.Errorf("faiss range search: %w", err)
	}
	defer res.Delete()

	lims := res.Lims()
	labels, dists := res.Labels()
	out := &backend.RangeSearchResult{Lims: make([]int, n+1)}
	for i := 0; i < n; i++ {
		type hit struct {
			id int64
			d  float32
		}
		var hits []hit
		for j := lims[i]; j < lims[i+1]; j++ {
			if params != nil && params.Filter != nil && params.Filter.Test(labels[j]) {
				continue
			}
			hits = append(hits, hit{labels[j], dists[j]})
		}
		sort.Slice(hits, func(a, b int) bool { return hits[a].id < hits[b].id })
		for _, h := range hits {
			out.Labels = append(out.Labels, h.id)
			out.Distances = append(out.Distances, h.d)
		}
		out.Lims[i+1] = len(out.Labels)
	}
	return out, nil
}

func (x *index) Reconstruct(int64, []float32) error {
	return backend.ErrReconstructNotSupported
}

// MemoryUsage estimates the raw vector payload; libfaiss does not report
// its resident size.
func (x *index) MemoryUsage() int64 {
	return x.idx.Ntotal() * int64(x.idx.D()) * 4
}
