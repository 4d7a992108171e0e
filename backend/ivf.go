package backend

import (
	"context"
	"fmt"
	"slices"
)

// IVFEncoding selects how vectors are stored inside inverted lists.
type IVFEncoding uint8

const (
	// IVFFlatEncoding stores raw vectors.
	IVFFlatEncoding IVFEncoding = iota
	// IVFPQEncoding stores product-quantized codes.
	IVFPQEncoding
	// IVFSQ8Encoding stores 8-bit scalar-quantized codes.
	IVFSQ8Encoding
)

func (e IVFEncoding) String() string {
	switch e {
	case IVFFlatEncoding:
		return "Flat"
	case IVFPQEncoding:
		return "PQ"
	case IVFSQ8Encoding:
		return "SQ8"
	default:
		return fmt.Sprintf("IVFEncoding(%d)", e)
	}
}

// IVFParams configures an inverted-file engine.
type IVFParams struct {
	Nlist    int
	Encoding IVFEncoding
	// M and Nbits configure product quantization.
	M     int
	Nbits int
}

type invList struct {
	ids   []int64
	vecs  []float32
	codes []byte
}

type listLoc struct {
	list   int32
	offset int32
}

// IVF is an inverted-file engine: vectors are bucketed by their nearest
// coarse centroid and queries scan only the nprobe closest buckets.
type IVF struct {
	dim       int
	metric    Metric
	params    IVFParams
	centroids []float32
	pq        *productQuantizer
	sq        *scalarQuantizer
	lists     []invList
	locs      []listLoc
}

var _ Index = (*IVF)(nil)

// NewIVF returns an untrained inverted-file engine.
func NewIVF(dim int, metric Metric, params IVFParams) (*IVF, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidArgument, dim)
	}
	if metric.Binary() {
		return nil, fmt.Errorf("%w: %s on float vectors", ErrUnsupportedMetric, metric)
	}
	if params.Nlist <= 0 {
		return nil, fmt.Errorf("%w: nlist must be positive, got %d", ErrInvalidArgument, params.Nlist)
	}
	ivf := &IVF{dim: dim, metric: metric, params: params}
	switch params.Encoding {
	case IVFFlatEncoding:
	case IVFPQEncoding:
		pq, err := newProductQuantizer(dim, params.M, params.Nbits)
		if err != nil {
			return nil, err
		}
		ivf.pq = pq
	case IVFSQ8Encoding:
		ivf.sq = newScalarQuantizer(dim)
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrInvalidArgument, params.Encoding)
	}
	return ivf, nil
}

func (ivf *IVF) Dim() int              { return ivf.dim }
func (ivf *IVF) Ntotal() int64         { return int64(len(ivf.locs)) }
func (ivf *IVF) IsTrained() bool       { return ivf.centroids != nil }
func (ivf *IVF) Metric() Metric        { return ivf.metric }
func (ivf *IVF) Params() IVFParams     { return ivf.params }
func (ivf *IVF) Encoding() IVFEncoding { return ivf.params.Encoding }

// prepare returns x, copied and normalized for cosine.
func (ivf *IVF) prepare(x []float32) []float32 {
	if ivf.metric != MetricCosine {
		return x
	}
	out := slices.Clone(x)
	for i := 0; i < len(out); i += ivf.dim {
		normalize(out[i : i+ivf.dim])
	}
	return out
}

func (ivf *IVF) codeSize() int {
	switch {
	case ivf.pq != nil:
		return ivf.pq.codeSize()
	case ivf.sq != nil:
		return ivf.sq.codeSize()
	default:
		return 0
	}
}

// Train learns the coarse centroids and, for quantized encodings, the
// quantizer. A trained engine cannot be retrained.
func (ivf *IVF) Train(ctx context.Context, n int, x []float32) error {
	if ivf.IsTrained() {
		return ErrAlreadyTrained
	}
	if len(x) != n*ivf.dim {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidArgument, n*ivf.dim, len(x))
	}
	x = ivf.prepare(x)

	centroids, err := trainKMeans(ctx, x, n, ivf.dim, ivf.params.Nlist)
	if err != nil {
		return err
	}
	switch {
	case ivf.pq != nil:
		if err := ivf.pq.train(ctx, n, x); err != nil {
			return err
		}
	case ivf.sq != nil:
		ivf.sq.train(n, x)
	}
	ivf.lists = make([]invList, ivf.params.Nlist)
	ivf.centroids = centroids
	return nil
}

// Add assigns n vectors to their nearest lists.
func (ivf *IVF) Add(ctx context.Context, n int, x []float32) error {
	if !ivf.IsTrained() {
		return ErrNotTrained
	}
	if len(x) != n*ivf.dim {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidArgument, n*ivf.dim, len(x))
	}
	x = ivf.prepare(x)

	assign := make([]int, n)
	if err := parallelFor(ctx, n, func(i int) error {
		assign[i] = nearestCentroid(x[i*ivf.dim:(i+1)*ivf.dim], ivf.centroids, ivf.dim)
		return nil
	}); err != nil {
		return err
	}

	cs := ivf.codeSize()
	code := make([]byte, cs)
	for i := 0; i < n; i++ {
		v := x[i*ivf.dim : (i+1)*ivf.dim]
		id := int64(len(ivf.locs))
		l := &ivf.lists[assign[i]]
		ivf.locs = append(ivf.locs, listLoc{list: int32(assign[i]), offset: int32(len(l.ids))})
		l.ids = append(l.ids, id)
		switch {
		case ivf.pq != nil:
			ivf.pq.encode(v, code)
			l.codes = append(l.codes, code...)
		case ivf.sq != nil:
			ivf.sq.encode(v, code)
			l.codes = append(l.codes, code...)
		default:
			l.vecs = append(l.vecs, v...)
		}
	}
	return nil
}

// scanner scores list entries against one query.
type scanner struct {
	ivf     *IVF
	q       []float32
	table   []float32
	scratch []float32
}

func (ivf *IVF) newScanner(q []float32) *scanner {
	s := &scanner{ivf: ivf, q: q}
	switch {
	case ivf.pq != nil:
		s.table = ivf.pq.distanceTable(ivf.metric, q)
	case ivf.sq != nil:
		s.scratch = make([]float32, ivf.dim)
	}
	return s
}

func (s *scanner) scan(list int, fn func(id int64, score float32)) {
	ivf := s.ivf
	l := &ivf.lists[list]
	cs := ivf.codeSize()
	for j, id := range l.ids {
		var score float32
		switch {
		case ivf.pq != nil:
			score = ivf.pq.score(s.table, l.codes[j*cs:(j+1)*cs])
		case ivf.sq != nil:
			ivf.sq.decode(l.codes[j*cs:(j+1)*cs], s.scratch)
			score = floatScore(ivf.metric, s.q, s.scratch)
		default:
			score = floatScore(ivf.metric, s.q, l.vecs[j*ivf.dim:(j+1)*ivf.dim])
		}
		fn(id, score)
	}
}

func (ivf *IVF) Search(ctx context.Context, n int, x []float32, k int, distances []float32, labels []int64, params *SearchParams) error {
	if !ivf.IsTrained() {
		return ErrNotTrained
	}
	if err := checkSearchBuffers(n, k, len(distances), len(labels)); err != nil {
		return err
	}
	if len(x) != n*ivf.dim {
		return fmt.Errorf("%w: expected %d query values, got %d", ErrInvalidArgument, n*ivf.dim, len(x))
	}
	x = ivf.prepare(x)
	filter := params.filter()
	nprobe := params.nprobe()

	return parallelFor(ctx, n, func(i int) error {
		q := x[i*ivf.dim : (i+1)*ivf.dim]
		top := newTopK(k, ivf.metric)
		sc := ivf.newScanner(q)
		for _, list := range closestCentroids(q, ivf.centroids, ivf.dim, nprobe) {
			sc.scan(list, func(id int64, score float32) {
				if filter != nil && filter.Test(id) {
					return
				}
				top.push(id, score)
			})
		}
		top.drain(labels[i*k:(i+1)*k], distances[i*k:(i+1)*k])
		return nil
	})
}

func (ivf *IVF) RangeSearch(ctx context.Context, n int, x []float32, radius float32, params *SearchParams) (*RangeSearchResult, error) {
	if !ivf.IsTrained() {
		return nil, ErrNotTrained
	}
	if len(x) != n*ivf.dim {
		return nil, fmt.Errorf("%w: expected %d query values, got %d", ErrInvalidArgument, n*ivf.dim, len(x))
	}
	x = ivf.prepare(x)
	filter := params.filter()
	nprobe := params.nprobe()
	perQuery := make([][]neighbor, n)

	err := parallelFor(ctx, n, func(i int) error {
		q := x[i*ivf.dim : (i+1)*ivf.dim]
		sc := ivf.newScanner(q)
		for _, list := range closestCentroids(q, ivf.centroids, ivf.dim, nprobe) {
			sc.scan(list, func(id int64, score float32) {
				if filter != nil && filter.Test(id) {
					return
				}
				if inRange(ivf.metric, score, radius) {
					perQuery[i] = append(perQuery[i], neighbor{id: id, score: score})
				}
			})
		}
		slices.SortFunc(perQuery[i], func(a, b neighbor) int {
			switch {
			case a.id < b.id:
				return -1
			case a.id > b.id:
				return 1
			default:
				return 0
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flattenRange(perQuery), nil
}

// Reconstruct copies the stored vector of id into out. Only the flat
// encoding keeps exact vectors.
func (ivf *IVF) Reconstruct(id int64, out []float32) error {
	if ivf.params.Encoding != IVFFlatEncoding {
		return ErrReconstructNotSupported
	}
	if id < 0 || id >= ivf.Ntotal() {
		return fmt.Errorf("%w: id %d out of range [0, %d)", ErrInvalidArgument, id, ivf.Ntotal())
	}
	loc := ivf.locs[id]
	l := &ivf.lists[loc.list]
	copy(out, l.vecs[int(loc.offset)*ivf.dim:int(loc.offset+1)*ivf.dim])
	return nil
}

func (ivf *IVF) MemoryUsage() int64 {
	size := int64(len(ivf.centroids))*4 + int64(len(ivf.locs))*8
	for i := range ivf.lists {
		l := &ivf.lists[i]
		size += int64(cap(l.ids))*8 + int64(cap(l.vecs))*4 + int64(cap(l.codes))
	}
	if ivf.pq != nil {
		size += int64(len(ivf.pq.codebooks)) * 4
	}
	if ivf.sq != nil {
		size += int64(len(ivf.sq.vmin)+len(ivf.sq.vmax)) * 4
	}
	return size
}
