package backend

import (
	"context"
	"fmt"
	"math"
)

// productQuantizer splits vectors into m subvectors and encodes each one as
// the index of its nearest codeword in a per-subspace codebook of 2^nbits
// entries. Codes are one byte per subvector.
type productQuantizer struct {
	dim   int
	m     int
	nbits int
	ksub  int
	dsub  int
	// codebooks holds m×ksub×dsub values.
	codebooks []float32
}

func newProductQuantizer(dim, m, nbits int) (*productQuantizer, error) {
	if m <= 0 || dim%m != 0 {
		return nil, fmt.Errorf("%w: dim %d is not divisible by m=%d", ErrInvalidArgument, dim, m)
	}
	if nbits <= 0 || nbits > 8 {
		return nil, fmt.Errorf("%w: nbits must be in [1, 8], got %d", ErrInvalidArgument, nbits)
	}
	return &productQuantizer{dim: dim, m: m, nbits: nbits, ksub: 1 << nbits, dsub: dim / m}, nil
}

func (pq *productQuantizer) codeSize() int { return pq.m }

func (pq *productQuantizer) codeword(sub, c int) []float32 {
	off := (sub*pq.ksub + c) * pq.dsub
	return pq.codebooks[off : off+pq.dsub]
}

// train learns one codebook per subspace. With fewer training points than
// codewords, the points are cycled so every codeword is defined.
func (pq *productQuantizer) train(ctx context.Context, n int, x []float32) error {
	pq.codebooks = make([]float32, pq.m*pq.ksub*pq.dsub)
	sub := make([]float32, n*pq.dsub)
	for s := 0; s < pq.m; s++ {
		for i := 0; i < n; i++ {
			copy(sub[i*pq.dsub:(i+1)*pq.dsub], x[i*pq.dim+s*pq.dsub:i*pq.dim+(s+1)*pq.dsub])
		}
		book := pq.codebooks[s*pq.ksub*pq.dsub : (s+1)*pq.ksub*pq.dsub]
		if n < pq.ksub {
			for c := 0; c < pq.ksub; c++ {
				p := c % n
				copy(book[c*pq.dsub:(c+1)*pq.dsub], sub[p*pq.dsub:(p+1)*pq.dsub])
			}
			continue
		}
		centroids, err := trainKMeans(ctx, sub, n, pq.dsub, pq.ksub)
		if err != nil {
			return err
		}
		copy(book, centroids)
	}
	return nil
}

func (pq *productQuantizer) encode(v []float32, code []byte) {
	for s := 0; s < pq.m; s++ {
		sv := v[s*pq.dsub : (s+1)*pq.dsub]
		book := pq.codebooks[s*pq.ksub*pq.dsub : (s+1)*pq.ksub*pq.dsub]
		code[s] = byte(nearestCentroid(sv, book, pq.dsub))
	}
}

// distanceTable precomputes per-subspace partial scores of q against every
// codeword, so that scoring a code costs m lookups.
func (pq *productQuantizer) distanceTable(metric Metric, q []float32) []float32 {
	table := make([]float32, pq.m*pq.ksub)
	for s := 0; s < pq.m; s++ {
		sq := q[s*pq.dsub : (s+1)*pq.dsub]
		for c := 0; c < pq.ksub; c++ {
			table[s*pq.ksub+c] = floatScore(metric, sq, pq.codeword(s, c))
		}
	}
	return table
}

func (pq *productQuantizer) score(table []float32, code []byte) float32 {
	var s float32
	for i, c := range code {
		s += table[i*pq.ksub+int(c)]
	}
	return s
}

// scalarQuantizer maps each dimension linearly from its trained [min, max]
// range onto [0, 255].
type scalarQuantizer struct {
	dim  int
	vmin []float32
	vmax []float32
}

func newScalarQuantizer(dim int) *scalarQuantizer {
	return &scalarQuantizer{dim: dim}
}

func (sq *scalarQuantizer) codeSize() int { return sq.dim }

func (sq *scalarQuantizer) train(n int, x []float32) {
	sq.vmin = make([]float32, sq.dim)
	sq.vmax = make([]float32, sq.dim)
	for d := 0; d < sq.dim; d++ {
		sq.vmin[d] = math.MaxFloat32
		sq.vmax[d] = -math.MaxFloat32
	}
	for i := 0; i < n; i++ {
		for d, v := range x[i*sq.dim : (i+1)*sq.dim] {
			sq.vmin[d] = min(sq.vmin[d], v)
			sq.vmax[d] = max(sq.vmax[d], v)
		}
	}
	for d := 0; d < sq.dim; d++ {
		if sq.vmin[d] == sq.vmax[d] {
			sq.vmax[d] = sq.vmin[d] + 1
		}
	}
}

func (sq *scalarQuantizer) encode(v []float32, code []byte) {
	for d, x := range v {
		lo, hi := sq.vmin[d], sq.vmax[d]
		x = min(max(x, lo), hi)
		code[d] = uint8((x-lo)*255/(hi-lo) + 0.5)
	}
}

func (sq *scalarQuantizer) decode(code []byte, out []float32) {
	for d, c := range code {
		lo, hi := sq.vmin[d], sq.vmax[d]
		out[d] = float32(c)*(hi-lo)/255 + lo
	}
}
