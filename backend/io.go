package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Four-byte type tags leading every serialized engine.
var (
	tagFlat       = [4]byte{'I', 'x', 'F', 'l'}
	tagBinaryFlat = [4]byte{'I', 'x', 'B', 'F'}
	tagIVFFlat    = [4]byte{'I', 'w', 'F', 'l'}
	tagIVFPQ      = [4]byte{'I', 'w', 'P', 'Q'}
	tagIVFSQ8     = [4]byte{'I', 'w', 'S', 'Q'}
)

// maxElements bounds slice lengths read from untrusted input.
const maxElements = 1 << 32

// encoder writes little-endian values and remembers the first error.
type encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) u8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

func (e *encoder) floats(v []float32) {
	e.u64(uint64(len(v)))
	if e.err != nil || len(v) == 0 {
		return
	}
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	e.write(b)
}

func (e *encoder) int64s(v []int64) {
	e.u64(uint64(len(v)))
	if e.err != nil || len(v) == 0 {
		return
	}
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(x))
	}
	e.write(b)
}

func (e *encoder) bytes(v []byte) {
	e.u64(uint64(len(v)))
	if len(v) > 0 {
		e.write(v)
	}
}

type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) read(p []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: truncated input", ErrCorrupt)
		}
		d.err = err
	}
}

func (d *decoder) u8() uint8 {
	d.read(d.buf[:1])
	return d.buf[0]
}

func (d *decoder) u32() uint32 {
	d.read(d.buf[:4])
	return binary.LittleEndian.Uint32(d.buf[:4])
}

func (d *decoder) u64() uint64 {
	d.read(d.buf[:8])
	return binary.LittleEndian.Uint64(d.buf[:8])
}

func (d *decoder) length(elemSize int) int {
	n := d.u64()
	if d.err != nil {
		return 0
	}
	if n > maxElements/uint64(elemSize) {
		d.err = fmt.Errorf("%w: length %d too large", ErrCorrupt, n)
		return 0
	}
	if r, ok := d.r.(interface{ Remaining() int }); ok && n*uint64(elemSize) > uint64(r.Remaining()) {
		d.err = fmt.Errorf("%w: length %d exceeds remaining input", ErrCorrupt, n)
		return 0
	}
	return int(n)
}

func (d *decoder) floats() []float32 {
	n := d.length(4)
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, 4*n)
	d.read(b)
	if d.err != nil {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (d *decoder) int64s() []int64 {
	n := d.length(8)
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, 8*n)
	d.read(b)
	if d.err != nil {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

func (d *decoder) bytes() []byte {
	n := d.length(1)
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	d.read(b)
	return b
}

// Write serializes a float engine produced by this package.
func Write(w io.Writer, idx Index) error {
	e := &encoder{w: w}
	switch x := idx.(type) {
	case *Flat:
		e.write(tagFlat[:])
		e.u32(uint32(x.dim))
		e.u8(uint8(x.metric))
		e.floats(x.data)
	case *IVF:
		writeIVF(e, x)
	case *deviceIndex:
		return Write(w, x.host)
	default:
		return fmt.Errorf("%w: cannot serialize %T", ErrInvalidArgument, idx)
	}
	return e.err
}

func writeIVF(e *encoder, ivf *IVF) {
	switch ivf.params.Encoding {
	case IVFPQEncoding:
		e.write(tagIVFPQ[:])
	case IVFSQ8Encoding:
		e.write(tagIVFSQ8[:])
	default:
		e.write(tagIVFFlat[:])
	}
	e.u32(uint32(ivf.dim))
	e.u8(uint8(ivf.metric))
	e.u32(uint32(ivf.params.Nlist))
	e.u32(uint32(ivf.params.M))
	e.u32(uint32(ivf.params.Nbits))
	e.floats(ivf.centroids)
	if !ivf.IsTrained() {
		return
	}
	switch {
	case ivf.pq != nil:
		e.floats(ivf.pq.codebooks)
	case ivf.sq != nil:
		e.floats(ivf.sq.vmin)
		e.floats(ivf.sq.vmax)
	}
	for i := range ivf.lists {
		l := &ivf.lists[i]
		e.int64s(l.ids)
		e.floats(l.vecs)
		e.bytes(l.codes)
	}
}

// Read deserializes a float engine written by Write.
func Read(r io.Reader) (Index, error) {
	d := &decoder{r: r}
	var tag [4]byte
	d.read(tag[:])
	if d.err != nil {
		return nil, d.err
	}
	switch tag {
	case tagFlat:
		dim := int(d.u32())
		metric := Metric(d.u8())
		data := d.floats()
		if d.err != nil {
			return nil, d.err
		}
		f, err := NewFlat(dim, metric)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(data)%dim != 0 {
			return nil, fmt.Errorf("%w: flat payload not a multiple of dim", ErrCorrupt)
		}
		f.data = data
		return f, nil
	case tagIVFFlat, tagIVFPQ, tagIVFSQ8:
		return readIVF(d, tag)
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrCorrupt, tag[:])
	}
}

func readIVF(d *decoder, tag [4]byte) (*IVF, error) {
	dim := int(d.u32())
	metric := Metric(d.u8())
	params := IVFParams{Nlist: int(d.u32()), M: int(d.u32()), Nbits: int(d.u32())}
	switch tag {
	case tagIVFPQ:
		params.Encoding = IVFPQEncoding
	case tagIVFSQ8:
		params.Encoding = IVFSQ8Encoding
	}
	centroids := d.floats()
	if d.err != nil {
		return nil, d.err
	}
	ivf, err := NewIVF(dim, metric, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if centroids == nil {
		return ivf, nil
	}
	if len(centroids) != params.Nlist*dim {
		return nil, fmt.Errorf("%w: centroid payload mismatch", ErrCorrupt)
	}
	switch {
	case ivf.pq != nil:
		ivf.pq.codebooks = d.floats()
		if d.err == nil && len(ivf.pq.codebooks) != ivf.pq.m*ivf.pq.ksub*ivf.pq.dsub {
			return nil, fmt.Errorf("%w: codebook payload mismatch", ErrCorrupt)
		}
	case ivf.sq != nil:
		ivf.sq.vmin = d.floats()
		ivf.sq.vmax = d.floats()
		if d.err == nil && (len(ivf.sq.vmin) != dim || len(ivf.sq.vmax) != dim) {
			return nil, fmt.Errorf("%w: scalar quantizer payload mismatch", ErrCorrupt)
		}
	}

	lists := make([]invList, params.Nlist)
	var total int
	for i := range lists {
		lists[i] = invList{ids: d.int64s(), vecs: d.floats(), codes: d.bytes()}
		total += len(lists[i].ids)
	}
	if d.err != nil {
		return nil, d.err
	}
	vecsPer, codesPer := dim, 0
	if cs := ivf.codeSize(); cs > 0 {
		vecsPer, codesPer = 0, cs
	}
	locs := make([]listLoc, total)
	seen := make([]bool, total)
	for li := range lists {
		l := &lists[li]
		if len(l.vecs) != len(l.ids)*vecsPer || len(l.codes) != len(l.ids)*codesPer {
			return nil, fmt.Errorf("%w: list %d payload does not match its %d ids", ErrCorrupt, li, len(l.ids))
		}
		for off, id := range l.ids {
			if id < 0 || id >= int64(total) {
				return nil, fmt.Errorf("%w: list id %d out of range", ErrCorrupt, id)
			}
			if seen[id] {
				return nil, fmt.Errorf("%w: duplicate list id %d", ErrCorrupt, id)
			}
			seen[id] = true
			locs[id] = listLoc{list: int32(li), offset: int32(off)}
		}
	}
	ivf.lists = lists
	ivf.locs = locs
	ivf.centroids = centroids
	return ivf, nil
}

// WriteBinary serializes a binary engine produced by this package.
func WriteBinary(w io.Writer, idx BinaryIndex) error {
	b, ok := idx.(*BinaryFlat)
	if !ok {
		return fmt.Errorf("%w: cannot serialize %T", ErrInvalidArgument, idx)
	}
	e := &encoder{w: w}
	e.write(tagBinaryFlat[:])
	e.u32(uint32(b.dim))
	e.u8(uint8(b.metric))
	e.bytes(b.codes)
	return e.err
}

// ReadBinary deserializes a binary engine written by WriteBinary.
func ReadBinary(r io.Reader) (BinaryIndex, error) {
	d := &decoder{r: r}
	var tag [4]byte
	d.read(tag[:])
	if d.err == nil && tag != tagBinaryFlat {
		return nil, fmt.Errorf("%w: unknown tag %q", ErrCorrupt, tag[:])
	}
	dim := int(d.u32())
	metric := Metric(d.u8())
	codes := d.bytes()
	if d.err != nil {
		return nil, d.err
	}
	b, err := NewBinaryFlat(dim, metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(codes)%b.codeSize != 0 {
		return nil, fmt.Errorf("%w: binary payload not a multiple of code size", ErrCorrupt)
	}
	b.codes = codes
	return b, nil
}
