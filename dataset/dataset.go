// Package dataset provides the non-owning dataset view passed into index
// operations and the result containers they return.
package dataset

import (
	"errors"
	"fmt"
)

// ErrInvalidDataset is returned when a dataset's shape does not match its data.
var ErrInvalidDataset = errors.New("invalid dataset")

// Encoding describes the element type of a dataset's tensor.
type Encoding uint8

const (
	// Float32 is a dense row-major float32 tensor.
	Float32 Encoding = iota
	// Binary is a packed bit tensor; Dim counts bits, each row has Dim/8 bytes.
	Binary
)

func (e Encoding) String() string {
	switch e {
	case Float32:
		return "float32"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("Encoding(%d)", e)
	}
}

// Dataset is a read-only view over row-major vectors owned by the caller.
// The index never writes to it.
type Dataset struct {
	rows     int
	dim      int
	encoding Encoding
	floats   []float32
	bytes    []byte
	ids      []int64
}

// FromFloat32 wraps rows×dim float32 values.
func FromFloat32(rows, dim int, data []float32) (*Dataset, error) {
	if rows < 0 || dim <= 0 {
		return nil, fmt.Errorf("%w: rows=%d dim=%d", ErrInvalidDataset, rows, dim)
	}
	if len(data) != rows*dim {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInvalidDataset, rows*dim, len(data))
	}
	return &Dataset{rows: rows, dim: dim, encoding: Float32, floats: data}, nil
}

// FromBinary wraps rows packed binary vectors of dim bits each.
// dim must be a multiple of 8.
func FromBinary(rows, dim int, data []byte) (*Dataset, error) {
	if rows < 0 || dim <= 0 || dim%8 != 0 {
		return nil, fmt.Errorf("%w: rows=%d dim=%d (dim must be a positive multiple of 8)", ErrInvalidDataset, rows, dim)
	}
	if len(data) != rows*dim/8 {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidDataset, rows*dim/8, len(data))
	}
	return &Dataset{rows: rows, dim: dim, encoding: Binary, bytes: data}, nil
}

// FromIDs wraps an id list, as used by GetVectorByIds.
func FromIDs(ids []int64) *Dataset {
	return &Dataset{rows: len(ids), ids: ids}
}

// WithIDs returns a shallow copy of d carrying external ids.
func (d *Dataset) WithIDs(ids []int64) (*Dataset, error) {
	if len(ids) != d.rows {
		return nil, fmt.Errorf("%w: %d ids for %d rows", ErrInvalidDataset, len(ids), d.rows)
	}
	cp := *d
	cp.ids = ids
	return &cp, nil
}

// Rows returns the number of vectors.
func (d *Dataset) Rows() int { return d.rows }

// Dim returns the vector dimension (bits for binary datasets).
func (d *Dataset) Dim() int { return d.dim }

// Encoding returns the tensor element encoding.
func (d *Dataset) Encoding() Encoding { return d.encoding }

// Float32 returns the dense tensor. Nil for binary datasets.
func (d *Dataset) Float32() []float32 { return d.floats }

// Binary returns the packed tensor. Nil for float datasets.
func (d *Dataset) Binary() []byte { return d.bytes }

// IDs returns the optional external id list.
func (d *Dataset) IDs() []int64 { return d.ids }

// CodeSize returns the number of bytes per binary row.
func (d *Dataset) CodeSize() int { return d.dim / 8 }

// Row returns the i-th float vector.
func (d *Dataset) Row(i int) []float32 {
	return d.floats[i*d.dim : (i+1)*d.dim]
}

// BinaryRow returns the i-th packed binary vector.
func (d *Dataset) BinaryRow(i int) []byte {
	cs := d.CodeSize()
	return d.bytes[i*cs : (i+1)*cs]
}
