package backend

import "io"

// Factory constructs and (de)serializes engines. Index variants obtain their
// engines exclusively through a Factory so an alternate numeric library can
// be swapped in without touching the execution layer.
type Factory interface {
	Name() string
	NewFlat(dim int, metric Metric) (Index, error)
	NewBinaryFlat(dim int, metric Metric) (BinaryIndex, error)
	NewIVF(dim int, metric Metric, params IVFParams) (Index, error)

	Write(w io.Writer, idx Index) error
	Read(r io.Reader) (Index, error)
	WriteBinary(w io.Writer, idx BinaryIndex) error
	ReadBinary(r io.Reader) (BinaryIndex, error)
}

// Native is the pure-Go engine factory.
var Native Factory = nativeFactory{}

type nativeFactory struct{}

func (nativeFactory) Name() string { return "native" }

func (nativeFactory) NewFlat(dim int, metric Metric) (Index, error) {
	return NewFlat(dim, metric)
}

func (nativeFactory) NewBinaryFlat(dim int, metric Metric) (BinaryIndex, error) {
	return NewBinaryFlat(dim, metric)
}

func (nativeFactory) NewIVF(dim int, metric Metric, params IVFParams) (Index, error) {
	return NewIVF(dim, metric, params)
}

func (nativeFactory) Write(w io.Writer, idx Index) error { return Write(w, idx) }

func (nativeFactory) Read(r io.Reader) (Index, error) { return Read(r) }

func (nativeFactory) WriteBinary(w io.Writer, idx BinaryIndex) error { return WriteBinary(w, idx) }

func (nativeFactory) ReadBinary(r io.Reader) (BinaryIndex, error) { return ReadBinary(r) }
