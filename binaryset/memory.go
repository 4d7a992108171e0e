package binaryset

import (
	"fmt"
	"io"
)

// MemoryWriter is a growable in-memory sink for backend writers.
type MemoryWriter struct {
	buf []byte
}

// NewMemoryWriter returns a writer with the given initial capacity.
func NewMemoryWriter(capacity int) *MemoryWriter {
	return &MemoryWriter{buf: make([]byte, 0, capacity)}
}

// Write appends p. It never fails.
func (w *MemoryWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Len returns the number of bytes written.
func (w *MemoryWriter) Len() int { return len(w.buf) }

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *MemoryWriter) Bytes() []byte { return w.buf }

// MemoryReader is a bounded reader over a segment. Unlike bytes.Reader,
// a read that cannot be satisfied in full fails with ErrOutOfRange instead
// of returning a short count, so truncated segments surface as errors at the
// first field that runs past the end.
type MemoryReader struct {
	data []byte
	pos  int
}

// NewMemoryReader returns a reader over data.
func NewMemoryReader(data []byte) *MemoryReader {
	return &MemoryReader{data: data}
}

// Read fills p entirely or fails. At the exact end it returns io.EOF.
func (r *MemoryReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	if len(p) > r.Remaining() {
		return 0, fmt.Errorf("%w: %d bytes requested at offset %d, %d available", ErrOutOfRange, len(p), r.pos, r.Remaining())
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// Remaining returns the number of unread bytes.
func (r *MemoryReader) Remaining() int { return len(r.data) - r.pos }

// Offset returns the read position.
func (r *MemoryReader) Offset() int { return r.pos }

// WriteTo writes the unread bytes to w.
func (r *MemoryReader) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.data[r.pos:])
	r.pos += n
	return int64(n), err
}
