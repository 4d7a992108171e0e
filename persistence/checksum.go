package persistence

import (
	"errors"
	"fmt"
	"hash"
	"io"

	ihash "github.com/hupe1980/annexec/internal/hash"
)

// ComputeChecksum computes the CRC32C of data. Checksums detect accidental
// corruption only; they are not tamper-proof.
func ComputeChecksum(data []byte) uint32 {
	return ihash.CRC32C(data)
}

// ChecksumWriter wraps an io.Writer and computes a running CRC32C.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

// NewChecksumWriter creates a checksumming writer.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{
		w:    w,
		hash: ihash.NewCRC32C(),
	}
}

// Write implements io.Writer.
func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	_, _ = cw.hash.Write(p[:n])
	return n, err
}

// Sum returns the checksum of everything written so far.
func (cw *ChecksumWriter) Sum() uint32 {
	return cw.hash.Sum32()
}

// ChecksumReader wraps an io.Reader and computes a running CRC32C.
type ChecksumReader struct {
	r    io.Reader
	hash hash.Hash32
}

// NewChecksumReader creates a checksumming reader.
func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{
		r:    r,
		hash: ihash.NewCRC32C(),
	}
}

// Read implements io.Reader.
func (cr *ChecksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		_, _ = cr.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the checksum of everything read so far.
func (cr *ChecksumReader) Sum() uint32 {
	return cr.hash.Sum32()
}

// Verify compares the running checksum with expected.
func (cr *ChecksumReader) Verify(expected uint32) error {
	return verify(expected, cr.Sum(), "")
}

func verify(expected, actual uint32, segment string) error {
	if expected != actual {
		return &ChecksumMismatchError{Segment: segment, Expected: expected, Actual: actual}
	}
	return nil
}

// ChecksumMismatchError is returned when a stored checksum does not match
// the data. Segment is empty for the container checksum.
type ChecksumMismatchError struct {
	Segment  string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("checksum mismatch in segment %q: expected 0x%08x, got 0x%08x", e.Segment, e.Expected, e.Actual)
	}
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrCorrupt) match checksum failures.
func (e *ChecksumMismatchError) Unwrap() error { return ErrCorrupt }

// IsChecksumMismatch reports whether err is or wraps a checksum mismatch.
func IsChecksumMismatch(err error) bool {
	var target *ChecksumMismatchError
	return errors.As(err, &target)
}
