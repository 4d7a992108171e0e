// Package binaryset holds the named byte segments an index serializes into,
// plus the in-memory writer and bounded reader that backend I/O runs over.
package binaryset

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned when a segment name is absent.
	ErrNotFound = errors.New("binary segment not found")
	// ErrOutOfRange is returned by MemoryReader when a read would pass the
	// end of its buffer.
	ErrOutOfRange = errors.New("read out of range")
	// ErrDuplicateName is returned by Append for a name already present.
	ErrDuplicateName = errors.New("duplicate binary segment")
)

// Binary is one named segment.
type Binary struct {
	Name string
	Data []byte
}

// Size returns the segment length.
func (b *Binary) Size() int64 { return int64(len(b.Data)) }

// BinarySet maps segment names to byte buffers. Names are unique; order is
// irrelevant. A BinarySet is not safe for concurrent mutation.
type BinarySet struct {
	segments map[string]*Binary
}

// New returns an empty set.
func New() *BinarySet {
	return &BinarySet{segments: make(map[string]*Binary)}
}

// Append adds a segment. The set takes ownership of data.
func (s *BinarySet) Append(name string, data []byte) error {
	if s.segments == nil {
		s.segments = make(map[string]*Binary)
	}
	if _, ok := s.segments[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	s.segments[name] = &Binary{Name: name, Data: data}
	return nil
}

// GetByName returns the named segment.
func (s *BinarySet) GetByName(name string) (*Binary, error) {
	if b, ok := s.segments[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Contains reports whether name is present.
func (s *BinarySet) Contains(name string) bool {
	_, ok := s.segments[name]
	return ok
}

// Names returns the segment names in sorted order.
func (s *BinarySet) Names() []string {
	names := make([]string, 0, len(s.segments))
	for n := range s.segments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of segments.
func (s *BinarySet) Len() int { return len(s.segments) }

// Size returns the total payload size.
func (s *BinarySet) Size() int64 {
	var n int64
	for _, b := range s.segments {
		n += b.Size()
	}
	return n
}
