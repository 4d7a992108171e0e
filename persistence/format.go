package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/annexec/binaryset"
	"github.com/hupe1980/annexec/internal/conv"
)

const (
	// MagicNumber identifies binary-set containers (ASCII "ANXS").
	MagicNumber = 0x53584E41
	// Version is the current container format version.
	Version = 1

	// maxSegmentSize bounds segment lengths read from untrusted input.
	maxSegmentSize = 1 << 40
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	// ErrCorrupt is returned for truncated or inconsistent containers.
	ErrCorrupt = errors.New("corrupt container")
)

// Container layout, all integers little-endian:
//
//	magic u32 | version u32 | count u32
//	count × { nameLen u16 | name | compression u8 | rawLen u64 | storedLen u64 | rawCRC u32 | payload }
//	crc u32 (over everything above)

// Encode writes set as a container. Segments are written in name order so
// equal sets encode to equal bytes.
func Encode(w io.Writer, set *binaryset.BinarySet, c Compression) error {
	cw := NewChecksumWriter(w)
	var buf [8]byte

	put32 := func(v uint32) error {
		binary.LittleEndian.PutUint32(buf[:4], v)
		_, err := cw.Write(buf[:4])
		return err
	}
	put64 := func(v uint64) error {
		binary.LittleEndian.PutUint64(buf[:8], v)
		_, err := cw.Write(buf[:8])
		return err
	}

	if err := put32(MagicNumber); err != nil {
		return err
	}
	if err := put32(Version); err != nil {
		return err
	}
	count, err := conv.IntToUint32(set.Len())
	if err != nil {
		return fmt.Errorf("persistence: segment count: %w", err)
	}
	if err := put32(count); err != nil {
		return err
	}

	for _, name := range set.Names() {
		nameLen, err := conv.IntToUint16(len(name))
		if err != nil {
			return fmt.Errorf("persistence: segment name: %w", err)
		}
		b, err := set.GetByName(name)
		if err != nil {
			return err
		}
		stored, used, err := compress(b.Data, c)
		if err != nil {
			return fmt.Errorf("persistence: compress %q: %w", name, err)
		}

		binary.LittleEndian.PutUint16(buf[:2], nameLen)
		if _, err := cw.Write(buf[:2]); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, name); err != nil {
			return err
		}
		if _, err := cw.Write([]byte{byte(used)}); err != nil {
			return err
		}
		if err := put64(uint64(len(b.Data))); err != nil {
			return err
		}
		if err := put64(uint64(len(stored))); err != nil {
			return err
		}
		if err := put32(ComputeChecksum(b.Data)); err != nil {
			return err
		}
		if _, err := cw.Write(stored); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(buf[:4], cw.Sum())
	_, err = w.Write(buf[:4])
	return err
}

type containerReader struct {
	cr  *ChecksumReader
	buf [8]byte
}

func (r *containerReader) read(p []byte) error {
	if _, err := io.ReadFull(r.cr, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated", ErrCorrupt)
		}
		return err
	}
	return nil
}

func (r *containerReader) u32() (uint32, error) {
	err := r.read(r.buf[:4])
	return binary.LittleEndian.Uint32(r.buf[:4]), err
}

func (r *containerReader) u64() (uint64, error) {
	err := r.read(r.buf[:8])
	return binary.LittleEndian.Uint64(r.buf[:8]), err
}

// Decode reads a container written by Encode and verifies every checksum.
func Decode(r io.Reader) (*binaryset.BinarySet, error) {
	br := bufio.NewReader(r)
	cr := &containerReader{cr: NewChecksumReader(br)}

	magic, err := cr.u32()
	if err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, magic)
	}
	version, err := cr.u32()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	count, err := cr.u32()
	if err != nil {
		return nil, err
	}

	set := binaryset.New()
	for i := uint32(0); i < count; i++ {
		if err := cr.read(cr.buf[:2]); err != nil {
			return nil, err
		}
		name := make([]byte, binary.LittleEndian.Uint16(cr.buf[:2]))
		if err := cr.read(name); err != nil {
			return nil, err
		}
		if err := cr.read(cr.buf[:1]); err != nil {
			return nil, err
		}
		comp := Compression(cr.buf[0])
		rawLen, err := cr.u64()
		if err != nil {
			return nil, err
		}
		storedLen, err := cr.u64()
		if err != nil {
			return nil, err
		}
		if rawLen > maxSegmentSize || storedLen > maxSegmentSize {
			return nil, fmt.Errorf("%w: segment %q too large", ErrCorrupt, name)
		}
		sum, err := cr.u32()
		if err != nil {
			return nil, err
		}
		stored := make([]byte, storedLen)
		if err := cr.read(stored); err != nil {
			return nil, err
		}
		size, err := conv.Uint64ToInt(rawLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		data, err := decompress(stored, comp, size)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", name, err)
		}
		if err := verify(sum, ComputeChecksum(data), string(name)); err != nil {
			return nil, err
		}
		if err := set.Append(string(name), data); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	expected := cr.cr.Sum()
	var trailer [4]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return nil, fmt.Errorf("%w: missing trailer", ErrCorrupt)
	}
	if err := verify(binary.LittleEndian.Uint32(trailer[:]), expected, ""); err != nil {
		return nil, err
	}
	return set, nil
}
