package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadCompressed is returned when a compressed integer has an invalid lead byte.
var ErrBadCompressed = errors.New("compressed integer: invalid encoding")

// Reader is a position-tracking little-endian reader over an in-memory slice.
// Metadata heaps are addressed by offset, so the reader supports seeking.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data positioned at 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// Seek moves to an absolute position.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return r.wrapError(io.ErrUnexpectedEOF)
	}
	r.pos = pos
	return nil
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) error {
	return r.Seek(r.pos + n)
}

// Align4 advances to the next 4-byte boundary relative to the slice start.
func (r *Reader) Align4() error {
	return r.Seek((r.pos + 3) &^ 3)
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	return r.data[r.pos], nil
}

// ReadBytes reads exactly n bytes. The result aliases the underlying slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, r.wrapError(io.ErrUnexpectedEOF)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadIndex reads a 2- or 4-byte table or heap index.
func (r *Reader) ReadIndex(width int) (uint32, error) {
	if width == 2 {
		v, err := r.ReadU16()
		return uint32(v), err
	}
	return r.ReadU32()
}

// ReadCompressedU32 reads an ECMA-335 II.23.2 compressed unsigned integer.
func (r *Reader) ReadCompressedU32() (uint32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	}
	return 0, r.wrapError(ErrBadCompressed)
}

// ReadCompressedI32 reads an ECMA-335 compressed signed integer, where the
// sign bit is rotated into the least significant position.
func (r *Reader) ReadCompressedI32() (int32, error) {
	start := r.pos
	u, err := r.ReadCompressedU32()
	if err != nil {
		return 0, err
	}
	v := int32(u >> 1)
	if u&1 == 0 {
		return v, nil
	}
	switch r.pos - start {
	case 1:
		return v - 0x40, nil
	case 2:
		return v - 0x2000, nil
	default:
		return v - 0x10000000, nil
	}
}

// ReadCString reads a NUL-terminated string.
func (r *Reader) ReadCString() (string, error) {
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.pos:i])
			r.pos = i + 1
			return s, nil
		}
	}
	return "", r.wrapError(io.ErrUnexpectedEOF)
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError represents an error during metadata parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("metadata: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("metadata: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
