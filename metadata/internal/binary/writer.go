package binary

import (
	"bytes"
	"encoding/binary"
)

// Writer provides buffered little-endian writing for PE and metadata encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteU64 writes a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteIndex writes a 2- or 4-byte table or heap index.
func (w *Writer) WriteIndex(v uint32, width int) {
	if width == 2 {
		w.WriteU16(uint16(v))
		return
	}
	w.WriteU32(v)
}

// WriteCString writes s followed by a NUL byte.
func (w *Writer) WriteCString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// WriteCompressedU32 writes an ECMA-335 compressed unsigned integer.
// Values above 0x1FFFFFFF are not representable and are truncated.
func (w *Writer) WriteCompressedU32(v uint32) {
	w.buf.Write(EncodeCompressedU32(v))
}

// Pad writes zero bytes until the length is a multiple of align.
func (w *Writer) Pad(align int) {
	for w.buf.Len()%align != 0 {
		w.buf.WriteByte(0)
	}
}

// Zero writes n zero bytes.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.buf.WriteByte(0)
	}
}

// EncodeCompressedU32 encodes v in the 1, 2 or 4 byte compressed form.
func EncodeCompressedU32(v uint32) []byte {
	switch {
	case v <= 0x7F:
		return []byte{byte(v)}
	case v <= 0x3FFF:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		v &= 0x1FFFFFFF
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}
