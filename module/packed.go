package module

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a packed stream ends inside a value.
var ErrTruncated = errors.New("module: truncated packed stream")

// ---------------------------------------------------------------------------
// Packed integer codec
// ---------------------------------------------------------------------------

// PackedWriter appends variable-length signed integers to a byte buffer.
// Small magnitudes (registers, short branch offsets, the common pseudo
// registers) encode in a single byte.
type PackedWriter struct {
	buf []byte
}

// WriteByte appends a raw byte (used for opcodes).
func (w *PackedWriter) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteInt appends a zig-zag varint.
func (w *PackedWriter) WriteInt(n int) {
	w.buf = binary.AppendVarint(w.buf, int64(n))
}

// WriteInt64 appends a zig-zag varint from an int64.
func (w *PackedWriter) WriteInt64(n int64) {
	w.buf = binary.AppendVarint(w.buf, n)
}

// WriteInts appends a length-prefixed list of integers.
func (w *PackedWriter) WriteInts(ns []int) {
	w.WriteInt(len(ns))
	for _, n := range ns {
		w.WriteInt(n)
	}
}

// Bytes returns the encoded stream.
func (w *PackedWriter) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *PackedWriter) Len() int {
	return len(w.buf)
}

// PackedReader decodes a stream produced by PackedWriter. The first error
// sticks; subsequent reads return zero values.
type PackedReader struct {
	buf []byte
	pos int
	err error
}

// NewPackedReader wraps an encoded stream.
func NewPackedReader(b []byte) *PackedReader {
	return &PackedReader{buf: b}
}

// More reports whether unread bytes remain and no error occurred.
func (r *PackedReader) More() bool {
	return r.err == nil && r.pos < len(r.buf)
}

// Err returns the first decoding error.
func (r *PackedReader) Err() error {
	return r.err
}

// Pos returns the current byte offset.
func (r *PackedReader) Pos() int {
	return r.pos
}

// ReadByte reads one raw byte.
func (r *PackedReader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.pos >= len(r.buf) {
		r.err = ErrTruncated
		return 0, r.err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadInt reads one zig-zag varint.
func (r *PackedReader) ReadInt() int {
	return int(r.ReadInt64())
}

// ReadInt64 reads one zig-zag varint as int64.
func (r *PackedReader) ReadInt64() int64 {
	if r.err != nil {
		return 0
	}
	n, size := binary.Varint(r.buf[r.pos:])
	if size <= 0 {
		r.err = ErrTruncated
		return 0
	}
	r.pos += size
	return n
}

// ReadInts reads a length-prefixed list written by WriteInts.
func (r *PackedReader) ReadInts() []int {
	n := r.ReadInt()
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.pos {
		// every element takes at least one byte
		r.err = ErrTruncated
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = r.ReadInt()
	}
	if r.err != nil {
		return nil
	}
	return out
}
