// Package wire provides the fixed-order, length-prefixed, little-endian
// binary encoding used for every wire and storage type in spec.md §3/§6.
//
// Go has no bincode-compatible library; this package is the Go-native
// reading of "bincode-compatible" called for there — hand-written
// Marshal/Unmarshal methods per type, in the same spirit as the teacher's
// //go:generate sszgen manual-codec idiom (types/containers.go), but with a
// plain length-prefixed layout instead of SSZ's merkleization rules.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/leancorelabs/chain/errs"
)

// Writer appends fixed-order fields to an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hint size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteByte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteUint128 writes a 128-bit unsigned value as two little-endian u64
// limbs (lo, hi), the representation used for balances/amounts/stake.
func WriteUint128(w *Writer, lo, hi uint64) {
	w.WriteUint64(lo)
	w.WriteUint64(hi)
}

func (w *Writer) WriteFixed(b []byte) { w.buf = append(w.buf, b...) }

// WriteBytes writes a u32 length prefix followed by the bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Reader consumes fixed-order fields from a buffer, tracking position and
// the first error encountered so callers can chain Read calls and check
// once at the end.
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.fail(errs.Wrapf(errs.Validation, "%w: need %d bytes, have %d", errs.ErrMalformedInput, n, len(r.buf)-r.pos))
		return false
	}
	return true
}

func (r *Reader) ReadByte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *Reader) ReadUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) ReadUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) ReadUint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// ReadUint128 reads two little-endian u64 limbs (lo, hi).
func ReadUint128(r *Reader) (lo, hi uint64) {
	lo = r.ReadUint64()
	hi = r.ReadUint64()
	return
}

func (r *Reader) ReadFixed(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out
}

func (r *Reader) ReadBytes() []byte {
	n := r.ReadUint32()
	return r.ReadFixed(int(n))
}

// Done reports any trailing garbage after the expected fields as an error.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.buf) {
		return errs.Wrapf(errs.Validation, "%w: %d trailing bytes", errs.ErrMalformedInput, len(r.buf)-r.pos)
	}
	return nil
}

// Codec is implemented by every wire-format type in the repository.
type Codec interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// RoundTrip is a test helper: it marshals v, unmarshals into a fresh zero
// value of the same underlying type via decode, and returns it for
// comparison.
func RoundTrip(v Codec, decode func() Codec) (Codec, error) {
	b, err := v.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out := decode()
	if err := out.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}
