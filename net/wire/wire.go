// Package wire implements the field-level binary codec used by the team protocol.
// Writer pushes typed fields into a buffer, Reader pops them back in the same order.
// Multi-byte numbers are little-endian. The codec knows nothing about opcodes beyond
// the fact that they are a single uint8.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	MaxStr8  = math.MaxUint8
	MaxStr16 = math.MaxUint16
)

var ErrTruncated = errors.New("buffer truncated")
var ErrInvalidString = errors.New("string is not valid UTF-8")
var ErrStringTooLong = errors.New("string too long for length prefix")
var ErrMissingTerminator = errors.New("missing string terminator")

// DecodeError reports a field that needs more bytes than the buffer holds.
type DecodeError struct {
	Field string // Field type being decoded, e.g. "str16"
	Need  int    // Bytes required by the field
	Have  int    // Bytes remaining in the buffer
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decoding %s: need %d bytes, have %d", e.Field, e.Need, e.Have)
}

func (e *DecodeError) Unwrap() error {
	return ErrTruncated
}

// Writer accumulates encoded fields. The zero value is ready to use.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Uint16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) Float32(v float32) *Writer {
	return w.Uint32(math.Float32bits(v))
}

// Raw appends bytes without any prefix.
func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Str16 appends a uint16 length prefix followed by the UTF-8 bytes of s.
func (w *Writer) Str16(s string) error {
	if len(s) > MaxStr16 {
		return fmt.Errorf("str16 of %d bytes: %w", len(s), ErrStringTooLong)
	}
	w.Uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// Str16Z writes a str16 followed by a single zero byte for readers that expect
// null-terminated strings.
func (w *Writer) Str16Z(s string) error {
	if err := w.Str16(s); err != nil {
		return err
	}
	w.Uint8(0)
	return nil
}

func (w *Writer) Str8(s string) error {
	if len(s) > MaxStr8 {
		return fmt.Errorf("str8 of %d bytes: %w", len(s), ErrStringTooLong)
	}
	w.Uint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// Reader pops fields from a buffer. It never reads past the end; a short buffer
// yields a *DecodeError and leaves the read position unchanged.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) need(field string, n int) error {
	if r.Remaining() < n {
		return &DecodeError{Field: field, Need: n, Have: r.Remaining()}
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need("uint8", 1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need("uint16", 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need("uint32", 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Float32() (float32, error) {
	if err := r.need("float32", 4); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *Reader) Str16() (string, error) {
	if err := r.need("str16", 2); err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint16(r.buf[r.off:]))
	return r.str("str16", 2, n)
}

// Str16Z reads a str16 written by Str16Z and consumes its zero terminator.
func (r *Reader) Str16Z() (string, error) {
	start := r.off
	s, err := r.Str16()
	if err != nil {
		return "", err
	}
	if err := r.need("str16z", 1); err != nil {
		r.off = start
		return "", err
	}
	if r.buf[r.off] != 0 {
		r.off = start
		return "", fmt.Errorf("wire: decoding str16z: %w", ErrMissingTerminator)
	}
	r.off++
	return s, nil
}

func (r *Reader) Str8() (string, error) {
	if err := r.need("str8", 1); err != nil {
		return "", err
	}
	n := int(r.buf[r.off])
	return r.str("str8", 1, n)
}

func (r *Reader) str(field string, prefix, n int) (string, error) {
	if err := r.need(field, prefix+n); err != nil {
		return "", err
	}
	b := r.buf[r.off+prefix : r.off+prefix+n]
	if !utf8.Valid(b) {
		return "", fmt.Errorf("wire: decoding %s: %w", field, ErrInvalidString)
	}
	r.off += prefix + n
	return string(b), nil
}

// SkipTerminator consumes a single zero byte if one is next. Readers that do not
// care about the terminator of a Str16Z field can use Str16 followed by this.
func (r *Reader) SkipTerminator() {
	if r.Remaining() > 0 && r.buf[r.off] == 0 {
		r.off++
	}
}

// Rest returns a copy of every byte not yet consumed.
func (r *Reader) Rest() []byte {
	rest := make([]byte, r.Remaining())
	copy(rest, r.buf[r.off:])
	r.off = len(r.buf)
	return rest
}
