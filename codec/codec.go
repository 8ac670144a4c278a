package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/opd-ai/netchannel/limits"
)

var (
	// ErrShortBuffer is returned when a read runs past the end of the input.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrStringTooLong is returned for strings longer than limits.MaxStringLength.
	ErrStringTooLong = errors.New("codec: string too long")
	// ErrInvalidString is returned for strings that are not valid UTF-8.
	ErrInvalidString = errors.New("codec: invalid utf-8 string")
	// ErrCollectionTooLong is returned for counts above limits.MaxCollectionLength.
	ErrCollectionTooLong = errors.New("codec: collection too long")
)

var le = binary.LittleEndian

// Serializable is implemented by every value that can be nested in a message.
type Serializable interface {
	Serialize(w *Writer)
	Deserialize(r *Reader)
}

// Writer appends encoded values to a reusable buffer.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a writer with a buffer sized for one packet.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, limits.MaxPacketSize)}
}

// Reset clears the buffer and the sticky error, keeping capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// Bytes returns the encoded bytes. The slice is reused after Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of encoded bytes.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first error encountered while writing.
func (w *Writer) Err() error {
	return w.err
}

// PutByte writes a single byte.
func (w *Writer) PutByte(v byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// PutBool writes a bool as one byte.
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutByte(1)
	} else {
		w.PutByte(0)
	}
}

// PutUint16 writes a little-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = le.AppendUint16(w.buf, v)
}

// PutUint32 writes a little-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = le.AppendUint32(w.buf, v)
}

// PutInt32 writes a little-endian int32.
func (w *Writer) PutInt32(v int32) {
	w.PutUint32(uint32(v))
}

// PutFloat32 writes an IEEE-754 float32.
func (w *Writer) PutFloat32(v float32) {
	w.PutUint32(math.Float32bits(v))
}

// PutString writes a length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	if w.err != nil {
		return
	}
	if len(s) > limits.MaxStringLength {
		w.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return
	}
	if !utf8.ValidString(s) {
		w.err = ErrInvalidString
		return
	}
	w.PutUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// PutCount writes the element count that precedes a slice.
func (w *Writer) PutCount(n int) {
	if w.err != nil {
		return
	}
	if n < 0 || n > limits.MaxCollectionLength {
		w.err = fmt.Errorf("%w: %d elements", ErrCollectionTooLong, n)
		return
	}
	w.PutUint16(uint16(n))
}

// Put writes a nested value using its own Serialize method.
func (w *Writer) Put(v Serializable) {
	if w.err != nil {
		return
	}
	v.Serialize(w)
}

// Reader decodes values from a byte slice.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a reader over data. The reader does not copy data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Reset points the reader at new data and clears the sticky error.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
	r.err = nil
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Fail records err as the sticky error if none is set yet. Nested types
// use it to report semantic decode failures.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, r.Remaining())
		r.pos = len(r.data)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a bool; any non-zero byte is true.
func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return le.Uint16(b)
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return le.Uint32(b)
}

// Int32 reads a little-endian int32.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

// Float32 reads an IEEE-754 float32.
func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() string {
	n := int(r.Uint16())
	if r.err != nil {
		return ""
	}
	if n > limits.MaxStringLength {
		r.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = ErrInvalidString
		return ""
	}
	return string(b)
}

// Count reads the element count that precedes a slice.
func (r *Reader) Count() int {
	n := int(r.Uint16())
	if r.err != nil {
		return 0
	}
	if n > limits.MaxCollectionLength {
		r.err = fmt.Errorf("%w: %d elements", ErrCollectionTooLong, n)
		return 0
	}
	return n
}

// Get decodes a nested value in place using its own Deserialize method.
func (r *Reader) Get(v Serializable) {
	if r.err != nil {
		return
	}
	v.Deserialize(r)
}
