package codec

import (
	"strings"
	"testing"

	"github.com/opd-ai/netchannel/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	Name  string
	Where Vector3
}

func (p pair) Serialize(w *Writer) {
	w.PutString(p.Name)
	w.PutVector3(p.Where)
}

func (p *pair) Deserialize(r *Reader) {
	p.Name = r.String()
	p.Where = r.Vector3()
}

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutByte(0xAB)
	w.PutBool(true)
	w.PutBool(false)
	w.PutUint16(0xBEEF)
	w.PutUint32(0xDEADBEEF)
	w.PutInt32(-42)
	w.PutFloat32(3.5)
	w.PutString("héllo")
	w.PutVector3(Vector3{X: 1, Y: -2, Z: 3.25})
	w.PutQuaternion(Quaternion{X: 0.5, Y: 0.5, Z: -0.5, W: 0.5})
	w.Put(&pair{Name: "nested", Where: Vector3{Z: 9}})
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())
	assert.Equal(t, byte(0xAB), r.Byte())
	assert.True(t, r.Bool())
	assert.False(t, r.Bool())
	assert.Equal(t, uint16(0xBEEF), r.Uint16())
	assert.Equal(t, uint32(0xDEADBEEF), r.Uint32())
	assert.Equal(t, int32(-42), r.Int32())
	assert.Equal(t, float32(3.5), r.Float32())
	assert.Equal(t, "héllo", r.String())
	assert.Equal(t, Vector3{X: 1, Y: -2, Z: 3.25}, r.Vector3())
	assert.Equal(t, Quaternion{X: 0.5, Y: 0.5, Z: -0.5, W: 0.5}, r.Quaternion())

	var p pair
	r.Get(&p)
	assert.Equal(t, pair{Name: "nested", Where: Vector3{Z: 9}}, p)

	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())
}

func TestLittleEndianLayout(t *testing.T) {
	w := NewWriter()
	w.PutUint16(0x0102)
	w.PutString("ab")
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x00, 'a', 'b'}, w.Bytes())
}

func TestReaderShortBufferIsSticky(t *testing.T) {
	r := NewReader([]byte{0x01})

	assert.Equal(t, uint32(0), r.Uint32())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)

	// Further reads stay zero and keep the first error.
	assert.Equal(t, byte(0), r.Byte())
	assert.Equal(t, "", r.String())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestReaderRejectsHostileLengths(t *testing.T) {
	w := NewWriter()
	w.PutUint16(limits.MaxStringLength + 1)
	r := NewReader(w.Bytes())
	assert.Equal(t, "", r.String())
	assert.ErrorIs(t, r.Err(), ErrStringTooLong)

	w.Reset()
	w.PutUint16(limits.MaxCollectionLength + 1)
	r = NewReader(w.Bytes())
	assert.Equal(t, 0, r.Count())
	assert.ErrorIs(t, r.Err(), ErrCollectionTooLong)

	r = NewReader([]byte{0x02, 0x00, 0xff, 0xfe})
	assert.Equal(t, "", r.String())
	assert.ErrorIs(t, r.Err(), ErrInvalidString)
}

func TestWriterErrors(t *testing.T) {
	w := NewWriter()
	w.PutString(strings.Repeat("x", limits.MaxStringLength+1))
	assert.ErrorIs(t, w.Err(), ErrStringTooLong)

	// Writes after the first error are ignored.
	w.PutByte(1)
	assert.Equal(t, 0, w.Len())

	w.Reset()
	assert.NoError(t, w.Err())
	w.PutCount(limits.MaxCollectionLength + 1)
	assert.ErrorIs(t, w.Err(), ErrCollectionTooLong)
}

func TestReaderFailKeepsFirstError(t *testing.T) {
	r := NewReader(nil)
	r.Byte()
	r.Fail(ErrInvalidString)
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)

	r.Reset([]byte{7})
	assert.NoError(t, r.Err())
	assert.Equal(t, byte(7), r.Byte())
}
