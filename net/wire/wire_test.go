package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsInOrder(t *testing.T) {
	w := NewWriter(32)
	w.Uint8(100).Uint32(0xdeadbeef).Float32(-12.5)
	require.NoError(t, w.Str16("Alice"))
	require.NoError(t, w.Str8("sess"))

	r := NewReader(w.Bytes())

	op, err := r.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(100), op)

	u, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u)

	f, err := r.Float32()
	require.NoError(t, err)
	assert.Equal(t, float32(-12.5), f)

	s, err := r.Str16()
	require.NoError(t, err)
	assert.Equal(t, "Alice", s)

	s, err = r.Str8()
	require.NoError(t, err)
	assert.Equal(t, "sess", s)

	assert.Equal(t, 0, r.Remaining())
}

func TestLittleEndianLayout(t *testing.T) {
	w := &Writer{}
	w.Uint32(1)
	require.NoError(t, w.Str16("ab"))
	assert.Equal(t, []byte{1, 0, 0, 0, 2, 0, 'a', 'b'}, w.Bytes())
}

func TestStr16LengthPrefixExceedsBuffer(t *testing.T) {
	// Claims 10 bytes, carries 3
	r := NewReader([]byte{10, 0, 'a', 'b', 'c'})
	_, err := r.Str16()

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "str16", de.Field)
	assert.Equal(t, 12, de.Need)
	assert.Equal(t, 5, de.Have)
	assert.True(t, errors.Is(err, ErrTruncated))

	// Position is unchanged after a failed read
	assert.Equal(t, 5, r.Remaining())
}

func TestShortNumbers(t *testing.T) {
	for _, tc := range []struct {
		name string
		read func(r *Reader) error
		buf  []byte
	}{
		{"uint8", func(r *Reader) error { _, err := r.Uint8(); return err }, nil},
		{"uint16", func(r *Reader) error { _, err := r.Uint16(); return err }, []byte{1}},
		{"uint32", func(r *Reader) error { _, err := r.Uint32(); return err }, []byte{1, 2, 3}},
		{"float32", func(r *Reader) error { _, err := r.Float32(); return err }, []byte{1, 2}},
		{"str8", func(r *Reader) error { _, err := r.Str8(); return err }, []byte{4, 'x'}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(NewReader(tc.buf))
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestStr16ZTerminator(t *testing.T) {
	w := &Writer{}
	require.NoError(t, w.Str16Z("FFA"))
	w.Uint8(7)
	assert.Equal(t, []byte{3, 0, 'F', 'F', 'A', 0, 7}, w.Bytes())

	r := NewReader(w.Bytes())
	s, err := r.Str16Z()
	require.NoError(t, err)
	assert.Equal(t, "FFA", s)
	next, err := r.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), next)

	// A reader that ignores the terminator skips it
	r = NewReader(w.Bytes())
	s, err = r.Str16()
	require.NoError(t, err)
	assert.Equal(t, "FFA", s)
	r.SkipTerminator()
	next, err = r.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), next)
}

func TestStr16ZMissingTerminator(t *testing.T) {
	r := NewReader([]byte{1, 0, 'x', 9})
	_, err := r.Str16Z()
	assert.ErrorIs(t, err, ErrMissingTerminator)
	assert.Equal(t, 4, r.Remaining())

	r = NewReader([]byte{1, 0, 'x'})
	_, err = r.Str16Z()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestInvalidUTF8(t *testing.T) {
	r := NewReader([]byte{2, 0, 0xff, 0xfe})
	_, err := r.Str16()
	assert.ErrorIs(t, err, ErrInvalidString)
}

func TestStringTooLong(t *testing.T) {
	w := &Writer{}
	assert.ErrorIs(t, w.Str8(strings.Repeat("a", 256)), ErrStringTooLong)
	assert.ErrorIs(t, w.Str16(strings.Repeat("a", 1<<16)), ErrStringTooLong)
	assert.Equal(t, 0, w.Len())
}

func TestRestCopies(t *testing.T) {
	buf := []byte{1, 2, 3}
	r := NewReader(buf)
	_, _ = r.Uint8()
	rest := r.Rest()
	assert.Equal(t, []byte{2, 3}, rest)
	rest[0] = 9
	assert.Equal(t, byte(2), buf[1])
	assert.Equal(t, 0, r.Remaining())
}
