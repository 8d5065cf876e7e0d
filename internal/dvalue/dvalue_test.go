/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dvalue

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes v, decodes the result and checks for bit-exact equality
// and full consumption of the encoded bytes.
func roundTrip(t *testing.T, v Value) []byte {
	t.Helper()

	encoded := Append(nil, v)
	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n, "decode must consume the full encoding")
	assert.Equal(t, v, decoded)
	return encoded
}

func TestRoundTrip_Markers(t *testing.T) {
	t.Parallel()

	for _, v := range []Value{EOM(), Request(), Reply(), ErrMarker(), Notify(), Unused(), Undefined(), Null()} {
		encoded := roundTrip(t, v)
		assert.Len(t, encoded, 1)
	}
}

func TestRoundTrip_Integers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       int32
		wantLen int
	}{
		{"zero", 0, 1},
		{"largest one-byte packed", 63, 1},
		{"smallest two-byte packed", 64, 2},
		{"largest two-byte packed", 16383, 2},
		{"one above packed range", 16384, 5},
		{"negative", -1, 5},
		{"int32 min", math.MinInt32, 5},
		{"int32 max", math.MaxInt32, 5},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			encoded := roundTrip(t, Int(tc.n))
			assert.Len(t, encoded, tc.wantLen)
		})
	}
}

func TestRoundTrip_Strings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		s       string
		wantLen int
	}{
		{"empty", "", 1},
		{"largest packed", strings.Repeat("a", 31), 32},
		{"one above packed threshold", strings.Repeat("a", 32), 35},
		{"multibyte utf8", "héllo wörld", 1 + len("héllo wörld")},
		{"long str32", strings.Repeat("x", 0x10000), 5 + 0x10000},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			encoded := roundTrip(t, String(tc.s))
			assert.Len(t, encoded, tc.wantLen)
		})
	}
}

func TestRoundTrip_BuffersAndNumbers(t *testing.T) {
	t.Parallel()

	roundTrip(t, Buffer([]byte{}))
	roundTrip(t, Buffer([]byte{0x00, 0x01, 0xff}))
	roundTrip(t, Bool(true))
	roundTrip(t, Bool(false))
	roundTrip(t, Number(0))
	roundTrip(t, Number(-123.456))
	roundTrip(t, Number(math.Inf(1)))

	// NaN round-trips bit-for-bit even though NaN != NaN.
	encoded := Append(nil, Number(math.NaN()))
	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.True(t, math.IsNaN(decoded.Num))
}

func TestRoundTrip_PointerValues(t *testing.T) {
	t.Parallel()

	p32 := NewPointer32(0xdeadbeef)
	p64 := NewPointer64(0x12345678, 0x9abcdef0)

	roundTrip(t, Object(10, p32))
	roundTrip(t, Object(6, p64))
	roundTrip(t, RawPointer(p32))
	roundTrip(t, HeapPtr(p64))
	roundTrip(t, LightFunc(0x0a2f, p32))
}

func TestPointer_CanonicalString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0xdeadbeef", NewPointer32(0xdeadbeef).String())
	assert.Equal(t, "0x00000001", NewPointer32(1).String())
	assert.Equal(t, "0x123456789abcdef0", NewPointer64(0x12345678, 0x9abcdef0).String())

	// Identity: same canonical form means same object.
	assert.Equal(t, NewPointer64(0, 5).String(), NewPointer64(0, 5).String())
	assert.NotEqual(t, NewPointer32(5).String(), NewPointer64(0, 5).String())

	assert.True(t, NewPointer32(0).IsNull())
	assert.False(t, NewPointer64(1, 0).IsNull())
}

func TestDecode_Truncated(t *testing.T) {
	t.Parallel()

	// Every prefix of a multi-byte encoding must yield ErrTruncated.
	full := Append(nil, String(strings.Repeat("s", 40)))
	for i := 0; i < len(full); i++ {
		_, n, err := Decode(full[:i])
		assert.ErrorIs(t, err, ErrTruncated, "prefix length %d", i)
		assert.Zero(t, n)
	}

	for _, v := range []Value{Int(100000), Number(1.5), Object(10, NewPointer64(1, 2)), Buffer(make([]byte, 10))} {
		full := Append(nil, v)
		_, _, err := Decode(full[:len(full)-1])
		assert.ErrorIs(t, err, ErrTruncated)
	}
}

func TestDecode_BadTag(t *testing.T) {
	t.Parallel()

	for _, tag := range []byte{0x05, 0x0f, 0x1f, 0x20, 0x5f} {
		_, _, err := Decode([]byte{tag})
		assert.ErrorIs(t, err, ErrBadTag, "tag 0x%02x", tag)
	}
}

func TestDecode_PackedRangeArithmetic(t *testing.T) {
	t.Parallel()

	// Packed forms decode by tag-range arithmetic, byte-exact.
	v, n, err := Decode([]byte{0x80})
	require.NoError(t, err)
	assert.Equal(t, Int(0), v)
	assert.Equal(t, 1, n)

	v, _, err = Decode([]byte{0xbf})
	require.NoError(t, err)
	assert.Equal(t, Int(63), v)

	v, n, err = Decode([]byte{0xc0, 0x40})
	require.NoError(t, err)
	assert.Equal(t, Int(64), v)
	assert.Equal(t, 2, n)

	v, _, err = Decode([]byte{0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, Int(16383), v)

	v, n, err = Decode([]byte{0x63, 'a', 'b', 'c'})
	require.NoError(t, err)
	assert.Equal(t, String("abc"), v)
	assert.Equal(t, 4, n)
}

func TestDecode_NoLookahead(t *testing.T) {
	t.Parallel()

	// Trailing garbage after a complete value must not disturb the decode.
	buf := Append(nil, Int(42))
	buf = append(buf, 0xde, 0xad)
	v, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)
	assert.Equal(t, 1, n)
}
