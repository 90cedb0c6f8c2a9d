package codec_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmrecord/codec"
	"github.com/AlephTX/shmrecord/schema"
)

func TestEncodeDecodeScalar_F64(t *testing.T) {
	buf := make([]byte, 8)
	require.NoError(t, codec.EncodeScalar(buf, 0, schema.ScalarF64, 3.5))
	require.Equal(t, 3.5, codec.DecodeScalar(buf, 0, schema.ScalarF64))
}

func TestEncodeDecodeScalar_I32_CoercesIntKinds(t *testing.T) {
	buf := make([]byte, 4)
	require.NoError(t, codec.EncodeScalar(buf, 0, schema.ScalarI32, int32(-7)))
	require.Equal(t, int32(-7), codec.DecodeScalar(buf, 0, schema.ScalarI32))

	require.NoError(t, codec.EncodeScalar(buf, 0, schema.ScalarI32, int64(42)))
	require.Equal(t, int32(42), codec.DecodeScalar(buf, 0, schema.ScalarI32))
}

func TestEncodeScalar_Bool_RejectsNonBool(t *testing.T) {
	buf := make([]byte, 1)
	err := codec.EncodeScalar(buf, 0, schema.ScalarBool, "true")
	require.ErrorIs(t, err, codec.ErrEncode)
}

func TestEncodeScalar_RejectsNonNumeric(t *testing.T) {
	buf := make([]byte, 8)
	err := codec.EncodeScalar(buf, 0, schema.ScalarF64, "not a number")
	require.ErrorIs(t, err, codec.ErrEncode)
}

func TestEncodeDecodeString_RoundTrip(t *testing.T) {
	buf := make([]byte, 4+4*8)
	truncated := codec.EncodeString(buf, 0, 8, "hello")
	require.False(t, truncated)
	require.Equal(t, "hello", codec.DecodeString(buf, 0, 8))
}

func TestEncodeString_TruncatesByCodePointCount(t *testing.T) {
	buf := make([]byte, 4+4*3)
	// 5 code points, one of them multi-byte (é), against a limit of 3
	truncated := codec.EncodeString(buf, 0, 3, "héllo")
	require.True(t, truncated)
	decoded := codec.DecodeString(buf, 0, 3)
	require.Equal(t, 3, len([]rune(decoded)))
}

func TestEncodeString_EmptyFitsWithoutTruncation(t *testing.T) {
	buf := make([]byte, 4+4*5)
	truncated := codec.EncodeString(buf, 0, 5, "")
	require.False(t, truncated)
	require.Equal(t, "", codec.DecodeString(buf, 0, 5))
}

func TestEncodeDecodeArray_RoundTrip(t *testing.T) {
	buf := make([]byte, 4*6)
	src := codec.Array{Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}
	truncated, err := codec.EncodeArray(buf, 0, schema.ElemF32, []int{2, 3}, src)
	require.NoError(t, err)
	require.False(t, truncated)

	got := codec.DecodeArray(buf, 0, schema.ElemF32, []int{2, 3})
	want := codec.Array{Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}
	require.Empty(t, cmp.Diff(want, got))
}

func TestEncodeArray_TruncatesExcessElements(t *testing.T) {
	buf := make([]byte, 4*3)
	src := codec.Array{Data: []float32{1, 2, 3, 4, 5}}
	truncated, err := codec.EncodeArray(buf, 0, schema.ElemF32, []int{3}, src)
	require.NoError(t, err)
	require.True(t, truncated)

	got := codec.DecodeArray(buf, 0, schema.ElemF32, []int{3})
	require.Equal(t, []float32{1, 2, 3}, got.Data)
}

func TestEncodeArray_PadsShortElementsWithZero(t *testing.T) {
	buf := make([]byte, 4*4)
	src := codec.Array{Data: []int32{9, 9}}
	truncated, err := codec.EncodeArray(buf, 0, schema.ElemI32, []int{4}, src)
	require.NoError(t, err)
	require.True(t, truncated)

	got := codec.DecodeArray(buf, 0, schema.ElemI32, []int{4})
	require.Equal(t, []int32{9, 9, 0, 0}, got.Data)
}

func TestEncodeArray_ShapeMismatchWithEqualCountIsTruncated(t *testing.T) {
	buf := make([]byte, 4*6)
	src := codec.Array{Shape: []int{3, 2}, Data: []float32{1, 2, 3, 4, 5, 6}}
	truncated, err := codec.EncodeArray(buf, 0, schema.ElemF32, []int{2, 3}, src)
	require.NoError(t, err)
	require.True(t, truncated)
}

func TestEncodeArray_RejectsNonSliceValue(t *testing.T) {
	_, err := codec.EncodeArray(make([]byte, 4), 0, schema.ElemF32, []int{1}, codec.Array{Data: 3.14})
	require.ErrorIs(t, err, codec.ErrEncode)
}

func TestEncodeArray_CoercesConvertibleElementTypes(t *testing.T) {
	buf := make([]byte, 8*2)
	src := codec.Array{Data: []int{1, 2}}
	truncated, err := codec.EncodeArray(buf, 0, schema.ElemF64, []int{2}, src)
	require.NoError(t, err)
	require.False(t, truncated)

	got := codec.DecodeArray(buf, 0, schema.ElemF64, []int{2})
	require.Equal(t, []float64{1, 2}, got.Data)
}

func TestDecodeArray_DoesNotAliasSourceBuffer(t *testing.T) {
	buf := make([]byte, 4*2)
	_, err := codec.EncodeArray(buf, 0, schema.ElemF32, []int{2}, codec.Array{Data: []float32{1, 2}})
	require.NoError(t, err)

	got := codec.DecodeArray(buf, 0, schema.ElemF32, []int{2})
	data := got.Data.([]float32)
	data[0] = 999
	require.NotEqual(t, float32(999), codec.DecodeArray(buf, 0, schema.ElemF32, []int{2}).Data.([]float32)[0])
}
