// Package codec reads and writes typed field values at a computed offset
// inside a slot's body. It enforces the truncation semantics of spec.md
// §4.C: truncation is data-plane (reported as a bool, never returned as an
// error) while a value that cannot be coerced to the declared type at all
// is an EncodeError.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/AlephTX/shmrecord/schema"
)

// ErrEncode is wrapped by any failure to coerce a source value to a
// field's declared type. Distinct from truncation, which is never an
// error.
var ErrEncode = errors.New("codec: value cannot be encoded to declared type")

// Array is the codec's representation of an array field's value: a flat,
// row-major slice of the element type, tagged with the shape the caller
// believes it has. DecodeArray always returns a freshly allocated Array
// whose Data does not alias the shared region.
type Array struct {
	Shape []int
	Data  any
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// EncodeScalar writes value, coerced to t, at offset. value may be any
// numeric Go type convertible to the declared scalar type.
func EncodeScalar(buf []byte, offset int, t schema.ScalarType, value any) error {
	switch t {
	case schema.ScalarF64:
		f, err := toFloat64(value)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(f))
	case schema.ScalarI32:
		i, err := toInt64(value)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(i)))
	case schema.ScalarBool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %T is not bool", ErrEncode, value)
		}
		if b {
			buf[offset] = 1
		} else {
			buf[offset] = 0
		}
	default:
		return fmt.Errorf("%w: unknown scalar type", ErrEncode)
	}
	return nil
}

// DecodeScalar reads the scalar value at offset. The returned value is
// float64, int32, or bool depending on t.
func DecodeScalar(buf []byte, offset int, t schema.ScalarType) any {
	switch t {
	case schema.ScalarF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:]))
	case schema.ScalarI32:
		return int32(binary.LittleEndian.Uint32(buf[offset:]))
	case schema.ScalarBool:
		return buf[offset] != 0
	default:
		return nil
	}
}

// EncodeString writes s, truncating to maxChars Unicode code points if
// necessary, as a u32 byte-length prefix followed by the UTF-8 payload.
// Returns true if truncation occurred.
func EncodeString(buf []byte, offset int, maxChars int, s string) bool {
	truncated := false
	if utf8.RuneCountInString(s) > maxChars {
		runes := []rune(s)
		s = string(runes[:maxChars])
		truncated = true
	}
	encoded := []byte(s)
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(encoded)))
	copy(buf[offset+4:], encoded)
	return truncated
}

// DecodeString reads a string field. Invalid UTF-8 is replaced with the
// Unicode replacement character rather than failing — a torn write is
// caught by the seqlock, not here.
func DecodeString(buf []byte, offset int, maxChars int) string {
	length := binary.LittleEndian.Uint32(buf[offset:])
	capacity := uint32(4 * maxChars)
	if length > capacity {
		length = capacity
	}
	raw := buf[offset+4 : offset+4+int(length)]
	return toValidUTF8(raw)
}

func toValidUTF8(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	out := make([]rune, 0, len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		out = append(out, r)
		i += size
	}
	return string(out)
}

// EncodeArray coerces src to elem's Go type, flattens it in row-major
// order, and writes exactly product(shape) elements at offset. If src has
// more elements than the declared shape, the excess is dropped and
// truncated is set. If it has fewer, the remainder is zero-padded and
// truncated is set. If src.Shape is non-empty and differs from the
// declared shape even when element counts match, truncated is also set
// (spec.md §4.C, §9); an empty src.Shape is not compared.
func EncodeArray(buf []byte, offset int, elem schema.ElementType, shape []int, src Array) (truncated bool, err error) {
	expected := product(shape)
	flat, err := coerceSlice(elem, src.Data)
	if err != nil {
		return false, err
	}

	if len(src.Shape) > 0 && !shapeEqual(src.Shape, shape) {
		truncated = true
	}

	n := reflect.ValueOf(flat).Len()
	if n > expected {
		truncated = true
		flat = reflect.ValueOf(flat).Slice(0, expected).Interface()
	} else if n < expected {
		truncated = true
		flat = padSlice(elem, flat, expected)
	}

	writeElements(buf, offset, elem, flat)
	return truncated, nil
}

// DecodeArray reads product(shape) elements of type elem starting at
// offset, returning a freshly allocated Array whose Data does not alias
// the shared region.
func DecodeArray(buf []byte, offset int, elem schema.ElementType, shape []int) Array {
	n := product(shape)
	data := readElements(buf, offset, elem, n)
	return Array{Shape: append([]int(nil), shape...), Data: data}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("%w: %T is not numeric", ErrEncode, v)
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), nil
	}
	return 0, fmt.Errorf("%w: %T is not numeric", ErrEncode, v)
}

// elemGoType maps a declared element type to its Go slice element type.
func elemGoType(elem schema.ElementType) reflect.Type {
	switch elem {
	case schema.ElemF32:
		return reflect.TypeOf(float32(0))
	case schema.ElemF64:
		return reflect.TypeOf(float64(0))
	case schema.ElemI8:
		return reflect.TypeOf(int8(0))
	case schema.ElemI16:
		return reflect.TypeOf(int16(0))
	case schema.ElemI32:
		return reflect.TypeOf(int32(0))
	case schema.ElemI64:
		return reflect.TypeOf(int64(0))
	case schema.ElemU8:
		return reflect.TypeOf(uint8(0))
	case schema.ElemU16:
		return reflect.TypeOf(uint16(0))
	case schema.ElemU32:
		return reflect.TypeOf(uint32(0))
	case schema.ElemU64:
		return reflect.TypeOf(uint64(0))
	case schema.ElemBool:
		return reflect.TypeOf(false)
	default:
		return nil
	}
}

// coerceSlice converts src (expected to be a slice of some numeric/bool
// type) into a slice of elem's Go type, converting element-wise.
func coerceSlice(elem schema.ElementType, src any) (any, error) {
	goType := elemGoType(elem)
	if goType == nil {
		return nil, fmt.Errorf("%w: unknown element type", ErrEncode)
	}
	rv := reflect.ValueOf(src)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: array value must be a slice, got %T", ErrEncode, src)
	}
	if rv.Type().Elem() == goType {
		return src, nil
	}

	out := reflect.MakeSlice(reflect.SliceOf(goType), rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ev := rv.Index(i)
		if ev.Kind() == goType.Kind() || ev.CanConvert(goType) {
			out.Index(i).Set(ev.Convert(goType))
			continue
		}
		return nil, fmt.Errorf("%w: element %d of type %s cannot convert to %s", ErrEncode, i, ev.Type(), goType)
	}
	return out.Interface(), nil
}

func padSlice(elem schema.ElementType, src any, n int) any {
	goType := elemGoType(elem)
	rv := reflect.ValueOf(src)
	out := reflect.MakeSlice(reflect.SliceOf(goType), n, n)
	reflect.Copy(out, rv)
	return out.Interface()
}

func writeElements(buf []byte, offset int, elem schema.ElementType, flat any) {
	rv := reflect.ValueOf(flat)
	size, _ := elemSize(elem)
	for i := 0; i < rv.Len(); i++ {
		o := offset + i*size
		writeOne(buf, o, elem, rv.Index(i))
	}
}

func readElements(buf []byte, offset int, elem schema.ElementType, n int) any {
	goType := elemGoType(elem)
	out := reflect.MakeSlice(reflect.SliceOf(goType), n, n)
	size, _ := elemSize(elem)
	for i := 0; i < n; i++ {
		o := offset + i*size
		out.Index(i).Set(readOne(buf, o, elem))
	}
	return out.Interface()
}

func elemSize(elem schema.ElementType) (int, bool) {
	switch elem {
	case schema.ElemF32, schema.ElemI32, schema.ElemU32:
		return 4, true
	case schema.ElemF64, schema.ElemI64, schema.ElemU64:
		return 8, true
	case schema.ElemI16, schema.ElemU16:
		return 2, true
	case schema.ElemI8, schema.ElemU8, schema.ElemBool:
		return 1, true
	default:
		return 0, false
	}
}

func writeOne(buf []byte, offset int, elem schema.ElementType, v reflect.Value) {
	switch elem {
	case schema.ElemF32:
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(float32(v.Float())))
	case schema.ElemF64:
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(v.Float()))
	case schema.ElemI8:
		buf[offset] = byte(int8(v.Int()))
	case schema.ElemU8:
		buf[offset] = byte(uint8(v.Uint()))
	case schema.ElemBool:
		if v.Bool() {
			buf[offset] = 1
		} else {
			buf[offset] = 0
		}
	case schema.ElemI16:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(int16(v.Int())))
	case schema.ElemU16:
		binary.LittleEndian.PutUint16(buf[offset:], uint16(v.Uint()))
	case schema.ElemI32:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(int32(v.Int())))
	case schema.ElemU32:
		binary.LittleEndian.PutUint32(buf[offset:], uint32(v.Uint()))
	case schema.ElemI64:
		binary.LittleEndian.PutUint64(buf[offset:], uint64(v.Int()))
	case schema.ElemU64:
		binary.LittleEndian.PutUint64(buf[offset:], v.Uint())
	}
}

func readOne(buf []byte, offset int, elem schema.ElementType) reflect.Value {
	switch elem {
	case schema.ElemF32:
		return reflect.ValueOf(math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:])))
	case schema.ElemF64:
		return reflect.ValueOf(math.Float64frombits(binary.LittleEndian.Uint64(buf[offset:])))
	case schema.ElemI8:
		return reflect.ValueOf(int8(buf[offset]))
	case schema.ElemU8:
		return reflect.ValueOf(uint8(buf[offset]))
	case schema.ElemBool:
		return reflect.ValueOf(buf[offset] != 0)
	case schema.ElemI16:
		return reflect.ValueOf(int16(binary.LittleEndian.Uint16(buf[offset:])))
	case schema.ElemU16:
		return reflect.ValueOf(binary.LittleEndian.Uint16(buf[offset:]))
	case schema.ElemI32:
		return reflect.ValueOf(int32(binary.LittleEndian.Uint32(buf[offset:])))
	case schema.ElemU32:
		return reflect.ValueOf(binary.LittleEndian.Uint32(buf[offset:]))
	case schema.ElemI64:
		return reflect.ValueOf(int64(binary.LittleEndian.Uint64(buf[offset:])))
	case schema.ElemU64:
		return reflect.ValueOf(binary.LittleEndian.Uint64(buf[offset:]))
	default:
		return reflect.Value{}
	}
}
