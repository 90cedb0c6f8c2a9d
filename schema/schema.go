// Package schema declares record field descriptors and compiles them into
// the deterministic byte layout that writer and reader processes must
// agree on. The layout is the interoperability contract: two processes
// that compile the same field list, in the same order, with the same type
// parameters, produce byte-identical offsets.
package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error Compile returns is one of these or wraps
// one via %w, so callers can test the failure class with errors.Is.
var (
	ErrUnsupportedType = errors.New("schema: unsupported field type")
	ErrInvalidSize     = errors.New("schema: non-positive size")
	ErrDuplicateName   = errors.New("schema: duplicate field name")
	ErrEmptySchema     = errors.New("schema: schema has no fields")
)

// Kind is the top-level shape of a field.
type Kind int

const (
	KindScalar Kind = iota
	KindString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// ScalarType enumerates the supported scalar field types.
type ScalarType int

const (
	ScalarF64 ScalarType = iota
	ScalarI32
	ScalarBool
)

func (s ScalarType) size() (int, bool) {
	switch s {
	case ScalarF64:
		return 8, true
	case ScalarI32:
		return 4, true
	case ScalarBool:
		return 1, true
	default:
		return 0, false
	}
}

func (s ScalarType) String() string {
	switch s {
	case ScalarF64:
		return "f64"
	case ScalarI32:
		return "i32"
	case ScalarBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ElementType enumerates the supported array element types.
type ElementType int

const (
	ElemF32 ElementType = iota
	ElemF64
	ElemI8
	ElemI16
	ElemI32
	ElemI64
	ElemU8
	ElemU16
	ElemU32
	ElemU64
	ElemBool
)

func (e ElementType) size() (int, bool) {
	switch e {
	case ElemF32, ElemI32, ElemU32:
		return 4, true
	case ElemF64, ElemI64, ElemU64:
		return 8, true
	case ElemI16, ElemU16:
		return 2, true
	case ElemI8, ElemU8, ElemBool:
		return 1, true
	default:
		return 0, false
	}
}

func (e ElementType) String() string {
	switch e {
	case ElemF32:
		return "f32"
	case ElemF64:
		return "f64"
	case ElemI8:
		return "i8"
	case ElemI16:
		return "i16"
	case ElemI32:
		return "i32"
	case ElemI64:
		return "i64"
	case ElemU8:
		return "u8"
	case ElemU16:
		return "u16"
	case ElemU32:
		return "u32"
	case ElemU64:
		return "u64"
	case ElemBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Field is one entry of a schema: a named, typed record member. Construct
// fields with Scalar, String, or Array rather than the struct literal
// directly, though the fields are exported so callers may build them by
// hand if they prefer.
type Field struct {
	Name     string
	Kind     Kind
	Scalar   ScalarType  // meaningful when Kind == KindScalar
	MaxChars int         // meaningful when Kind == KindString
	Element  ElementType // meaningful when Kind == KindArray
	Shape    []int       // meaningful when Kind == KindArray
}

// Scalar declares a scalar field.
func Scalar(name string, t ScalarType) Field {
	return Field{Name: name, Kind: KindScalar, Scalar: t}
}

// String declares a bounded UTF-8 string field holding up to maxChars
// Unicode code points.
func String(name string, maxChars int) Field {
	return Field{Name: name, Kind: KindString, MaxChars: maxChars}
}

// Array declares a fixed-shape numeric array field.
func Array(name string, elem ElementType, shape ...int) Field {
	s := make([]int, len(shape))
	copy(s, shape)
	return Field{Name: name, Kind: KindArray, Element: elem, Shape: s}
}

func (f Field) byteSize() (int, error) {
	switch f.Kind {
	case KindScalar:
		n, ok := f.Scalar.size()
		if !ok {
			return 0, fmt.Errorf("%w: field %q has scalar type %v", ErrUnsupportedType, f.Name, f.Scalar)
		}
		return n, nil
	case KindString:
		if f.MaxChars <= 0 {
			return 0, fmt.Errorf("%w: field %q max_chars must be positive, got %d", ErrInvalidSize, f.Name, f.MaxChars)
		}
		return 4 + 4*f.MaxChars, nil
	case KindArray:
		if len(f.Shape) == 0 {
			return 0, fmt.Errorf("%w: field %q has an empty shape", ErrInvalidSize, f.Name)
		}
		elemSize, ok := f.Element.size()
		if !ok {
			return 0, fmt.Errorf("%w: field %q has element type %v", ErrUnsupportedType, f.Name, f.Element)
		}
		product := 1
		for _, d := range f.Shape {
			if d <= 0 {
				return 0, fmt.Errorf("%w: field %q has non-positive shape dimension %d", ErrInvalidSize, f.Name, d)
			}
			product *= d
		}
		return elemSize * product, nil
	default:
		return 0, fmt.Errorf("%w: field %q has unknown kind", ErrUnsupportedType, f.Name)
	}
}

// FieldLayout is a compiled field: its descriptor plus its byte offset and
// size within a slot body.
type FieldLayout struct {
	Field  Field
	Offset int
	Size   int
}

// Layout is the deterministic byte layout compiled from a field list. Two
// calls to Compile with equal field lists produce byte-identical layouts;
// this is the whole of the wire contract (spec.md §6: "the schema is the
// ABI").
type Layout struct {
	Fields       []FieldLayout
	byName       map[string]int
	StatusOffset int // offset of the first status byte (always 8)
	BodyOffset   int // offset of the first field body, after header padding
	SlotSize     int // total bytes per slot, including header and footer
}

// Index returns the position of name within Fields, for looking up status
// bytes and offsets by field name.
func (l *Layout) Index(name string) (int, bool) {
	i, ok := l.byName[name]
	return i, ok
}

// SeqEndOffset returns the offset of the trailing sequence counter within
// a slot, always SlotSize-8.
func (l *Layout) SeqEndOffset() int {
	return l.SlotSize - 8
}

// StatusByteOffset returns the offset of the status byte for field index i.
func (l *Layout) StatusByteOffset(i int) int {
	return l.StatusOffset + i
}

// Compile turns a field list into a Layout. It fails with one of the Err*
// sentinels (possibly wrapped via %w) if the schema is empty, a field
// type is unsupported, a size is non-positive, or two fields share a name.
func Compile(fields []Field) (*Layout, error) {
	if len(fields) == 0 {
		return nil, ErrEmptySchema
	}

	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, f.Name)
		}
		byName[f.Name] = i
	}

	const statusOffset = 8
	headerEnd := statusOffset + len(fields)
	bodyOffset := alignUp8(headerEnd)

	layouts := make([]FieldLayout, len(fields))
	offset := bodyOffset
	for i, f := range fields {
		size, err := f.byteSize()
		if err != nil {
			return nil, err
		}
		layouts[i] = FieldLayout{Field: f, Offset: offset, Size: size}
		offset += size
	}

	// Footer: 8-byte seq_end immediately after the body, then pad the
	// whole slot up to a multiple of 8.
	slotSize := alignUp8(offset + 8)

	return &Layout{
		Fields:       layouts,
		byName:       byName,
		StatusOffset: statusOffset,
		BodyOffset:   bodyOffset,
		SlotSize:     slotSize,
	}, nil
}

func alignUp8(n int) int {
	return (n + 7) &^ 7
}
