// Package slot implements the seqlock-style write/read sequence of
// spec.md §4.D: torn-read detection via matched sequence counters, and
// per-field status bits (truncated/unwritten/modified) updated under the
// same fences as the body.
//
// The algorithm differs from the teacher's own seqlock
// (AlephTX-aleph-tx's feeder/shm/seqlock.go), which drives a single
// odd/even counter per message. Ours uses the begin/end pair spec.md
// requires, but the mechanism — sync/atomic load/store on a word cast out
// of the shared byte slice via unsafe.Pointer — is the teacher's own
// (kept in package internal/atomicio).
package slot

import (
	"fmt"

	"github.com/AlephTX/shmrecord/codec"
	"github.com/AlephTX/shmrecord/internal/atomicio"
	"github.com/AlephTX/shmrecord/schema"
)

// Status is the per-field status byte (spec.md §3.4). Bits are
// independent except for the derived Valid predicate.
type Status uint8

const (
	FlagTruncated Status = 1 << 0
	FlagUnwritten Status = 1 << 1
	FlagModified  Status = 1 << 2
)

func (s Status) Truncated() bool { return s&FlagTruncated != 0 }
func (s Status) Unwritten() bool { return s&FlagUnwritten != 0 }
func (s Status) Modified() bool  { return s&FlagModified != 0 }

// Valid is strictly ¬truncated ∧ ¬unwritten.
func (s Status) Valid() bool { return !s.Truncated() && !s.Unwritten() }

// FieldValue is the value-with-freshness pair exposed to callers: the
// decoded value of a field plus the status bits recorded for the slot it
// was read from. See design note §9: Go has no operator overloading, so
// this exposes named converters instead of the Python original's magic
// methods.
type FieldValue struct {
	Value  any
	Status Status
}

func (v FieldValue) Valid() bool     { return v.Status.Valid() }
func (v FieldValue) Modified() bool  { return v.Status.Modified() }
func (v FieldValue) Truncated() bool { return v.Status.Truncated() }
func (v FieldValue) Unwritten() bool { return v.Status.Unwritten() }

// Float64 returns the value as a float64, for scalar F64 fields.
func (v FieldValue) Float64() (float64, bool) {
	f, ok := v.Value.(float64)
	return f, ok
}

// Int32 returns the value as an int32, for scalar I32 fields.
func (v FieldValue) Int32() (int32, bool) {
	i, ok := v.Value.(int32)
	return i, ok
}

// Bool returns the value as a bool, for scalar BOOL fields.
func (v FieldValue) Bool() (bool, bool) {
	b, ok := v.Value.(bool)
	return b, ok
}

// StringValue returns the value as a string, for string fields. The
// fmt.Stringer (String) gives a freshness-annotated form; use this method
// to get the bare decoded string.
func (v FieldValue) StringValue() (string, bool) {
	s, ok := v.Value.(string)
	return s, ok
}

// Array returns the value as a codec.Array, for array fields.
func (v FieldValue) Array() (codec.Array, bool) {
	a, ok := v.Value.(codec.Array)
	return a, ok
}

// String implements fmt.Stringer, mirroring the Python original's
// ValueWithStatus.__repr__.
func (v FieldValue) String() string {
	return fmt.Sprintf("%v (valid=%t modified=%t)", v.Value, v.Valid(), v.Modified())
}

// Protocol drives the seqlock write/read sequence for slots compiled from
// a single schema.Layout. It holds no per-slot state; Write and Read take
// the slot's bytes explicitly so the same Protocol serves every slot of a
// ring.
type Protocol struct {
	layout *schema.Layout
}

// New returns a Protocol bound to layout.
func New(layout *schema.Layout) *Protocol {
	return &Protocol{layout: layout}
}

// Init initializes a freshly allocated slot: seq_begin = seq_end = 0,
// every status byte UNWRITTEN. buf must be exactly layout.SlotSize bytes.
func (p *Protocol) Init(buf []byte) {
	atomicio.StoreU64(buf, 0, 0)
	for i := range p.layout.Fields {
		buf[p.layout.StatusByteOffset(i)] = byte(FlagUnwritten)
	}
	atomicio.StoreU64(buf, p.layout.SeqEndOffset(), 0)
}

// Write commits updates into the slot under the seqlock discipline of
// spec.md §4.D. Fields not present in updates keep their value but have
// their MODIFIED bit cleared — MODIFIED always reflects only the latest
// write. Every candidate value is encoded into a private scratch buffer
// before any shared state is touched, so a codec.ErrEncode failure never
// leaves a partial write visible: either every update lands, or none does.
func (p *Protocol) Write(buf []byte, updates map[string]any) error {
	type staged struct {
		index     int
		offset    int
		size      int
		scratch   []byte
		truncated bool
	}

	var commits []staged
	for i, fl := range p.layout.Fields {
		val, ok := updates[fl.Field.Name]
		if !ok {
			continue
		}
		scratch := make([]byte, fl.Size)
		truncated, err := encodeField(scratch, 0, fl.Field, val)
		if err != nil {
			return err
		}
		commits = append(commits, staged{index: i, offset: fl.Offset, size: fl.Size, scratch: scratch, truncated: truncated})
	}

	byIndex := make(map[int]staged, len(commits))
	for _, c := range commits {
		byIndex[c.index] = c
	}

	seq := atomicio.LoadU64(buf, 0)
	atomicio.StoreU64(buf, 0, seq+1) // write fence: body writes below must not reorder before this

	for i := range p.layout.Fields {
		statusOff := p.layout.StatusByteOffset(i)
		status := Status(buf[statusOff])
		if c, ok := byIndex[i]; ok {
			copy(buf[c.offset:c.offset+c.size], c.scratch)
			status &^= FlagUnwritten
			status |= FlagModified
			if c.truncated {
				status |= FlagTruncated
			} else {
				status &^= FlagTruncated
			}
		} else {
			status &^= FlagModified
		}
		buf[statusOff] = byte(status)
	}

	atomicio.StoreU64(buf, p.layout.SeqEndOffset(), seq+1) // write fence: seq_end must not be visible before the body above
	return nil
}

// Read performs the torn-read-protected read sequence of spec.md §4.D. It
// returns (fields, torn, err): torn is true when the caller should retry;
// err is only non-nil for a programmer error (never for a torn read or a
// truncated field). If resetModified is set and the read was consistent,
// every MODIFIED bit in the slot is cleared as a side effect — this is
// only safe in single-slot mode with a single resetting reader (spec.md
// §4.D step 7, §5).
func (p *Protocol) Read(buf []byte, resetModified bool) (fields map[string]FieldValue, torn bool, err error) {
	seqBegin := atomicio.LoadU64(buf, 0) // acquire fence

	fields = make(map[string]FieldValue, len(p.layout.Fields))
	for i, fl := range p.layout.Fields {
		statusOff := p.layout.StatusByteOffset(i)
		status := Status(buf[statusOff])
		value := decodeField(buf, fl)
		fields[fl.Field.Name] = FieldValue{Value: value, Status: status}
	}

	seqEnd := atomicio.LoadU64(buf, p.layout.SeqEndOffset()) // acquire fence
	if seqBegin != seqEnd {
		return nil, true, nil
	}

	if resetModified {
		for i := range p.layout.Fields {
			off := p.layout.StatusByteOffset(i)
			buf[off] &^= byte(FlagModified)
		}
	}

	return fields, false, nil
}

func encodeField(buf []byte, offset int, f schema.Field, val any) (truncated bool, err error) {
	switch f.Kind {
	case schema.KindScalar:
		if err := codec.EncodeScalar(buf, offset, f.Scalar, val); err != nil {
			return false, err
		}
		return false, nil
	case schema.KindString:
		s, ok := val.(string)
		if !ok {
			return false, fmt.Errorf("%w: field %q expects a string, got %T", codec.ErrEncode, f.Name, val)
		}
		return codec.EncodeString(buf, offset, f.MaxChars, s), nil
	case schema.KindArray:
		arr, ok := val.(codec.Array)
		if !ok {
			arr = codec.Array{Data: val}
		}
		return codec.EncodeArray(buf, offset, f.Element, f.Shape, arr)
	default:
		return false, fmt.Errorf("%w: field %q has unknown kind", codec.ErrEncode, f.Name)
	}
}

func decodeField(buf []byte, fl schema.FieldLayout) any {
	switch fl.Field.Kind {
	case schema.KindScalar:
		return codec.DecodeScalar(buf, fl.Offset, fl.Field.Scalar)
	case schema.KindString:
		return codec.DecodeString(buf, fl.Offset, fl.Field.MaxChars)
	case schema.KindArray:
		return codec.DecodeArray(buf, fl.Offset, fl.Field.Element, fl.Field.Shape)
	default:
		return nil
	}
}
