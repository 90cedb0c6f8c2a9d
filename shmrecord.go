// Package shmrecord is a lock-free, single-writer/multi-reader
// shared-memory transport for structured records between cooperating
// processes on the same host. Declare a schema once, Create or Open a
// named region sized for it, and Publish/Consume records with per-field
// freshness metadata.
//
// This is the public API (spec.md §4.F): it wires together schema
// (the layout compiler), region (the OS-backed byte window), slot (the
// seqlock protocol), and ring (multi-slot buffering) into the
// publish/finalize/consume/close/unlink surface.
package shmrecord

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AlephTX/shmrecord/region"
	"github.com/AlephTX/shmrecord/ring"
	"github.com/AlephTX/shmrecord/schema"
	"github.com/AlephTX/shmrecord/slot"
)

// Mode errors (spec.md §7). Schema and region errors surface as-is from
// the schema and region packages — see their own Err* sentinels.
var (
	ErrFinalizeSingleSlot  = errors.New("shmrecord: finalize is only valid in ring mode (slots > 1)")
	ErrResetModifiedInRing = errors.New("shmrecord: reset_modified is only valid in single-slot mode")
	ErrInvalidSlots        = errors.New("shmrecord: slots must be >= 1")
	ErrNameRequired        = errors.New("shmrecord: Open requires a non-empty Name")
)

// Value is the value-with-freshness pair returned for each field of a
// consumed Record: the decoded value plus {valid, modified, truncated,
// unwritten}.
type Value = slot.FieldValue

// Record is the bundle of per-field values returned by Consume.
type Record struct {
	Fields map[string]Value
}

// Field looks up a single field's value by name.
func (r *Record) Field(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Options configure a Handle.
type Options struct {
	// Name is the region's identifier. Create generates one (exposed via
	// Handle.Name) when left empty; Open requires a non-empty Name.
	Name string
	// Slots is the buffer slot count. The zero value means 1
	// (single-slot mode); any value > 1 selects ring/FIFO mode.
	Slots int
}

func (o Options) normalizedSlots() (int, error) {
	slots := o.Slots
	if slots == 0 {
		slots = 1
	}
	if slots < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidSlots, slots)
	}
	return slots, nil
}

// Handle is a bound (schema, region) pair exposing publish/consume.
// A Handle is not safe for concurrent use by multiple goroutines without
// external synchronization (spec.md §5): one writer per region, any
// number of single-slot readers, a single consumer per ring.
type Handle struct {
	name     string
	layout   *schema.Layout
	region   *region.Handle
	protocol *slot.Protocol
	ringCtl  *ring.Controller
	slots    int
	isRing   bool
	staging  map[string]any
}

func regionSize(layout *schema.Layout, slots int) int {
	meta := 0
	if slots > 1 {
		meta = ring.MetadataSize
	}
	return meta + layout.SlotSize*slots
}

// Create compiles fields, creates a fresh named region sized for the
// requested slot count, and initializes every slot UNWRITTEN. If
// opts.Name is empty a name is generated (shmrecord_<8 hex chars>, the Go
// analogue of the Python original's uuid4().hex[:8]) and exposed via
// Handle.Name.
func Create(fields []schema.Field, opts Options) (*Handle, error) {
	slots, err := opts.normalizedSlots()
	if err != nil {
		return nil, err
	}

	layout, err := schema.Compile(fields)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = "shmrecord_" + uuid.New().String()[:8]
	}

	reg, err := region.Create(name, regionSize(layout, slots))
	if err != nil {
		return nil, err
	}

	h := newHandle(name, layout, reg, slots)
	if h.isRing {
		h.ringCtl.InitMetadata(reg.Bytes())
	}
	for i := 0; i < slots; i++ {
		h.protocol.Init(h.slotBytes(i))
	}
	return h, nil
}

// Open opens an existing named region and binds it to fields. The caller
// must supply the same field list, in the same order, with the same
// Slots the creator compiled — there is no self-describing prefix and no
// version tag (spec.md §6): the schema is the ABI.
func Open(fields []schema.Field, opts Options) (*Handle, error) {
	slots, err := opts.normalizedSlots()
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, ErrNameRequired
	}

	layout, err := schema.Compile(fields)
	if err != nil {
		return nil, err
	}

	reg, err := region.Open(opts.Name)
	if err != nil {
		return nil, err
	}

	return newHandle(opts.Name, layout, reg, slots), nil
}

func newHandle(name string, layout *schema.Layout, reg *region.Handle, slots int) *Handle {
	protocol := slot.New(layout)
	h := &Handle{
		name:     name,
		layout:   layout,
		region:   reg,
		protocol: protocol,
		slots:    slots,
		isRing:   slots > 1,
	}
	if h.isRing {
		h.ringCtl = ring.New(protocol, layout, slots)
		h.staging = make(map[string]any)
	}
	return h
}

func (h *Handle) slotBytes(idx int) []byte {
	meta := 0
	if h.isRing {
		meta = ring.MetadataSize
	}
	start := meta + idx*h.layout.SlotSize
	return h.region.Bytes()[start : start+h.layout.SlotSize]
}

// Name returns the region's identifier, suitable for passing to Open in
// another process.
func (h *Handle) Name() string { return h.name }

// Slots returns the configured slot count.
func (h *Handle) Slots() int { return h.slots }

// IsRing reports whether this handle is in ring (multi-slot) mode.
func (h *Handle) IsRing() bool { return h.isRing }

// Publish writes field values. In single-slot mode the write commits
// immediately; in ring mode the values are staged until Finalize is
// called. Fields omitted from a previous Publish keep their stored value
// but lose their MODIFIED bit (spec.md §4.D).
//
// An array field's value may be a plain slice (e.g. []float32) or a
// codec.Array. A plain slice carries no shape of its own, so it can only
// ever be flagged truncated by element count (too many/too few for the
// declared shape) — the "right element count, wrong shape" edge case of
// spec.md §4.C/§9 only triggers when the caller states a shape, which
// means passing a codec.Array{Shape: ..., Data: ...} instead.
func (h *Handle) Publish(fields map[string]any) error {
	if h.isRing {
		for name, v := range fields {
			h.staging[name] = v
		}
		return nil
	}
	return h.protocol.Write(h.slotBytes(0), fields)
}

// Finalize commits the values accumulated by Publish calls since the last
// Finalize, atomically, into the next ring slot (overwriting the oldest
// unconsumed entry if the ring is full). Valid only in ring mode.
func (h *Handle) Finalize() error {
	if !h.isRing {
		return ErrFinalizeSingleSlot
	}
	if len(h.staging) == 0 {
		return nil
	}
	if err := h.ringCtl.Finalize(h.region.Bytes(), h.staging); err != nil {
		return err
	}
	h.staging = make(map[string]any)
	return nil
}

// ConsumeOptions control Consume's blocking, recency, and modified-reset
// behavior (spec.md §4.F).
type ConsumeOptions struct {
	// Timeout is how long to block waiting for data. Zero means
	// non-blocking: return immediately if nothing is available.
	Timeout time.Duration
	// Latest, in ring mode, skips to the most recent entry, discarding
	// older unconsumed ones. Ignored in single-slot mode.
	Latest bool
	// ResetModified clears every field's MODIFIED bit after a
	// successful single-slot read. Valid only in single-slot mode, and
	// only safe with a single resetting reader.
	ResetModified bool
}

const pollInterval = 100 * time.Microsecond

// Consume reads the next available record. A torn read — the writer
// raced the slot being read — is retried immediately and unconditionally,
// even for a non-blocking consume(timeout=0): it is an internal detail of
// the seqlock, never a caller-visible "no data" (spec.md §7). ok is false
// only when the call's timeout/poll budget ran out with nothing
// published; that is not an error.
func (h *Handle) Consume(opts ConsumeOptions) (rec *Record, ok bool, err error) {
	if opts.ResetModified && h.isRing {
		return nil, false, ErrResetModifiedInRing
	}

	deadline := time.Now().Add(opts.Timeout)

	for {
		if h.isRing {
			fields, status, rerr := h.ringCtl.Consume(h.region.Bytes(), opts.Latest)
			if rerr != nil {
				return nil, false, rerr
			}
			switch status {
			case ring.OK:
				return &Record{Fields: fields}, true, nil
			case ring.Torn:
				continue
			}
		} else {
			fields, torn, rerr := h.protocol.Read(h.slotBytes(0), opts.ResetModified)
			if rerr != nil {
				return nil, false, rerr
			}
			if torn {
				continue
			}
			return &Record{Fields: fields}, true, nil
		}

		if opts.Timeout <= 0 || time.Now().After(deadline) {
			return nil, false, nil
		}
		time.Sleep(pollInterval)
	}
}

// Close releases the handle without destroying the named region.
func (h *Handle) Close() error {
	return h.region.Close()
}

// Unlink destroys the named region. Subsequent Open calls for this name
// fail. Only the creator (or a designated owner) should call this.
func (h *Handle) Unlink() error {
	return h.region.Unlink()
}
