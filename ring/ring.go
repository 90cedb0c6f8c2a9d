// Package ring implements the multi-slot, overwrite-oldest FIFO mode of
// spec.md §4.E: a 24-byte metadata header (write_index, read_index,
// count, each a little-endian u64) preceding the slot array, a
// stage-then-finalize write path, and a consume path that skips to the
// newest entry on request.
//
// The metadata counters use the same atomic word-over-[]byte trick as
// package slot (internal/atomicio), the one piece of the teacher's
// seqlock this whole module keeps. The overwrite-oldest bookkeeping
// itself is grounded on the teacher's second, offset-based ring
// (AlephTX-aleph-tx's feeder/shm/ring.go: atomic woff/roff, wrap instead
// of block) generalized from a single fixed-layout message to an
// arbitrary compiled schema.Layout.
package ring

import (
	"github.com/AlephTX/shmrecord/internal/atomicio"
	"github.com/AlephTX/shmrecord/schema"
	"github.com/AlephTX/shmrecord/slot"
)

// MetadataSize is the byte length of the FIFO header that precedes the
// slot array in a ring-mode region: write_index, read_index, count.
const MetadataSize = 24

const (
	offWriteIndex = 0
	offReadIndex  = 8
	offCount      = 16
)

// Controller drives the ring metadata and dispatches slot reads/writes
// through a slot.Protocol. It holds no region bytes itself; every method
// takes the backing region explicitly, so one Controller serves a single
// named region for its lifetime.
type Controller struct {
	protocol  *slot.Protocol
	layout    *schema.Layout
	slotCount int
}

// New returns a Controller for a ring of slotCount slots laid out per
// layout, reading and writing through protocol.
func New(protocol *slot.Protocol, layout *schema.Layout, slotCount int) *Controller {
	return &Controller{protocol: protocol, layout: layout, slotCount: slotCount}
}

func (c *Controller) slotBytes(region []byte, index int) []byte {
	start := MetadataSize + index*c.layout.SlotSize
	return region[start : start+c.layout.SlotSize]
}

func (c *Controller) load(region []byte) (writeIndex, readIndex, count uint64) {
	return atomicio.LoadU64(region, offWriteIndex),
		atomicio.LoadU64(region, offReadIndex),
		atomicio.LoadU64(region, offCount)
}

func (c *Controller) store(region []byte, writeIndex, readIndex, count uint64) {
	atomicio.StoreU64(region, offWriteIndex, writeIndex)
	atomicio.StoreU64(region, offReadIndex, readIndex)
	atomicio.StoreU64(region, offCount, count)
}

// InitMetadata zeroes the FIFO header of a freshly created region and
// runs slot.Protocol.Init over each slot. Field bodies are not cleared.
func (c *Controller) InitMetadata(region []byte) {
	c.store(region, 0, 0, 0)
	for i := 0; i < c.slotCount; i++ {
		c.protocol.Init(c.slotBytes(region, i))
	}
}

// Finalize commits staged values into the slot at write_index, advancing
// write_index and either growing count (ring not yet full) or advancing
// read_index past the entry it just overwrote (ring full: overwrite the
// oldest unconsumed entry, per spec.md §4.E).
func (c *Controller) Finalize(region []byte, staged map[string]any) error {
	writeIndex, readIndex, count := c.load(region)

	target := int(writeIndex % uint64(c.slotCount))
	if err := c.protocol.Write(c.slotBytes(region, target), staged); err != nil {
		return err
	}

	writeIndex++
	if count < uint64(c.slotCount) {
		count++
	} else {
		readIndex++
	}
	c.store(region, writeIndex, readIndex, count)
	return nil
}

// Status reports why Consume did or didn't return a record. Empty and
// Torn are both "no record this call", but callers must treat them
// differently: Empty is the real "nothing published yet" case and is
// where a timeout/poll budget applies, while Torn means the writer
// merely raced the slot at read_index and must be retried immediately,
// with no timeout check, per spec.md §7 ("torn reads are internal and
// retried transparently until success or timeout").
type Status int

const (
	Empty Status = iota
	Torn
	OK
)

// Consume reads the oldest unconsumed entry, or — when latest is set and
// more than one entry is pending — skips straight to the newest,
// discarding the rest. See Status for how to interpret a call that
// didn't return a record.
func (c *Controller) Consume(region []byte, latest bool) (fields map[string]slot.FieldValue, status Status, err error) {
	writeIndex, readIndex, count := c.load(region)
	if count == 0 {
		return nil, Empty, nil
	}

	if latest && count > 1 {
		readIndex = writeIndex - 1
		count = 1
	}

	target := int(readIndex % uint64(c.slotCount))
	result, torn, err := c.protocol.Read(c.slotBytes(region, target), false)
	if err != nil {
		return nil, Empty, err
	}
	if torn {
		return nil, Torn, nil
	}

	readIndex++
	count--
	c.store(region, writeIndex, readIndex, count)
	return result, OK, nil
}
