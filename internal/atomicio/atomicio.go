// Package atomicio provides atomic load/store of little-endian integers at
// a byte offset inside a shared memory-mapped region. It is the mechanism
// behind the seqlock in package slot and the ring metadata counters in
// package ring: both need release/acquire ordering between a region's
// processes without an OS-level lock.
//
// This mirrors the teacher's own seqlock pattern (AlephTX-aleph-tx's
// feeder/shm/seqlock.go and matrix.go), which casts a field's address to
// *uint32 and drives it with sync/atomic directly. We generalize that to
// arbitrary offsets into a []byte and to both 32- and 64-bit words.
package atomicio

import (
	"sync/atomic"
	"unsafe"
)

// LoadU64 atomically loads a little-endian uint64 at offset.
func LoadU64(buf []byte, offset int) uint64 {
	ptr := (*uint64)(unsafe.Pointer(&buf[offset]))
	return atomic.LoadUint64(ptr)
}

// StoreU64 atomically stores a little-endian uint64 at offset.
func StoreU64(buf []byte, offset int, v uint64) {
	ptr := (*uint64)(unsafe.Pointer(&buf[offset]))
	atomic.StoreUint64(ptr, v)
}

// LoadU32 atomically loads a little-endian uint32 at offset.
func LoadU32(buf []byte, offset int) uint32 {
	ptr := (*uint32)(unsafe.Pointer(&buf[offset]))
	return atomic.LoadUint32(ptr)
}

// StoreU32 atomically stores a little-endian uint32 at offset.
func StoreU32(buf []byte, offset int, v uint32) {
	ptr := (*uint32)(unsafe.Pointer(&buf[offset]))
	atomic.StoreUint32(ptr, v)
}
