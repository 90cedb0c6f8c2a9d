// Package region owns the named shared byte region that backs a record
// slot layout. It is a thin adapter over the host's named-shared-memory
// facility — the only OS-level primitive the rest of shmrecord depends on
// — and does no interpretation of the bytes it hands out.
//
// The teacher (AlephTX-aleph-tx's feeder/shm package) opens /dev/shm
// files directly and calls syscall.Mmap/Munmap. We keep that mechanism
// (Linux's /dev/shm tmpfs convention) but drive it through
// golang.org/x/sys/unix instead of the syscall package, promoting what
// was an indirect dependency in the teacher's go.mod into direct use.
package region

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Sentinel errors. Failures of these classes are returned wrapping one of
// these via %w; other OS failures are wrapped as-is.
var (
	ErrAlreadyExists    = errors.New("region: already exists")
	ErrNotFound         = errors.New("region: not found")
	ErrPermissionDenied = errors.New("region: permission denied")
	ErrTooLarge         = errors.New("region: size too large")
)

const shmDir = "/dev/shm/"

// Handle is a dumb byte window onto a named shared region. It caches no
// derived offsets; all layout interpretation happens above this package.
type Handle struct {
	name string
	file *os.File
	data []byte
}

// Create creates a region of the given byte size under a fresh name.
// Fails with ErrAlreadyExists if the name is taken.
func Create(name string, size int) (*Handle, error) {
	path := shmDir + name

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	switch {
	case errors.Is(err, os.ErrExist):
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, name)
	case err != nil:
		return nil, fmt.Errorf("region: create %s: %w", name, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		if errors.Is(err, unix.EFBIG) || errors.Is(err, unix.EINVAL) {
			return nil, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, name, size)
		}
		return nil, fmt.Errorf("region: truncate %s: %w", name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("region: mmap %s: %w", name, err)
	}

	return &Handle{name: name, file: f, data: data}, nil
}

// Open opens an existing region by name. The size is inherited from the
// OS (the file's current length); callers that care should validate it
// against their compiled schema's slot math.
func Open(name string) (*Handle, error) {
	path := shmDir + name

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, name)
	case err != nil:
		return nil, fmt.Errorf("region: open %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: stat %s: %w", name, err)
	}
	size := int(info.Size())

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: mmap %s: %w", name, err)
	}

	return &Handle{name: name, file: f, data: data}, nil
}

// Name returns the region's identifier.
func (h *Handle) Name() string {
	return h.name
}

// Size returns the region's byte length.
func (h *Handle) Size() int {
	return len(h.data)
}

// Bytes yields a mutable view of the entire region. All slot reads and
// writes go through this view.
func (h *Handle) Bytes() []byte {
	return h.data
}

// Close releases the handle without destroying the named region.
func (h *Handle) Close() error {
	if h.data != nil {
		if err := unix.Munmap(h.data); err != nil {
			h.file.Close()
			return fmt.Errorf("region: munmap %s: %w", h.name, err)
		}
		h.data = nil
	}
	return h.file.Close()
}

// Unlink destroys the named region. Subsequent Open calls for this name
// fail with ErrNotFound. Only the creator (or a designated owner) should
// call this.
func (h *Handle) Unlink() error {
	if err := os.Remove(shmDir + h.name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, h.name)
		}
		return fmt.Errorf("region: unlink %s: %w", h.name, err)
	}
	return nil
}
