//go:build linux

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Arena is a reserved virtual range, backed by an anonymous mmap with no
// physical pages committed until a fault resolves them. Address space is
// claimed up front, residency happens lazily through the uffd handler.
type Arena struct {
	base uintptr
	size uintptr
	mem  []byte
}

// ReserveArena reserves size bytes of address space, rounded up to the page
// size, with PROT_NONE until the caller decides to make it fault-managed.
// Reservation never touches physical memory: MAP_NORESERVE plus a no-access
// protection means the kernel commits nothing behind it.
func ReserveArena(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("platform: arena size must be positive")
	}
	size = alignUp(size, PageSize)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap reserve: %w", err)
	}
	return &Arena{base: uintptr(unsafe.Pointer(&mem[0])), size: uintptr(size), mem: mem}, nil
}

// Activate switches the arena to read/write and registers it with uffd so
// that first-touch faults are reported instead of the kernel eagerly
// committing pages.
func (a *Arena) Activate(u *Uffd) error {
	if err := unix.Mprotect(a.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("platform: mprotect activate: %w", err)
	}
	return u.Register(a.base, a.size)
}

// Base returns the arena's starting virtual address.
func (a *Arena) Base() uintptr { return a.base }

// Size returns the arena's reserved length in bytes.
func (a *Arena) Size() uintptr { return a.size }

// Bytes exposes the reserved region as a byte slice. Touching any byte of it
// for the first time raises a missing-page fault if the arena is uffd
// registered and the page hasn't been resolved yet.
func (a *Arena) Bytes() []byte { return a.mem }

// Decommit releases the physical pages backing [offset, offset+length)
// without releasing the virtual reservation, re-arming the range for a
// future missing-page fault. This is StreamPool's UnmapBlock.
func (a *Arena) Decommit(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > int(a.size) {
		return fmt.Errorf("platform: decommit range out of bounds")
	}
	return unix.Madvise(a.mem[offset:offset+length], unix.MADV_DONTNEED)
}

// Release unmaps the entire arena.
func (a *Arena) Release() error {
	return unix.Munmap(a.mem)
}

// Lock pins [offset, offset+length) resident, used by the pool's physical
// memory budget to make "resident physical pages" a real, observable
// property rather than a bookkeeping fiction.
func (a *Arena) Lock(offset, length int) error {
	return unix.Mlock(a.mem[offset : offset+length])
}

// Unlock reverses Lock.
func (a *Arena) Unlock(offset, length int) error {
	return unix.Munlock(a.mem[offset : offset+length])
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
