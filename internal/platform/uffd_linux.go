//go:build linux

package platform

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// UFFD ioctl numbers, derived from linux/userfaultfd.h via the standard
// _IOWR/_IOR encoding ((dir<<30)|(size<<16)|(type<<8)|nr), type 0xAA.
// All values are for the x86-64/arm64 struct layouts below.
const (
	_UFFDIO_API          = 0xc018aa3f
	_UFFDIO_REGISTER     = 0xc020aa00
	_UFFDIO_UNREGISTER   = 0x8010aa01
	_UFFDIO_WAKE         = 0x8010aa02
	_UFFDIO_COPY         = 0xc028aa03
	_UFFDIO_ZEROPAGE     = 0xc020aa04
	_UFFDIO_WRITEPROTECT = 0xc018aa06
)

const (
	_UFFD_API = 0xAA

	uffdRegisterModeMissing = 1 << 0
	uffdRegisterModeWP      = 1 << 1

	// Distinct from the REGISTER mode bits above: in struct
	// uffdio_writeprotect, bit 0 enables write protection (clearing it
	// undoes the protection) and bit 1 is DONTWAKE.
	uffdWriteProtectModeWP = 1 << 0

	_UFFD_PAGEFAULT_FLAG_WRITE = 1 << 0
	_UFFD_PAGEFAULT_FLAG_WP    = 1 << 1

	uffdMsgSize           = 32
	_UFFD_EVENT_PAGEFAULT = 0x12
)

// uffdioAPI matches struct uffdio_api (24 bytes).
type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

var _ [24]byte = [unsafe.Sizeof(uffdioAPI{})]byte{}

// uffdioRange matches struct uffdio_range (16 bytes), embedded by several
// other uffdio_* structs.
type uffdioRange struct {
	start uint64
	len   uint64
}

// uffdioRegister matches struct uffdio_register (32 bytes).
type uffdioRegister struct {
	rng    uffdioRange
	mode   uint64
	ioctls uint64
}

var _ [32]byte = [unsafe.Sizeof(uffdioRegister{})]byte{}

// uffdioCopy matches struct uffdio_copy (40 bytes).
type uffdioCopy struct {
	dst  uint64
	src  uint64
	len  uint64
	mode uint64
	copy int64
}

var _ [40]byte = [unsafe.Sizeof(uffdioCopy{})]byte{}

// uffdioZeropage matches struct uffdio_zeropage (32 bytes).
type uffdioZeropage struct {
	rng      uffdioRange
	mode     uint64
	zeropage int64
}

var _ [32]byte = [unsafe.Sizeof(uffdioZeropage{})]byte{}

// uffdioWriteprotect matches struct uffdio_writeprotect (24 bytes).
type uffdioWriteprotect struct {
	rng  uffdioRange
	mode uint64
}

var _ [24]byte = [unsafe.Sizeof(uffdioWriteprotect{})]byte{}

// FaultKind classifies a reported page fault for StreamManager's dispatch
// loop: a missing-page fault, or the write-protect fault userfaultfd raises
// in place of a literal no-access guard page.
type FaultKind int

const (
	FaultMissing FaultKind = iota
	FaultWriteProtect
)

// Fault is one entry decoded from a batch of uffd_msg records.
type Fault struct {
	Addr  uintptr
	Write bool
	Kind  FaultKind
}

// Uffd wraps a single userfaultfd file descriptor and the ioctl mask the
// kernel reported for it. It does not track which ranges are registered.
// StreamManager owns exactly one of these for the whole process.
type Uffd struct {
	fd int

	mu     sync.Mutex
	ioctls uint64
}

// OpenUffd creates a new userfaultfd and negotiates the API version. This is
// the Go-native replacement for installing a SIGSEGV/VEH handler: the fd
// becomes the channel through which the kernel reports first-touch faults on
// any range registered with it.
func OpenUffd() (*Uffd, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("platform: userfaultfd: %w", errno)
	}
	u := &Uffd{fd: int(fd)}

	api := uffdioAPI{api: _UFFD_API, features: 0}
	if err := u.ioctl(_UFFDIO_API, unsafe.Pointer(&api)); err != nil {
		unix.Close(u.fd)
		return nil, fmt.Errorf("platform: UFFDIO_API: %w", err)
	}
	u.ioctls = api.ioctls
	return u, nil
}

func (u *Uffd) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// FD returns the raw descriptor, for poll/epoll registration.
func (u *Uffd) FD() int { return u.fd }

// Register arms [start, start+length) for missing-page and write-protect
// faults. Every BufferAlloc'd arena is registered exactly once, with the
// StreamManager's uffd, when its BufferConfig is created.
func (u *Uffd) Register(start uintptr, length uintptr) error {
	r := uffdioRegister{
		rng:  uffdioRange{start: uint64(start), len: uint64(length)},
		mode: uffdRegisterModeMissing | uffdRegisterModeWP,
	}
	if err := u.ioctl(_UFFDIO_REGISTER, unsafe.Pointer(&r)); err != nil {
		return fmt.Errorf("platform: UFFDIO_REGISTER: %w", err)
	}
	return nil
}

// Unregister releases a previously registered range. Called when a stream is
// torn down.
func (u *Uffd) Unregister(start uintptr, length uintptr) error {
	r := uffdioRange{start: uint64(start), len: uint64(length)}
	if err := u.ioctl(_UFFDIO_UNREGISTER, unsafe.Pointer(&r)); err != nil {
		return fmt.Errorf("platform: UFFDIO_UNREGISTER: %w", err)
	}
	return nil
}

// ZeroPage resolves a missing-page fault by mapping a zero-filled page at
// start, the analogue of StreamPool handing out a freshly-recycled frame
// with no carried data.
func (u *Uffd) ZeroPage(start uintptr, length uintptr) error {
	z := uffdioZeropage{rng: uffdioRange{start: uint64(start), len: uint64(length)}}
	if err := u.ioctl(_UFFDIO_ZEROPAGE, unsafe.Pointer(&z)); err != nil {
		return fmt.Errorf("platform: UFFDIO_ZEROPAGE: %w", err)
	}
	return nil
}

// Copy resolves a missing-page fault by copying length bytes from src (a
// still-resident virtual address, typically the writer-side arena of a
// VortexC) to dst. This is how the reader side of VortexC "receives" a block
// without an intervening mremap: both arenas live in the same address space
// and UFFDIO_COPY reads src directly.
func (u *Uffd) Copy(dst uintptr, src uintptr, length uintptr) error {
	c := uffdioCopy{dst: uint64(dst), src: uint64(src), len: uint64(length)}
	if err := u.ioctl(_UFFDIO_COPY, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("platform: UFFDIO_COPY: %w", err)
	}
	return nil
}

// WriteProtect installs (enable=true) or lifts (enable=false) a write-protect
// fault on [start, start+length). Vortex uses this for VortexS's trailing
// guard page: touching the guard raises a write-protect fault instead of a
// SIGSEGV.
func (u *Uffd) WriteProtect(start uintptr, length uintptr, enable bool) error {
	mode := uint64(0)
	if enable {
		mode = uffdWriteProtectModeWP
	}
	wp := uffdioWriteprotect{rng: uffdioRange{start: uint64(start), len: uint64(length)}, mode: mode}
	if err := u.ioctl(_UFFDIO_WRITEPROTECT, unsafe.Pointer(&wp)); err != nil {
		return fmt.Errorf("platform: UFFDIO_WRITEPROTECT: %w", err)
	}
	return nil
}

// ReadFaults blocks (via poll on the non-blocking fd) until at least one
// uffd_msg is available, then decodes and returns the batch. StreamManager's
// dispatch loop calls this in an unbounded loop for the process lifetime.
func (u *Uffd) ReadFaults() ([]Fault, error) {
	pfd := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("platform: poll(uffd): %w", err)
		}
		if n == 0 {
			continue
		}
		break
	}

	buf := make([]byte, uffdMsgSize*16)
	n, err := unix.Read(u.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("platform: read(uffd): %w", err)
	}

	var faults []Fault
	for off := 0; off+uffdMsgSize <= n; off += uffdMsgSize {
		msg := buf[off : off+uffdMsgSize]
		event := msg[0]
		if event != _UFFD_EVENT_PAGEFAULT {
			continue
		}
		flags := leUint64(msg[8:16])
		addr := leUint64(msg[16:24])
		f := Fault{Addr: uintptr(addr), Write: flags&_UFFD_PAGEFAULT_FLAG_WRITE != 0}
		if flags&_UFFD_PAGEFAULT_FLAG_WP != 0 {
			f.Kind = FaultWriteProtect
		} else {
			f.Kind = FaultMissing
		}
		faults = append(faults, f)
	}
	return faults, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Close releases the userfaultfd descriptor.
func (u *Uffd) Close() error {
	return unix.Close(u.fd)
}
