package stream

import (
	"fmt"
	"sync"

	"vortex/internal/platform"
	"vortex/internal/pool"
	"vortex/internal/streammgr"
)

// VortexS is a self-trailing append-only bucket: one arena, a per-stream id
// used as the page-coloring key, and a trailing guard (a write-protect
// fault, in the userfaultfd translation) kept on the block preceding the one
// currently being written. It is VortexSort's output sink.
type VortexS struct {
	mgr  *streammgr.Manager
	pool *pool.StreamPool
	bc   *pool.BufferConfig

	id            int
	blockSize     int
	pagesPerBlock int

	mu                sync.Mutex
	lastReadFaultAddr uintptr
	writeFlag         bool // last fault into the arena was a write
	guardedIdx        int  // block whose trailing page carries the guard, -1 if none
	curIdx            int  // highest block mapped so far
}

// NewVortexS constructs a VortexS sharing pool p, reserving size bytes
// colored by id (modulo pool.MaxColors) so concurrent sinks sharing a pool
// don't collide on cache sets.
func NewVortexS(mgr *streammgr.Manager, p *pool.StreamPool, size, id int) (*VortexS, error) {
	blockSize := p.BlockSize()
	color := id % pool.MaxColors

	bc, err := pool.NewBufferConfig(mgr.Uffd(), size, blockSize, color, false, blockSize)
	if err != nil {
		return nil, fmt.Errorf("stream: VortexS arena (id=%d): %w", id, err)
	}

	vs := &VortexS{
		mgr:           mgr,
		pool:          p,
		bc:            bc,
		id:            id,
		blockSize:     blockSize,
		pagesPerBlock: p.PagesPerBlock(),
		guardedIdx:    -1,
		curIdx:        -1,
	}

	if err := mgr.Register(bc.Base(), bc.End(), vs); err != nil {
		bc.Close()
		return nil, err
	}
	return vs, nil
}

// Base returns the arena's coloring-adjusted user base.
func (vs *VortexS) Base() uintptr { return vs.bc.Base() }

// Bytes exposes the usable arena for direct byte access. Reads and writes
// through it are the same address, per the single-arena contract.
func (vs *VortexS) Bytes() []byte { return vs.bc.UserBytes() }

// GetFirstBlockSize reports how many bytes block 0 covers. Block indexing is
// relative to the coloring-adjusted user base, so block 0 is always a full
// block here.
func (vs *VortexS) GetFirstBlockSize() int {
	return vs.pagesPerBlock * platform.PageSize
}

func (vs *VortexS) trailingGuardAddr(idx int) uintptr {
	return vs.bc.Base() + uintptr((idx+1)*vs.blockSize) - uintptr(platform.PageSize)
}

// ProcessFault implements streammgr.Stream.
func (vs *VortexS) ProcessFault(addr uintptr, write, wp bool) error {
	if !vs.bc.Contains(addr) {
		return fmt.Errorf("stream: VortexS fault at %#x outside its arena", addr)
	}
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if wp {
		return vs.processGuardFault(addr)
	}
	if write {
		return vs.processWriteFault(addr)
	}
	return vs.processReadFault(addr)
}

// processWriteFault maps the faulting block if it has no BlockState yet and
// keeps the trailing guard one block behind the writer.
func (vs *VortexS) processWriteFault(addr uintptr) error {
	idx, aligned := blockIndex(vs.bc.Base(), vs.blockSize, addr)
	logFault("VortexS", "write", addr, true)

	if _, ok := vs.bc.Block(idx); !ok {
		if _, err := vs.pool.MapBlockZero(vs.mgr.Uffd(), vs.bc, idx, aligned, vs.pagesPerBlock); err != nil {
			return fmt.Errorf("stream: VortexS map block %d: %w", idx, err)
		}
	}
	if idx > vs.curIdx {
		vs.curIdx = idx
	}
	vs.writeFlag = true
	return vs.advanceGuard(idx)
}

// processGuardFault fires when the writer runs into the trailing guard, the
// tripwire that re-enters the stream at a block boundary even when the
// target page is already resident. Lift the write protection on the faulting
// page and advance the guard as for any other write at that address.
func (vs *VortexS) processGuardFault(addr uintptr) error {
	idx, _ := blockIndex(vs.bc.Base(), vs.blockSize, addr)
	logFault("VortexS", "guard", addr, true)

	pageAddr := addr &^ uintptr(platform.PageSize-1)
	if err := vs.pool.RemoveGuard(vs.mgr.Uffd(), pageAddr); err != nil {
		return fmt.Errorf("stream: VortexS lifting tripped guard: %w", err)
	}
	if vs.guardedIdx >= 0 && vs.trailingGuardAddr(vs.guardedIdx) == pageAddr {
		vs.guardedIdx = -1
	}
	if idx > vs.curIdx {
		vs.curIdx = idx
	}
	vs.writeFlag = true
	return vs.advanceGuard(idx)
}

// advanceGuard keeps the invariant that the trailing guard sits on the last
// page of the block preceding the writer's current block.
func (vs *VortexS) advanceGuard(idx int) error {
	if idx < 1 || vs.guardedIdx == idx-1 {
		return nil
	}
	if vs.guardedIdx >= 0 {
		if err := vs.pool.RemoveGuard(vs.mgr.Uffd(), vs.trailingGuardAddr(vs.guardedIdx)); err != nil {
			return fmt.Errorf("stream: VortexS moving guard off block %d: %w", vs.guardedIdx, err)
		}
	}
	if _, ok := vs.bc.Block(idx - 1); ok {
		if err := vs.pool.InstallGuard(vs.mgr.Uffd(), vs.trailingGuardAddr(idx-1)); err != nil {
			return fmt.Errorf("stream: VortexS installing guard on block %d: %w", idx-1, err)
		}
		vs.guardedIdx = idx - 1
	}
	return nil
}

// processReadFault handles a missing-page read: the consumer crossed into a
// block that was never written (or already decommitted). When the fault
// lands exactly on a block boundary, the previous read fault was exactly one
// block back, and no write intervened, the predecessor block is done being
// consumed and its frames go back to the pool.
func (vs *VortexS) processReadFault(addr uintptr) error {
	idx, aligned := blockIndex(vs.bc.Base(), vs.blockSize, addr)
	logFault("VortexS", "read", addr, false)

	if addr == aligned && !vs.writeFlag && vs.lastReadFaultAddr != 0 &&
		addr-vs.lastReadFaultAddr <= uintptr(vs.blockSize) && idx >= 1 {
		if _, ok := vs.bc.Block(idx - 1); ok {
			if err := vs.pool.UnmapBlock(vs.bc, idx-1); err != nil {
				return fmt.Errorf("stream: VortexS releasing consumed block %d: %w", idx-1, err)
			}
		}
	}
	if vs.guardedIdx == idx {
		if err := vs.pool.RemoveGuard(vs.mgr.Uffd(), vs.trailingGuardAddr(idx)); err != nil {
			return fmt.Errorf("stream: VortexS lifting guard for reader: %w", err)
		}
		vs.guardedIdx = -1
	}
	if _, ok := vs.bc.Block(idx); !ok {
		if _, err := vs.pool.MapBlockZero(vs.mgr.Uffd(), vs.bc, idx, aligned, vs.pagesPerBlock); err != nil {
			return fmt.Errorf("stream: VortexS map block %d for reader: %w", idx, err)
		}
	}
	vs.lastReadFaultAddr = addr
	vs.writeFlag = false
	return nil
}

// ReleaseThrough returns to the pool every block wholly below byteOff. Reads
// of resident pages never reach the fault path under userfaultfd, so a
// consumer draining the bucket sequentially calls this as its cursor crosses
// block boundaries — the explicit form of the guard-tripped trailing release
// the fault handler performs when the pages are gone.
func (vs *VortexS) ReleaseThrough(byteOff int) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	limit := byteOff / vs.blockSize
	for idx := 0; idx < limit; idx++ {
		if _, ok := vs.bc.Block(idx); !ok {
			continue
		}
		if vs.guardedIdx == idx {
			if err := vs.pool.RemoveGuard(vs.mgr.Uffd(), vs.trailingGuardAddr(idx)); err != nil {
				return err
			}
			vs.guardedIdx = -1
		}
		if err := vs.pool.UnmapBlock(vs.bc, idx); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all mapped blocks and guards, returning the sink to its
// initial state for reuse across sort iterations.
func (vs *VortexS) Reset() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.guardedIdx >= 0 {
		_ = vs.pool.RemoveGuard(vs.mgr.Uffd(), vs.trailingGuardAddr(vs.guardedIdx))
		vs.guardedIdx = -1
	}
	for idx := 0; idx <= vs.curIdx; idx++ {
		if _, ok := vs.bc.Block(idx); ok {
			if err := vs.pool.UnmapBlock(vs.bc, idx); err != nil {
				return err
			}
		}
	}
	vs.curIdx = -1
	vs.lastReadFaultAddr = 0
	vs.writeFlag = false
	return nil
}

// Close tears the stream down.
func (vs *VortexS) Close() error {
	_ = vs.mgr.Unregister(vs.bc.Base())
	return vs.bc.Close()
}
