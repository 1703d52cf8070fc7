package pool

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"vortex/internal/platform"
)

// pinBlock mlocks a freshly mapped block so the frames backing it stay
// resident for as long as the BlockState lives. Pinning is best-effort: an
// unprivileged process can run out of RLIMIT_MEMLOCK budget, and the stream
// still works with residency as bookkeeping only, so failure is logged, not
// fatal.
func pinBlock(bc *BufferConfig, addr uintptr, length int) {
	offset := int(addr - bc.arena.Base())
	if err := bc.arena.Lock(offset, length); err != nil {
		log.WithError(err).WithField("addr", fmt.Sprintf("%#x", addr)).
			Debug("pool: mlock of mapped block failed, residency not pinned")
	}
}

func unpinBlock(bc *BufferConfig, addr uintptr, length int) {
	offset := int(addr - bc.arena.Base())
	if err := bc.arena.Unlock(offset, length); err != nil {
		log.WithError(err).WithField("addr", fmt.Sprintf("%#x", addr)).
			Debug("pool: munlock of unmapped block failed")
	}
}

// MapBlockZero obtains pagesPerBlock fresh frames from the pool and resolves
// a missing-page fault at addr with a zero-filled page, recording the
// resulting BlockState in bc at block index idx. This is the "new block"
// path: the writer side of VortexC and ordinary VortexS blocks.
func (p *StreamPool) MapBlockZero(u *platform.Uffd, bc *BufferConfig, idx int, addr uintptr, pages int) (*BlockState, error) {
	frames := make([]PageFrame, pages)
	if err := p.GetNewBlock(pages, frames); err != nil {
		return nil, err
	}
	length := uintptr(pages * p.pageSize)
	if err := u.ZeroPage(addr, length); err != nil {
		p.ReturnFreeBlock(frames)
		return nil, fmt.Errorf("pool: MapBlockZero: %w", err)
	}
	pinBlock(bc, addr, int(length))
	bs := &BlockState{Addr: addr, Pages: pages, Frames: frames}
	bc.SetBlock(idx, bs)
	return bs, nil
}

// MapBlockCopy resolves a missing-page fault at addr by copying live data
// from srcAddr (still resident, typically the VortexC writer arena),
// consuming fresh frames from the pool to back the destination. This is the
// reader side of VortexC's block handoff: no mremap, the data is read
// straight out of the writer's virtual address by UFFDIO_COPY.
func (p *StreamPool) MapBlockCopy(u *platform.Uffd, bc *BufferConfig, idx int, addr, srcAddr uintptr, pages int) (*BlockState, error) {
	frames := make([]PageFrame, pages)
	if err := p.GetNewBlock(pages, frames); err != nil {
		return nil, err
	}
	length := uintptr(pages * p.pageSize)
	if err := u.Copy(addr, srcAddr, length); err != nil {
		p.ReturnFreeBlock(frames)
		return nil, fmt.Errorf("pool: MapBlockCopy: %w", err)
	}
	pinBlock(bc, addr, int(length))
	bs := &BlockState{Addr: addr, Pages: pages, Frames: frames}
	bc.SetBlock(idx, bs)
	return bs, nil
}

// UnmapBlock decommits the block at idx (MADV_DONTNEED, re-arming it for a
// future missing-page fault) and returns its frames to the pool.
func (p *StreamPool) UnmapBlock(bc *BufferConfig, idx int) error {
	bs, ok := bc.ClearBlock(idx)
	if !ok {
		return fmt.Errorf("pool: UnmapBlock: no block mapped at index %d", idx)
	}
	offset := int(bs.Addr - bc.arena.Base())
	length := bs.Pages * p.pageSize
	unpinBlock(bc, bs.Addr, length)
	if err := bc.arena.Decommit(offset, length); err != nil {
		return fmt.Errorf("pool: UnmapBlock decommit: %w", err)
	}
	p.ReturnFreeBlock(bs.Frames)
	return nil
}

// InstallGuard write-protects the page at addr so the next touch raises a
// write-protect fault. This is the tripwire at a VortexS block's trailing
// boundary.
func (p *StreamPool) InstallGuard(u *platform.Uffd, addr uintptr) error {
	return u.WriteProtect(addr, uintptr(p.pageSize), true)
}

// RemoveGuard lifts a previously installed guard.
func (p *StreamPool) RemoveGuard(u *platform.Uffd, addr uintptr) error {
	return u.WriteProtect(addr, uintptr(p.pageSize), false)
}
