// Package pool implements Vortex's StreamPool: a growable stack of
// recyclable physical page frames, the BufferConfig virtual-arena
// reservation it backs, and the map/unmap/guard operations every Stream
// drives it through.
package pool

import (
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"

	"vortex/internal/platform"
)

// MaxColors bounds the page-coloring space BufferAlloc steers reservations
// through.
const MaxColors = 1024

// PageFrame is an opaque accounting token naming one physical page owned by
// exactly one StreamPool. Go user space has no literal PFN handle without
// root, so a PageFrame carries no address of its own — residency is made
// real by the mlock pinning each mapped block receives (see pinBlock) and
// by the real bytes an Arena's mmap supplies once a fault resolves.
type PageFrame struct {
	id uint64
}

// StreamPool owns the frame stack and the page/block-size policy every
// BufferConfig reserved from it shares.
type StreamPool struct {
	mu sync.Mutex

	pageSize      int
	blockSize     int
	pagesPerBlock int

	stack  []PageFrame
	tail   int // free frames are stack[0:tail]
	nextID uint64

	totalFrames int
	minTracker  *platform.MinTracker
}

// NewStreamPool creates a pool with the given block size, which must be a
// power-of-two multiple of the page size.
func NewStreamPool(blockSize int) (*StreamPool, error) {
	if blockSize <= 0 || blockSize%platform.PageSize != 0 {
		return nil, fmt.Errorf("pool: block size %d must be a positive multiple of page size %d", blockSize, platform.PageSize)
	}
	pagesPerBlock := blockSize / platform.PageSize
	if pagesPerBlock&(pagesPerBlock-1) != 0 {
		return nil, fmt.Errorf("pool: pages-per-block %d must be a power of two", pagesPerBlock)
	}
	return &StreamPool{
		pageSize:      platform.PageSize,
		blockSize:     blockSize,
		pagesPerBlock: pagesPerBlock,
		// Seeded high so the tracker can only move toward the true observed
		// minimum; a zero seed could never register a pool that stayed away
		// from empty.
		minTracker: platform.NewMinTracker(math.MaxInt),
	}, nil
}

// BlockSize returns the pool's fixed block size in bytes.
func (p *StreamPool) BlockSize() int { return p.blockSize }

// PagesPerBlock returns how many pages a full block covers.
func (p *StreamPool) PagesPerBlock() int { return p.pagesPerBlock }

// AdjustPoolPhysicalMemory grows the frame stack so at least totalPages
// frames exist in the pool. Frame count only ever grows.
func (p *StreamPool) AdjustPoolPhysicalMemory(totalPages int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.growLocked(totalPages - p.totalFrames)
}

func (p *StreamPool) growLocked(n int) {
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		p.nextID++
		p.stack = append(p.stack, PageFrame{id: p.nextID})
	}
	p.tail += n
	p.totalFrames += n
	log.WithFields(log.Fields{"added": n, "total": p.totalFrames}).Debug("pool: grew physical frame stack")
}

// GetNewBlock pops numPages frames into out, growing the pool first if the
// free list is short. out must have length >= numPages.
func (p *StreamPool) GetNewBlock(numPages int, out []PageFrame) error {
	if len(out) < numPages {
		return fmt.Errorf("pool: output slice too small for %d pages", numPages)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tail < numPages {
		p.growLocked(numPages - p.tail)
	}
	for i := 0; i < numPages; i++ {
		p.tail--
		out[i] = p.stack[p.tail]
	}
	p.minTracker.Observe(p.tail)
	return nil
}

// ReturnFreeBlock pushes frames back onto the stack, making them available
// for the next GetNewBlock.
func (p *StreamPool) ReturnFreeBlock(frames []PageFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range frames {
		if p.tail == len(p.stack) {
			p.stack = append(p.stack, f)
		} else {
			p.stack[p.tail] = f
		}
		p.tail++
	}
}

// MinAvailableBlocks reports the minimum number of free pages observed
// across all allocations since pool creation. Before the first GetNewBlock
// it reports math.MaxInt (no sample yet).
func (p *StreamPool) MinAvailableBlocks() int {
	return p.minTracker.Min()
}

// FreePages reports the current number of unallocated frames.
func (p *StreamPool) FreePages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail
}

// TotalFrames reports the total number of frames the pool has ever grown to.
func (p *StreamPool) TotalFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFrames
}
