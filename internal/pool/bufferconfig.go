package pool

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"vortex/internal/platform"
)

// BlockState is one currently-mapped block: the virtual address it occupies,
// the number of pages it covers, and the frames backing it. A BlockState
// exists iff its frames are mapped; StreamPool.UnmapBlock returns the frames
// to the pool that issued them.
type BlockState struct {
	Addr   uintptr
	Pages  int
	Frames []PageFrame
}

// BufferConfig is a reserved virtual arena, backed by a platform.Arena, plus
// per-chunk refcounts of the blocks mapped within each chunk. The arena is
// one reservation; the refcounts are bookkeeping only, and no chunk is ever
// re-reserved or converted.
type BufferConfig struct {
	arena     *platform.Arena
	chunkSize int
	blockSize int

	mu         *sync.Mutex // nil when the arena is single-threaded (VortexS, VortexC reader)
	chunkRefs  map[int]int // chunk index -> count of currently mapped blocks within it
	userBase   uintptr     // coloring-adjusted base the caller actually uses
	userSize   int         // bytes the caller asked for, starting at userBase
	reserveEnd uintptr

	blocks map[int]*BlockState // block index -> mapped state
}

// Base returns the coloring-adjusted user base address.
func (b *BufferConfig) Base() uintptr { return b.userBase }

// Size returns the usable arena size in bytes, starting at Base.
func (b *BufferConfig) Size() int { return b.userSize }

// End returns the first address past the reservation.
func (b *BufferConfig) End() uintptr { return b.reserveEnd }

// Arena exposes the underlying reservation.
func (b *BufferConfig) Arena() *platform.Arena { return b.arena }

// UserBytes exposes the usable region starting at the coloring-adjusted user
// base. All block indexing (fault dispatch, cursors, guard addresses) is
// relative to this base, so callers must never write below it — the bytes
// between the kernel-chosen reservation base and the user base are the
// coloring shift, not usable space.
func (b *BufferConfig) UserBytes() []byte {
	off := int(b.userBase - b.arena.Base())
	return b.arena.Bytes()[off : off+b.userSize]
}

// Contains reports whether addr falls within [base, base+reserve). Addresses
// outside this range never resolve to this arena.
func (b *BufferConfig) Contains(addr uintptr) bool {
	return addr >= b.userBase && addr < b.reserveEnd
}

// Block returns the BlockState mapped at the given block index, if any.
func (b *BufferConfig) Block(idx int) (*BlockState, bool) {
	b.lock()
	defer b.unlock()
	bs, ok := b.blocks[idx]
	return bs, ok
}

// SetBlock records bs as the mapping for block index idx.
func (b *BufferConfig) SetBlock(idx int, bs *BlockState) {
	b.lock()
	defer b.unlock()
	b.blocks[idx] = bs
	b.bumpChunkRef(idx, bs.Pages, 1)
}

// ClearBlock removes the mapping for block index idx and returns the former
// state, if one existed.
func (b *BufferConfig) ClearBlock(idx int) (*BlockState, bool) {
	b.lock()
	defer b.unlock()
	bs, ok := b.blocks[idx]
	if !ok {
		return nil, false
	}
	delete(b.blocks, idx)
	b.bumpChunkRef(idx, bs.Pages, -1)
	return bs, true
}

func (b *BufferConfig) lock() {
	if b.mu != nil {
		b.mu.Lock()
	}
}

func (b *BufferConfig) unlock() {
	if b.mu != nil {
		b.mu.Unlock()
	}
}

// bumpChunkRef updates the reference count of every chunk a block [idx] of
// the given page count overlaps. No chunk is torn down while the arena
// lives, so the counts are tracked but never inspected to decide teardown.
func (b *BufferConfig) bumpChunkRef(blockIdx, pages, delta int) {
	if b.chunkSize <= 0 {
		return
	}
	start := int(b.userBase-b.arena.Base()) + blockIdx*b.blockSize
	end := start + pages*platform.PageSize
	firstChunk := start / b.chunkSize
	lastChunk := (end - 1) / b.chunkSize
	for c := firstChunk; c <= lastChunk; c++ {
		b.chunkRefs[c] += delta
		if b.chunkRefs[c] < 0 {
			log.WithFields(log.Fields{"chunk": c}).Warn("pool: chunk refcount went negative")
		}
	}
}

// NewBufferConfig reserves size bytes via BufferAlloc's chunking/coloring
// policy and wraps the result as a BufferConfig. Pass threaded=true whenever
// more than one thread may fault into the same BufferConfig; single-threaded
// arenas skip the per-config lock entirely.
func NewBufferConfig(u *platform.Uffd, memoryRequired, chunkSize, color int, threaded bool, blockSize int) (*BufferConfig, error) {
	arena, userBase, err := BufferAlloc(memoryRequired, chunkSize, color, blockSize)
	if err != nil {
		return nil, err
	}
	if err := arena.Activate(u); err != nil {
		arena.Release()
		return nil, fmt.Errorf("pool: activating arena: %w", err)
	}

	bc := &BufferConfig{
		arena:      arena,
		chunkSize:  chunkSize,
		blockSize:  blockSize,
		chunkRefs:  make(map[int]int),
		userBase:   userBase,
		userSize:   memoryRequired,
		reserveEnd: arena.Base() + arena.Size(),
		blocks:     make(map[int]*BlockState),
	}
	if threaded {
		bc.mu = &sync.Mutex{}
	}
	return bc, nil
}

// Close releases the arena backing this buffer config.
func (b *BufferConfig) Close() error {
	return b.arena.Release()
}

// BufferAlloc reserves a virtual region sized for coloring headroom:
// aligned = RoundUp(memoryRequired+pageSize, blockSize), reserveSize =
// RoundUp(aligned+pageSize*MaxColors, chunkSize); it returns the arena and
// the coloring-adjusted user base such that the base's page color is `color`
// modulo MaxColors.
func BufferAlloc(memoryRequired, chunkSize, color, blockSize int) (*platform.Arena, uintptr, error) {
	if chunkSize <= 0 {
		chunkSize = blockSize
	}
	aligned := roundUp(memoryRequired+platform.PageSize, blockSize)
	reserveSize := roundUp(aligned+platform.PageSize*MaxColors, chunkSize)

	arena, err := platform.ReserveArena(reserveSize)
	if err != nil {
		return nil, 0, fmt.Errorf("pool: BufferAlloc reserve: %w", err)
	}

	kernelColor := int((arena.Base() / uintptr(platform.PageSize)) % MaxColors)
	shift := ((color-kernelColor)%MaxColors + MaxColors) % MaxColors
	userBase := arena.Base() + uintptr(shift*platform.PageSize)

	return arena, userBase, nil
}

func roundUp(v, align int) int {
	if align <= 0 {
		return v
	}
	return (v + align - 1) / align * align
}
