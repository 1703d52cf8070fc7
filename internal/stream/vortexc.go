package stream

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"vortex/internal/platform"
	"vortex/internal/pool"
	"vortex/internal/streammgr"
)

// VortexC is a handoff channel between a producer and a consumer over two
// cursor-linked virtual arenas: the producer writes into the writer arena,
// and blocks that have left the producer's come-back window are handed to
// the consumer by remapping them (via UFFDIO_COPY from the still-resident
// writer address) into the reader arena.
type VortexC struct {
	mgr  *streammgr.Manager
	pool *pool.StreamPool

	reader *pool.BufferConfig
	writer *pool.BufferConfig

	size          int
	blockSize     int
	pagesPerBlock int

	m, l, n int // consumer come-back, producer come-back, write-ahead

	semEmpty *platform.Semaphore
	semFull  *platform.Semaphore

	// curReadOff is touched only by the single consumer's faults (and Reset);
	// writerHead only by the single producer's faults (and Reset). Keeping
	// them atomic instead of under one mutex matters: the consumer's fault
	// path blocks inside semFull.Acquire waiting for the producer, and the
	// producer's fault path must stay free to run while it does.
	curReadOff atomic.Int64 // monotonically advancing consumer block index, init -1
	writerHead atomic.Int64 // highest writer block index seen so far, init -1

	resetMu sync.Mutex
}

// NewVortexC constructs a VortexC of the given size (bytes), with
// blockSizePower determining the block size (1<<blockSizePower), and come-back
// parameters m (consumer), l (producer), n (write-ahead).
func NewVortexC(mgr *streammgr.Manager, size int, blockSizePower, m, l, n int) (*VortexC, error) {
	blockSize := 1 << uint(blockSizePower)
	p, err := pool.NewStreamPool(blockSize)
	if err != nil {
		return nil, err
	}

	// Size the pool for at most M+L+N+1 live BlockStates, per the
	// bounded-residency invariant.
	p.AdjustPoolPhysicalMemory((m + l + n + 1) * p.PagesPerBlock())

	reader, err := pool.NewBufferConfig(mgr.Uffd(), size, blockSize, 0, false, blockSize)
	if err != nil {
		return nil, fmt.Errorf("stream: VortexC reader arena: %w", err)
	}
	writer, err := pool.NewBufferConfig(mgr.Uffd(), size, blockSize, 0, true, blockSize)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("stream: VortexC writer arena: %w", err)
	}

	vc := &VortexC{
		mgr:           mgr,
		pool:          p,
		reader:        reader,
		writer:        writer,
		size:          size,
		blockSize:     blockSize,
		pagesPerBlock: p.PagesPerBlock(),
		m:             m,
		l:             l,
		n:             n,
		semEmpty:      platform.NewSemaphore(n+l, m+l+n+1),
		semFull:       platform.NewSemaphore(0, m+l+n+1),
	}
	vc.curReadOff.Store(-1)
	vc.writerHead.Store(-1)

	if err := mgr.Register(reader.Base(), reader.End(), vc); err != nil {
		writer.Close()
		reader.Close()
		return nil, err
	}
	if err := mgr.Register(writer.Base(), writer.End(), vc); err != nil {
		_ = mgr.Unregister(reader.Base())
		writer.Close()
		reader.Close()
		return nil, err
	}
	return vc, nil
}

// GetSize returns the usable size in bytes of each arena.
func (vc *VortexC) GetSize() int { return vc.size }

// GetBlockSize returns the configured block size.
func (vc *VortexC) GetBlockSize() int { return vc.blockSize }

// GetProducerComeback returns L, the producer come-back window in blocks.
func (vc *VortexC) GetProducerComeback() int { return vc.l }

// GetConsumerComeback returns M, the consumer come-back window in blocks.
func (vc *VortexC) GetConsumerComeback() int { return vc.m }

// WriterBase exposes the writer arena's user base, used by callers driving
// writes directly.
func (vc *VortexC) WriterBase() uintptr { return vc.writer.Base() }

// ReaderBase exposes the reader arena's user base.
func (vc *VortexC) ReaderBase() uintptr { return vc.reader.Base() }

// WriterBytes exposes the writer arena for direct byte access (GetWriteBuf).
func (vc *VortexC) WriterBytes() []byte { return vc.writer.UserBytes() }

// ReaderBytes exposes the reader arena for direct byte access (GetReadBuf).
func (vc *VortexC) ReaderBytes() []byte { return vc.reader.UserBytes() }

// FinishedWrite releases L+1 permits on semFull to drain the producer's
// remaining come-back window once the producer has no more data. This is the
// channel's sole cooperative termination signal.
func (vc *VortexC) FinishedWrite() {
	vc.semFull.ReleaseN(vc.l + 1)
}

// FinishedRead touches the last byte of the reader arena, forcing any final
// fault so the reader side observes every block the producer wrote.
func (vc *VortexC) FinishedRead() {
	b := vc.reader.UserBytes()
	if len(b) > 0 {
		runtime.KeepAlive(b[len(b)-1])
	}
}

// Reset unmaps every live block on both arenas, rewinds the cursors to -1,
// and re-arms the semaphores, returning the stream to its
// freshly-constructed state. Must not race an in-flight producer or
// consumer.
func (vc *VortexC) Reset() error {
	vc.resetMu.Lock()
	defer vc.resetMu.Unlock()

	lastBlock := (vc.size - 1) / vc.blockSize
	for idx := 0; idx <= lastBlock; idx++ {
		if _, ok := vc.writer.Block(idx); ok {
			if err := vc.pool.UnmapBlock(vc.writer, idx); err != nil {
				return err
			}
		}
		if _, ok := vc.reader.Block(idx); ok {
			if err := vc.pool.UnmapBlock(vc.reader, idx); err != nil {
				return err
			}
		}
	}
	vc.curReadOff.Store(-1)
	vc.writerHead.Store(-1)
	vc.semEmpty = platform.NewSemaphore(vc.n+vc.l, vc.m+vc.l+vc.n+1)
	vc.semFull = platform.NewSemaphore(0, vc.m+vc.l+vc.n+1)
	return nil
}

// ProcessFault implements streammgr.Stream.
func (vc *VortexC) ProcessFault(addr uintptr, write, wp bool) error {
	if wp {
		return fmt.Errorf("stream: VortexC has no guard pages, unexpected write-protect fault at %#x", addr)
	}
	switch {
	case vc.writer.Contains(addr):
		return vc.processWriteFault(addr)
	case vc.reader.Contains(addr):
		return vc.processReadFault(addr)
	default:
		return fmt.Errorf("stream: fault at %#x owned by neither writer nor reader arena", addr)
	}
}

// processWriteFault implements the producer-side fault policy: bounded
// regression check, semFull release once a block leaves the producer's
// come-back window, semEmpty acquire, then map a fresh block.
func (vc *VortexC) processWriteFault(addr uintptr) error {
	idx, aligned := blockIndex(vc.writer.Base(), vc.blockSize, addr)
	logFault("VortexC", "write", addr, true)

	head := vc.writerHead.Load()
	if head >= 0 && int64(idx) < head-int64(vc.l) {
		return fmt.Errorf("stream: VortexC producer come-back violation: idx=%d head=%d L=%d", idx, head, vc.l)
	}
	if int64(idx) > head {
		vc.writerHead.Store(int64(idx))
	}

	// Block idx-(L+1) has left the producer's come-back window: from the
	// producer's standpoint it is durable and may be handed to the consumer.
	if idx >= vc.l+1 {
		vc.semFull.Release()
	}
	vc.semEmpty.Acquire()

	_, err := vc.pool.MapBlockZero(vc.mgr.Uffd(), vc.writer, idx, aligned, vc.pagesPerBlock)
	return err
}

// processReadFault implements the consumer-side fault policy: advance
// curReadOff up to idx, unmapping blocks that fall out of the consumer
// come-back window and remapping blocks within the consumer's come-back
// window of idx (cur+M >= idx) from the writer arena into the reader arena. It runs on the single
// consumer's faulting path only, so curReadOff needs no lock; crucially it
// must not exclude the producer while parked in semFull.Acquire.
func (vc *VortexC) processReadFault(addr uintptr) error {
	idx, _ := blockIndex(vc.reader.Base(), vc.blockSize, addr)
	logFault("VortexC", "read", addr, false)

	for vc.curReadOff.Load() < int64(idx) {
		cur := vc.curReadOff.Add(1)

		if cur >= int64(vc.m+1) {
			evictIdx := int(cur - int64(vc.m+1))
			if err := vc.pool.UnmapBlock(vc.reader, evictIdx); err != nil {
				log.WithError(err).WithField("idx", evictIdx).Warn("stream: VortexC evicting reader block")
			}
		}

		// One empty permit per consumer step, even before any block has
		// left the come-back window; only the unmap above is conditional.
		vc.semEmpty.Release()
		vc.semFull.Acquire()

		if cur+int64(vc.m) >= int64(idx) {
			writerAddr := vc.writer.Base() + uintptr(int(cur)*vc.blockSize)
			readerAddr := vc.reader.Base() + uintptr(int(cur)*vc.blockSize)
			if _, err := vc.pool.MapBlockCopy(vc.mgr.Uffd(), vc.reader, int(cur), readerAddr, writerAddr, vc.pagesPerBlock); err != nil {
				return fmt.Errorf("stream: VortexC remap block %d: %w", cur, err)
			}
			if err := vc.pool.UnmapBlock(vc.writer, int(cur)); err != nil {
				log.WithError(err).WithField("idx", cur).Warn("stream: VortexC releasing writer-side copy of remapped block")
			}
		}
	}
	return nil
}

// Close tears the stream down: unregisters both arenas and releases them.
func (vc *VortexC) Close() error {
	_ = vc.mgr.Unregister(vc.reader.Base())
	_ = vc.mgr.Unregister(vc.writer.Base())
	if err := vc.reader.Close(); err != nil {
		return err
	}
	return vc.writer.Close()
}
