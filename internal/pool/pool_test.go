package pool

import "testing"

func TestNewStreamPoolRejectsBadBlockSize(t *testing.T) {
	if _, err := NewStreamPool(0); err == nil {
		t.Errorf("NewStreamPool(0) did not error")
	}
	if _, err := NewStreamPool(100); err == nil {
		t.Errorf("NewStreamPool(100) did not error (not a multiple of page size)")
	}
	if _, err := NewStreamPool(3 * 4096); err == nil {
		t.Errorf("NewStreamPool(3*4096) did not error (pages-per-block not a power of two)")
	}
}

func TestGetNewBlockGrowsPool(t *testing.T) {
	p, err := NewStreamPool(4 * 4096)
	if err != nil {
		t.Fatalf("NewStreamPool: %v", err)
	}

	out := make([]PageFrame, 4)
	if err := p.GetNewBlock(4, out); err != nil {
		t.Fatalf("GetNewBlock: %v", err)
	}
	if got := p.TotalFrames(); got != 4 {
		t.Errorf("TotalFrames() = %d, want 4", got)
	}
	if got := p.FreePages(); got != 0 {
		t.Errorf("FreePages() = %d, want 0", got)
	}
}

func TestGetNewBlockThenReturnConservesFrames(t *testing.T) {
	p, _ := NewStreamPool(4096)
	p.AdjustPoolPhysicalMemory(10)

	out := make([]PageFrame, 3)
	if err := p.GetNewBlock(3, out); err != nil {
		t.Fatalf("GetNewBlock: %v", err)
	}
	if got := p.FreePages(); got != 7 {
		t.Errorf("FreePages() = %d, want 7", got)
	}

	p.ReturnFreeBlock(out)
	if got := p.FreePages(); got != 10 {
		t.Errorf("FreePages() = %d, want 10", got)
	}
	if got := p.TotalFrames(); got != 10 {
		t.Errorf("TotalFrames() = %d, want 10", got)
	}
}

func TestMinAvailableBlocksTracksMinimum(t *testing.T) {
	p, _ := NewStreamPool(4096)
	p.AdjustPoolPhysicalMemory(10)

	out := make([]PageFrame, 10)
	if err := p.GetNewBlock(3, out); err != nil {
		t.Fatalf("GetNewBlock: %v", err)
	}
	if got := p.MinAvailableBlocks(); got != 7 {
		t.Errorf("MinAvailableBlocks() after dipping to 7 free = %d, want 7", got)
	}

	// Returning frames must not raise the recorded minimum.
	p.ReturnFreeBlock(out[:3])
	if got := p.MinAvailableBlocks(); got != 7 {
		t.Errorf("MinAvailableBlocks() after refill = %d, want 7", got)
	}

	if err := p.GetNewBlock(10, out); err != nil {
		t.Fatalf("GetNewBlock: %v", err)
	}
	if got := p.MinAvailableBlocks(); got != 0 {
		t.Errorf("MinAvailableBlocks() after full depletion = %d, want 0", got)
	}
}

func TestBufferAllocColoring(t *testing.T) {
	arena, userBase, err := BufferAlloc(1<<20, 0, 7, 4096)
	if err != nil {
		t.Fatalf("BufferAlloc: %v", err)
	}
	defer arena.Release()

	color := (int(userBase) / 4096) % MaxColors
	if color != 7 {
		t.Errorf("user base page color = %d, want 7", color)
	}
}
