package stream

import "testing"

func TestBlockIndex(t *testing.T) {
	base := uintptr(0x10000000)
	blockSize := 4096

	idx, aligned := blockIndex(base, blockSize, base+4096*3+10)
	if idx != 3 {
		t.Errorf("idx = %d, want 3", idx)
	}
	if aligned != base+uintptr(3*blockSize) {
		t.Errorf("aligned = %#x, want %#x", aligned, base+uintptr(3*blockSize))
	}

	idx, aligned = blockIndex(base, blockSize, base)
	if idx != 0 || aligned != base {
		t.Errorf("blockIndex at base = (%d, %#x), want (0, %#x)", idx, aligned, base)
	}
}
