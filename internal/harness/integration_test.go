//go:build linux

package harness

import (
	"bytes"
	"testing"

	"vortex/internal/stream"
	"vortex/internal/streammgr"
	"vortex/internal/vortexsort"
)

// testManager returns the process fault manager, skipping the test when the
// kernel refuses userfaultfd (vm.unprivileged_userfaultfd=0 is the default
// on many distributions).
func testManager(t *testing.T) *streammgr.Manager {
	t.Helper()
	mgr, err := streammgr.Get()
	if err != nil {
		t.Skipf("userfaultfd unavailable: %v", err)
	}
	return mgr
}

func newTestVortexC(t *testing.T, size, blockSizePower, m, l, n int) *stream.VortexC {
	t.Helper()
	vc, err := stream.NewVortexC(testManager(t), size, blockSizePower, m, l, n)
	if err != nil {
		t.Skipf("VortexC setup: %v", err)
	}
	t.Cleanup(func() { vc.Close() })
	return vc
}

func TestVortexCConstantSum(t *testing.T) {
	const size = 4 << 20
	vc := newTestVortexC(t, size, 21, 0, 0, 2)

	n := size / wordSize
	sum := RunProducerConsumer(
		func() { ProduceConstant(vc, n, 32) },
		func() uint64 { return ConsumeSum(vc, n, nil) },
	)
	if want := uint64(32 * n); sum != want {
		t.Errorf("consumer sum = %d, want %d", sum, want)
	}
}

func TestVortexCLCGXorReproducible(t *testing.T) {
	const size = 16 << 20
	var results [3]uint64
	for i := range results {
		vc := newTestVortexC(t, size, 20, 0, 4, 1)
		n := size / wordSize
		results[i] = RunProducerConsumer(
			func() { ProduceLCG(vc, n, 7) },
			func() uint64 { return ConsumeXOR(vc, n, nil) },
		)
	}
	if results[0] != results[1] || results[1] != results[2] {
		t.Errorf("XOR checksum not reproducible across runs: %v", results)
	}
}

func TestVortexCRoundTrip(t *testing.T) {
	const size = 4 << 20
	vc := newTestVortexC(t, size, 20, 1, 1, 2)

	want := make([]byte, size)
	gen := NewXorShift128Plus(1, 2, 3, 4)
	for i := 0; i+8 <= size; i += 8 {
		v := gen.Next()
		for j := 0; j < 8; j++ {
			want[i+j] = byte(v >> (8 * j))
		}
	}

	got := make([]byte, size)
	RunProducerConsumer(
		func() {
			copy(vc.WriterBytes(), want)
			vc.FinishedWrite()
		},
		func() uint64 {
			buf := vc.ReaderBytes()
			for off := 0; off < size; off += vc.GetBlockSize() {
				end := off + vc.GetBlockSize()
				if end > size {
					end = size
				}
				copy(got[off:end], buf[off:end])
			}
			vc.FinishedRead()
			return 0
		},
	)
	if !bytes.Equal(got, want) {
		t.Errorf("consumer bytes differ from producer bytes")
	}
}

func TestConcurrentVortexCConstruction(t *testing.T) {
	mgr := testManager(t)

	type result struct {
		vc  *stream.VortexC
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			vc, err := stream.NewVortexC(mgr, 4<<20, 20, 0, 0, 2)
			results <- result{vc, err}
		}()
	}

	var streams []*stream.VortexC
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Skipf("VortexC setup: %v", r.err)
		}
		streams = append(streams, r.vc)
		t.Cleanup(func() { r.vc.Close() })
	}

	// Both reservations must occupy disjoint virtual ranges.
	a, b := streams[0], streams[1]
	ranges := [][2]uintptr{
		{a.WriterBase(), a.WriterBase() + uintptr(a.GetSize())},
		{a.ReaderBase(), a.ReaderBase() + uintptr(a.GetSize())},
		{b.WriterBase(), b.WriterBase() + uintptr(b.GetSize())},
		{b.ReaderBase(), b.ReaderBase() + uintptr(b.GetSize())},
	}
	for i := range ranges {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i][0] < ranges[j][1] && ranges[j][0] < ranges[i][1] {
				t.Errorf("arena ranges %d and %d overlap: %#x-%#x vs %#x-%#x",
					i, j, ranges[i][0], ranges[i][1], ranges[j][0], ranges[j][1])
			}
		}
	}
}

func TestSortRandomKeys(t *testing.T) {
	mgr := testManager(t)
	const n = 1024
	s, err := vortexsort.NewSorter(mgr, 16, n*wordSize)
	if err != nil {
		t.Skipf("sorter setup: %v", err)
	}
	defer s.Close()

	gen := NewXorShift128Plus(1e4, 1e12, 1e18, 3)
	r, err := RunSortIteration(s, gen, n)
	if err != nil {
		t.Fatalf("RunSortIteration: %v", err)
	}
	if r.UnsortedPairs != 0 {
		t.Errorf("unsorted pairs = %d, want 0", r.UnsortedPairs)
	}
}
