package vortexsort

import (
	"encoding/binary"
	"testing"
)

func TestBucketScheduleSumsAtLeastKeyBits(t *testing.T) {
	sched := bucketSchedule(KeyBits)
	sum := 0
	for _, b := range sched {
		sum += b
	}
	if sum < KeyBits {
		t.Errorf("schedule sum = %d, want >= %d", sum, KeyBits)
	}
	if sched[0] > 8 {
		t.Errorf("schedule[0] = %d, want <= 8", sched[0])
	}
}

func TestSortSmall(t *testing.T) {
	keys := []uint64{5, 3, 9, 1, 4, 1, 2}
	sortSmall(keys)
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("not sorted at %d: %v", i, keys)
		}
	}
}

func TestScratchLinePushAndFlush(t *testing.T) {
	var line scratchLine
	for i := uint64(0); i < 7; i++ {
		if line.push(i) {
			t.Fatalf("push returned full before 8 keys")
		}
	}
	if !line.push(7) {
		t.Fatalf("push did not report full at 8 keys")
	}

	buf := make([]byte, 64)
	n := line.flush(buf, 0)
	if n != 64 {
		t.Errorf("flush wrote %d bytes, want 64", n)
	}
	for i := uint64(0); i < 8; i++ {
		if got := binary.LittleEndian.Uint64(buf[i*8:]); got != i {
			t.Errorf("key %d = %d, want %d", i, got, i)
		}
	}
	if line.n != 0 {
		t.Errorf("scratch line not reset after flush")
	}
}

// testKeys generates n deterministic pseudo-random keys whose top byte is
// forced to top, so they all land in the same level-0 bucket.
func testKeys(n int, top uint64) []uint64 {
	keys := make([]uint64, n)
	x := uint64(0x9e3779b97f4a7c15)
	for i := range keys {
		x = x*6364136223846793005 + 1442695040888963407
		keys[i] = top<<56 | x>>8
	}
	return keys
}

func checkSortedPermutation(t *testing.T, in, out []uint64) {
	t.Helper()
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	counts := make(map[uint64]int, len(in))
	for _, k := range in {
		counts[k]++
	}
	for i, k := range out {
		if i > 0 && out[i-1] > k {
			t.Fatalf("output not sorted at %d: %d > %d", i, out[i-1], k)
		}
		counts[k]--
	}
	for k, c := range counts {
		if c != 0 {
			t.Fatalf("output is not a permutation of input: key %d off by %d", k, c)
		}
	}
}

func TestSortSmallInputBypassesSinks(t *testing.T) {
	// 100 keys stay under the direct-sort threshold, so Sort never touches
	// the bucket sinks — a Sorter with none at all must still succeed.
	s := &Sorter{schedule: bucketSchedule(KeyBits)}
	in := testKeys(100, 0xAB)
	out, err := s.Sort(in)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	checkSortedPermutation(t, in, out)
}

func TestRecurseSortsSharedPrefixRun(t *testing.T) {
	s := &Sorter{schedule: bucketSchedule(KeyBits)}
	in := testKeys(5000, 0x3C)
	s.output = make([]uint64, 0, len(in))

	keys := make([]uint64, len(in))
	copy(keys, in)
	s.recurse(keys, 1, uint(KeyBits-s.schedule[0]))
	checkSortedPermutation(t, in, s.output)
}

func TestRecurseEqualKeysTerminates(t *testing.T) {
	s := &Sorter{schedule: bucketSchedule(KeyBits)}
	const n = 100000
	in := make([]uint64, n)
	for i := range in {
		in[i] = 0x3C00112233445566
	}
	s.output = make([]uint64, 0, n)

	keys := make([]uint64, n)
	copy(keys, in)
	s.recurse(keys, 1, uint(KeyBits-s.schedule[0]))
	if len(s.output) != n {
		t.Fatalf("output length = %d, want %d", len(s.output), n)
	}
	for i, k := range s.output {
		if k != in[0] {
			t.Fatalf("output[%d] = %d, want %d", i, k, in[0])
		}
	}
}
