package harness

import "testing"

func TestXorShift128PlusDeterministic(t *testing.T) {
	g1 := NewXorShift128Plus(1e4, 1e12, 1e18, 3)
	g2 := NewXorShift128Plus(1e4, 1e12, 1e18, 3)

	for i := 0; i < 1000; i++ {
		a, b := g1.Next(), g2.Next()
		if a != b {
			t.Fatalf("generators diverged at step %d: %d != %d", i, a, b)
		}
	}
}

func TestXorShift128PlusHandlesZeroSeed(t *testing.T) {
	g := NewXorShift128Plus(0, 0, 0, 0)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		v := g.Next()
		if seen[v] {
			continue
		}
		seen[v] = true
	}
	if len(seen) < 50 {
		t.Errorf("zero-seeded generator looks degenerate: only %d distinct values in 100 draws", len(seen))
	}
}

func TestConsumerCheckerCountsUnsortedPairs(t *testing.T) {
	var c ConsumerChecker
	c.Check([]uint64{1, 2, 3, 4})
	if c.UnsortedPairs != 0 {
		t.Errorf("UnsortedPairs = %d, want 0 for sorted input", c.UnsortedPairs)
	}

	c.Check([]uint64{3, 1, 2, 5, 4})
	if c.UnsortedPairs != 2 {
		t.Errorf("UnsortedPairs = %d, want 2", c.UnsortedPairs)
	}
}
