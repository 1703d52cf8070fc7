package harness

import (
	"time"

	"vortex/internal/platform"
	"vortex/internal/vortexsort"
)

// SortIterationReport is one iteration's worth of the sort harness's
// time/speed/overhead/blocks output, plus the post-check unsorted count.
type SortIterationReport struct {
	Duration      time.Duration // time inside Sort itself
	Overhead      time.Duration // key generation + sortedness check
	SpeedMBPerSec float64
	Blocks        int // blocks' worth of physical frames the pool grew to
	UnsortedPairs int
}

// RunSortIteration generates n uniform-random keys from gen, sorts them with
// s, and checks the result's sortedness, producing one iteration's report.
func RunSortIteration(s *vortexsort.Sorter, gen *XorShift128Plus, n int) (SortIterationReport, error) {
	genStart := platform.Now()
	keys := gen.Fill(n)
	byteSize := n * wordSize

	start := platform.Now()
	sorted, err := s.Sort(keys)
	end := platform.Now()
	if err != nil {
		return SortIterationReport{}, err
	}
	elapsed := end.Sub(start)

	var checker ConsumerChecker
	checker.Check(sorted)

	mb := float64(byteSize) / (1024 * 1024)
	speed := mb / elapsed.Seconds()

	return SortIterationReport{
		Duration:      elapsed,
		Overhead:      platform.Now().Sub(genStart) - elapsed,
		SpeedMBPerSec: speed,
		Blocks:        s.Pool().TotalFrames() / s.Pool().PagesPerBlock(),
		UnsortedPairs: checker.UnsortedPairs,
	}, nil
}
