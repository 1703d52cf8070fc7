package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vortex/internal/config"
	"vortex/internal/harness"
	"vortex/internal/report"
	"vortex/internal/streammgr"
	"vortex/internal/vortexsort"
)

func addSortCommand(root *cobra.Command) {
	sortCmd := &cobra.Command{
		Use:   "sort <GB> <ITERS>",
		Short: "Radix-sort GB gibibytes of uniform random u64 keys, ITERS times",
		Long:  "Runs VortexSort over uniformly random u64 keys seeded from a fixed xorshift128+ generator. Prints one time/speed/overhead/blocks line and an unsorted-keys count per iteration.",
		Args:  cobra.ExactArgs(2),
		RunE:  runSort,
	}
	root.AddCommand(sortCmd)
}

func runSort(cmd *cobra.Command, args []string) error {
	gb, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("vortex: invalid GB argument %q: %w", args[0], err)
	}
	iters, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("vortex: invalid ITERS argument %q: %w", args[1], err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mgr, err := streammgr.Get()
	if err != nil {
		return err
	}

	byteSize := int(gb * float64(1<<30))
	n := byteSize / 8

	var rep report.Reporter
	if tuiFlag {
		rep = report.NewTUIReporter()
	} else {
		rep = report.NewStdoutReporter(0)
	}

	gen := harness.NewXorShift128Plus(1e4, 1e12, 1e18, 3)

	for i := 0; i < iters; i++ {
		s, err := vortexsort.NewSorter(mgr, cfg.BlockSizePower, byteSize)
		if err != nil {
			return fmt.Errorf("vortex: constructing sorter: %w", err)
		}

		r, err := harness.RunSortIteration(s, gen, n)
		if closeErr := s.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "iter=%d time=%v speed=%.1fMB/s overhead=%v blocks=%d\n",
			i, r.Duration.Round(time.Millisecond), r.SpeedMBPerSec, r.Overhead.Round(time.Millisecond), r.Blocks)
		fmt.Fprintf(cmd.OutOrStdout(), "unsorted keys: %d\n", r.UnsortedPairs)
	}

	rep.Done(fmt.Sprintf("completed %d iterations", iters))
	return nil
}
