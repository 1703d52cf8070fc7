package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vortex/internal/config"
	"vortex/internal/harness"
	"vortex/internal/platform"
	"vortex/internal/report"
	"vortex/internal/stream"
	"vortex/internal/streammgr"
)

func addProduceCommand(root *cobra.Command) {
	produceCmd := &cobra.Command{
		Use:   "produce <GB>",
		Short: "Stream a constant-fill producer into a checksum consumer",
		Long:  "Writes the constant 32 as little-endian u64 words into a VortexC sized GB gibibytes; a consumer sums the words and prints the result.",
		Args:  cobra.ExactArgs(1),
		RunE:  runProduce,
	}
	root.AddCommand(produceCmd)
}

func runProduce(cmd *cobra.Command, args []string) error {
	gb, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("vortex: invalid GB argument %q: %w", args[0], err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mgr, err := streammgr.Get()
	if err != nil {
		return err
	}

	size := int(gb * float64(1<<30))
	vc, err := stream.NewVortexC(mgr, size, cfg.BlockSizePower, cfg.Pool.M, cfg.Pool.L, cfg.Pool.N)
	if err != nil {
		return fmt.Errorf("vortex: constructing VortexC: %w", err)
	}
	defer vc.Close()

	var rep report.Reporter
	if tuiFlag {
		rep = report.NewTUIReporter()
	} else {
		rep = report.NewStdoutReporter(500 * time.Millisecond)
	}

	n := size / 8
	start := platform.Now()
	sum := harness.RunProducerConsumer(
		func() { harness.ProduceConstant(vc, n, 32) },
		func() uint64 { return harness.ConsumeSum(vc, n, rep) },
	)
	elapsed := platform.Now().Sub(start)

	mb := float64(size) / (1024 * 1024)
	rep.Done(fmt.Sprintf("checksum=%d  %.1f MB/s  %v", sum, mb/elapsed.Seconds(), elapsed.Round(time.Millisecond)))
	fmt.Fprintf(cmd.OutOrStdout(), "checksum: %d\n", sum)
	return nil
}
