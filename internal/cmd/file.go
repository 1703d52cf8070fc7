package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vortex/internal/config"
	"vortex/internal/fileio"
	"vortex/internal/harness"
	"vortex/internal/platform"
	"vortex/internal/stream"
	"vortex/internal/streammgr"
)

func addFileCommands(root *cobra.Command) {
	fileCmd := &cobra.Command{
		Use:   "file <path> [GB]",
		Short: "Stream a file through a VortexC",
		Long: "With GB given, writes GB gibibytes of generated data through a VortexC into path. " +
			"Without GB, streams path through a VortexC into an XOR checksum.",
		Args: cobra.RangeArgs(1, 2),
		RunE: runFile,
	}
	root.AddCommand(fileCmd)

	copyCmd := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Stream src to dst through a VortexC",
		Long:  "Copies src to dst by driving a VortexC's write and read buffers concurrently.",
		Args:  cobra.ExactArgs(2),
		RunE:  runCopy,
	}
	root.AddCommand(copyCmd)
}

func runFile(cmd *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	mgr, err := streammgr.Get()
	if err != nil {
		return err
	}

	if len(args) == 2 {
		gb, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("vortex: invalid GB argument %q: %w", args[1], err)
		}
		return writeFileTest(cmd, mgr, cfg, path, int(gb*float64(1<<30)))
	}
	return readFileTest(cmd, mgr, cfg, path)
}

// writeFileTest generates size bytes of LCG data through a VortexC into path
// and reports the achieved write speed.
func writeFileTest(cmd *cobra.Command, mgr *streammgr.Manager, cfg *config.Config, path string, size int) error {
	vc, err := stream.NewVortexC(mgr, size, cfg.BlockSizePower, cfg.Pool.M, cfg.Pool.L, cfg.Pool.N)
	if err != nil {
		return fmt.Errorf("vortex: constructing VortexC: %w", err)
	}
	defer vc.Close()

	start := platform.Now()
	var written int64
	writeErrCh := make(chan error, 1)
	go func() {
		var err error
		written, err = fileio.ReadStreamToFile(vc, path, int64(size))
		writeErrCh <- err
	}()
	harness.ProduceLCG(vc, size/8, 1)
	if err := <-writeErrCh; err != nil {
		return err
	}
	elapsed := platform.Now().Sub(start)

	mb := float64(written) / (1024 * 1024)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes  %.1f MB/s  %v\n", written, mb/elapsed.Seconds(), elapsed.Round(time.Millisecond))
	return nil
}

// readFileTest streams path through a VortexC into an XOR checksum and
// reports the achieved read speed.
func readFileTest(cmd *cobra.Command, mgr *streammgr.Manager, cfg *config.Config, path string) error {
	size, err := statSize(path)
	if err != nil {
		return err
	}
	vc, err := stream.NewVortexC(mgr, size, cfg.BlockSizePower, cfg.Pool.M, cfg.Pool.L, cfg.Pool.N)
	if err != nil {
		return fmt.Errorf("vortex: constructing VortexC: %w", err)
	}
	defer vc.Close()

	start := platform.Now()
	var acc uint64
	readErrCh := make(chan error, 1)
	go func() {
		_, err := fileio.WriteFileToStream(vc, path)
		readErrCh <- err
	}()
	acc = harness.ConsumeXOR(vc, size/8, nil)
	if err := <-readErrCh; err != nil {
		return err
	}
	elapsed := platform.Now().Sub(start)

	mb := float64(size) / (1024 * 1024)
	fmt.Fprintf(cmd.OutOrStdout(), "read %d bytes  xor=%#x  %.1f MB/s  %v\n", size, acc, mb/elapsed.Seconds(), elapsed.Round(time.Millisecond))
	return nil
}

func runCopy(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mgr, err := streammgr.Get()
	if err != nil {
		return err
	}

	fi, err := statSize(src)
	if err != nil {
		return err
	}

	vc, err := stream.NewVortexC(mgr, fi, cfg.BlockSizePower, cfg.Pool.M, cfg.Pool.L, cfg.Pool.N)
	if err != nil {
		return fmt.Errorf("vortex: constructing VortexC: %w", err)
	}
	defer vc.Close()

	n, err := fileio.CopyFile(vc, src, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "copied %d bytes\n", n)
	return nil
}

func statSize(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("vortex: stat %s: %w", path, err)
	}
	return int(info.Size()), nil
}
