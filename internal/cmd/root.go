// Package cmd wires Vortex's cobra command tree: root flags, and the
// produce/sort/file subcommands of the benchmark harness.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vortex/internal/config"
)

// Version is stamped at build time by the release pipeline; "dev" covers
// local builds.
var Version = "dev"

var (
	verboseFlag bool
	quietFlag   bool
	tuiFlag     bool
	configDir   string
)

// NewRootCmd assembles the full command tree.
func NewRootCmd() *cobra.Command {
	root := newRootCmd()
	addProduceCommand(root)
	addSortCommand(root)
	addFileCommands(root)
	return root
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vortex",
		Short:         "Page-fault-driven memory streaming substrate",
		Long:          "vortex — streams producer/consumer and radix-sort workloads through a small resident working set, backed by userfaultfd.",
		Version:       fmt.Sprintf("vortex v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			level := log.InfoLevel
			switch {
			case verboseFlag:
				level = log.DebugLevel
			case quietFlag:
				level = log.ErrorLevel
			}
			log.SetLevel(level)
			config.SetConfigDir(configDir)
			return nil
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "debug-level logging")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "errors only")
	pflags.BoolVar(&tuiFlag, "tui", false, "render progress with a live terminal view")
	pflags.StringVar(&configDir, "config-dir", "", "override config directory (default: ~/.vortex)")

	if v := os.Getenv("VORTEX_HOME"); v != "" && configDir == "" {
		configDir = v
	}

	return rootCmd
}

// Execute runs the root command, the CLI's single entry point.
func Execute() error {
	cmd := NewRootCmd()
	return cmd.Execute()
}
