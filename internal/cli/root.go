// Package cli implements the aurelia command-line front end: start, stop,
// status, reset, and report, built on cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at release time.
	Version = "dev"

	projectDir string
)

var rootCmd = &cobra.Command{
	Use:   "aurelia",
	Short: "Autonomous code-improvement orchestration runtime",
	Long: `Aurelia drives an autonomous improvement loop over a baseline solution:
a coder agent proposes a candidate, presubmit checks and an evaluator
score it, and a dispatcher decides what to try next, until a
termination condition is met.

Commands:
  start    run the orchestrator in the foreground
  stop     signal a running orchestrator to shut down
  status   print the current runtime snapshot
  reset    remove all orchestration state for this project
  report   summarize the last run`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project directory")
	rootCmd.SetVersionTemplate(fmt.Sprintf("aurelia version %s\n", Version))
}

func exitError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
