package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/aurelia/internal/reportfmt"
	"github.com/antigravity-dev/aurelia/internal/statestore"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Format the last run's state files into a human summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := resolveDirs()
		if err != nil {
			return err
		}
		if !fileExists(dirs.AureliaDir) {
			return fmt.Errorf("no .aurelia state found in %s; nothing to report", dirs.ProjectDir)
		}

		store := statestore.New(dirs.AureliaDir)
		state, err := store.LoadRuntime()
		if err != nil {
			return fmt.Errorf("load runtime state: %w", err)
		}
		candidates, err := store.LoadCandidates()
		if err != nil {
			return fmt.Errorf("load candidates: %w", err)
		}
		evaluations, err := store.LoadEvaluations()
		if err != nil {
			return fmt.Errorf("load evaluations: %w", err)
		}
		tasks, err := store.LoadTasks()
		if err != nil {
			return fmt.Errorf("load tasks: %w", err)
		}

		report := reportfmt.Report{
			State:       state,
			Tasks:       tasks,
			Candidates:  candidates,
			Evaluations: evaluations,
		}
		fmt.Print(reportfmt.NewTextFormatter().Format(report))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
