package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/antigravity-dev/aurelia/internal/health"
	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/antigravity-dev/aurelia/internal/statestore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current runtime snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := resolveDirs()
		if err != nil {
			return err
		}

		if !fileExists(dirs.AureliaDir) {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s No .aurelia state found in %s\n", yellow("!"), dirs.ProjectDir)
			fmt.Println("Run 'aurelia start' to begin.")
			return nil
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

		bold := color.New(color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		dim := color.New(color.FgHiBlack).SprintFunc()

		statusLabel := string(state.Status)
		if state.Status == model.RuntimeRunning {
			statusLabel = green(statusLabel)
		} else {
			statusLabel = dim(statusLabel)
		}

		alive := "no"
		if live, pid, ok := processStatus(pidFilePath(dirs)); ok && live {
			alive = fmt.Sprintf("yes (pid %d)", pid)
		} else if ok {
			alive = fmt.Sprintf("%s (stale pid %d)", red("no"), pid)
		}

		fmt.Printf("%s\n", bold("Aurelia Runtime Status"))
		fmt.Printf("  status:           %s\n", statusLabel)
		fmt.Printf("  process alive:    %s\n", alive)
		fmt.Printf("  heartbeats:       %d\n", state.HeartbeatCount)
		fmt.Printf("  tasks dispatched: %d\n", state.TotalTasksDispatch)
		fmt.Printf("  tasks completed:  %d\n", state.TotalTasksComplete)
		fmt.Printf("  tasks failed:     %d\n", state.TotalTasksFailed)
		if state.StartedAt != nil {
			fmt.Printf("  started at:       %s\n", state.StartedAt.Format("2006-01-02T15:04:05Z"))
		}
		if state.LastHeartbeatAt != nil {
			fmt.Printf("  last heartbeat:   %s\n", state.LastHeartbeatAt.Format("2006-01-02T15:04:05Z"))
		}

		fmt.Printf("\n%s (%d)\n", bold("Candidates"), len(candidates))
		for _, c := range candidates {
			fmt.Printf("  %-10s %-14s parent=%s\n", c.ID, c.Status, c.ParentBranch)
		}

		fmt.Printf("\n%s (%d)\n", bold("Evaluations"), len(evaluations))
		for _, e := range evaluations {
			passLabel := red("FAILED")
			if e.Passed {
				passLabel = green("PASSED")
			}
			fmt.Printf("  %-10s %-8s %v\n", e.CandidateBranch, passLabel, e.Metrics)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func processStatus(pidPath string) (alive bool, pid int, ok bool) {
	pid, readOK := readPIDFile(pidPath)
	if !readOK {
		return false, 0, false
	}
	return health.IsAlive(pid), pid, true
}
