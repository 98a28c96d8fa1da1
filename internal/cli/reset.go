package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/aurelia/internal/git"
	"github.com/antigravity-dev/aurelia/internal/health"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove state, logs, worktrees, and project-branch aurelia/* branches",
	Long: `Reset tears down everything aurelia start accumulates: the .aurelia
state/logs/worktrees directories and every git branch under the
aurelia/ prefix. README.md, solution.py, and evaluate.py are left
untouched. Refuses to run while the orchestrator is alive unless
--force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := resolveDirs()
		if err != nil {
			return err
		}

		if pid, ok := readPIDFile(pidFilePath(dirs)); ok && health.IsAlive(pid) {
			if !resetForce {
				return fmt.Errorf("orchestrator is running (pid %d); run 'aurelia stop' first or pass --force", pid)
			}
		}

		if fileExists(dirs.AureliaDir) {
			if err := os.RemoveAll(dirs.AureliaDir); err != nil {
				return fmt.Errorf("remove %s: %w", dirs.AureliaDir, err)
			}
		}

		removed, err := removeAureliaBranches(dirs.ProjectDir)
		if err != nil {
			return fmt.Errorf("remove aurelia branches: %w", err)
		}

		fmt.Printf("removed %s\n", dirs.AureliaDir)
		if len(removed) > 0 {
			fmt.Printf("removed %d branch(es): %s\n", len(removed), strings.Join(removed, ", "))
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "reset even if the orchestrator appears to be running")
	rootCmd.AddCommand(resetCmd)
}

func removeAureliaBranches(projectDir string) ([]string, error) {
	if !fileExists(filepath.Join(projectDir, ".git")) {
		return nil, nil
	}
	// cutoff in the future matches every aurelia/* branch regardless of age.
	return git.CleanupBranchesOlderThan(projectDir, "aurelia/", time.Now().Add(time.Hour))
}
