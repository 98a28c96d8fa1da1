package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/aurelia/internal/model"
)

const crashRecoveryError = "runtime_crash_recovery"

// recoverFromCrash implements spec.md §7's crash-recovery procedure: any
// Task left running from a prior process is failed, the Candidates that
// depended on it follow, and orphaned worktrees are swept. Must run
// before the Runtime transitions to running. Idempotent: a second run
// against already-recovered state is a no-op.
func (r *Runtime) recoverFromCrash() error {
	recoveredBranches := map[string]struct{}{}
	now := time.Now().UTC()

	var recovered int
	for i := range r.tasks {
		if r.tasks[i].Status != model.TaskRunning {
			continue
		}
		r.tasks[i].Status = model.TaskFailed
		r.tasks[i].CompletedAt = &now
		r.tasks[i].Result = &model.TaskResult{Error: crashRecoveryError}
		recoveredBranches[r.tasks[i].Branch] = struct{}{}
		r.state.TotalTasksFailed++
		recovered++
	}

	for i := range r.candidates {
		cand := &r.candidates[i]
		if cand.Status != model.CandidateActive && cand.Status != model.CandidateEvaluating {
			continue
		}
		if _, recoveredHere := recoveredBranches[cand.Branch]; recoveredHere {
			cand.Status = model.CandidateFailed
		}
	}

	if err := r.sweepOrphanedWorktrees(); err != nil {
		return fmt.Errorf("runtime: sweep orphaned worktrees: %w", err)
	}

	if recovered > 0 {
		r.emit("runtime.recovered", map[string]any{"tasks_recovered": recovered})
		if err := r.persist(); err != nil {
			return fmt.Errorf("runtime: persist after crash recovery: %w", err)
		}
	}
	return nil
}

// sweepOrphanedWorktrees removes any worktree whose branch carries the
// candidate-branch prefix but is not owned by a currently
// active/evaluating Candidate.
func (r *Runtime) sweepOrphanedWorktrees() error {
	owned := map[string]struct{}{}
	for _, c := range r.candidates {
		if c.Status == model.CandidateActive || c.Status == model.CandidateEvaluating {
			owned[c.Branch] = struct{}{}
		}
	}

	active, err := r.worktrees.ListActive()
	if err != nil {
		return err
	}
	for _, wt := range active {
		if !strings.HasPrefix(wt.Branch, branchPrefix) {
			continue
		}
		if _, ok := owned[wt.Branch]; ok {
			continue
		}
		if err := r.worktrees.Remove(wt.Branch); err != nil {
			r.logger.Warn("crash recovery: failed to remove orphaned worktree", "branch", wt.Branch, "error", err)
		}
	}
	return nil
}
