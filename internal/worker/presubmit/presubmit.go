// Package presubmit runs a sequence of shell checks in a candidate
// worktree before evaluation, stopping at the first failure.
package presubmit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/antigravity-dev/aurelia/internal/eventlog"
	"github.com/antigravity-dev/aurelia/internal/idgen"
	"github.com/antigravity-dev/aurelia/internal/model"
)

const defaultTimeout = 120 * time.Second

// Worker runs presubmit checks sequentially in a worktree.
type Worker struct {
	events  *eventlog.Log
	ids     *idgen.Generator
	timeout time.Duration
}

// New returns a Worker. timeout <= 0 uses the default of 120s per check.
func New(events *eventlog.Log, ids *idgen.Generator, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Worker{events: events, ids: ids, timeout: timeout}
}

// Execute runs every check in task.Context["checks"] (a []string of shell
// commands) inside task.Context["worktree_path"]. The first non-zero exit
// or timeout stops the sequence.
func (w *Worker) Execute(ctx context.Context, task model.Task) model.TaskResult {
	worktree, _ := task.Context["worktree_path"].(string)
	checks := stringSlice(task.Context["checks"])
	if len(checks) == 0 {
		checks = []string{"pixi run test"}
	}

	w.emit("presubmit.started", map[string]any{
		"task_id":  task.ID,
		"worktree": worktree,
		"checks":   checks,
	})

	for _, check := range checks {
		exitCode, stdout, stderr, timedOut := w.runCheck(ctx, worktree, check)

		if timedOut {
			msg := fmt.Sprintf("check %q timed out after %s", check, w.timeout)
			w.emit("presubmit.failed", map[string]any{"task_id": task.ID, "check": check, "error": msg})
			return model.TaskResult{Summary: msg, Error: msg}
		}

		if exitCode != 0 {
			detail := stderr
			if detail == "" {
				detail = stdout
			}
			msg := fmt.Sprintf("check %q failed (exit %d)", check, exitCode)
			if detail != "" {
				msg += ": " + truncate(detail, 500)
			}
			w.emit("presubmit.failed", map[string]any{"task_id": task.ID, "check": check, "error": msg})
			return model.TaskResult{Summary: msg, Error: msg}
		}
	}

	w.emit("presubmit.completed", map[string]any{"task_id": task.ID, "checks_passed": len(checks)})
	return model.TaskResult{Summary: "All presubmit checks passed"}
}

// runCheck runs check in its own process group so a timeout can kill the
// whole tree, not just the shell.
func (w *Worker) runCheck(ctx context.Context, worktree, check string) (exitCode int, stdout, stderr string, timedOut bool) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", check)
	cmd.Dir = worktree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if runCtx.Err() != nil {
		if cmd.Process != nil {
			killProcessGroup(cmd.Process.Pid)
		}
		return -1, outBuf.String(), errBuf.String(), true
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), outBuf.String(), errBuf.String(), false
		}
		return -1, outBuf.String(), errBuf.String(), false
	}
	return 0, outBuf.String(), errBuf.String(), false
}

// killProcessGroup sends SIGTERM then SIGKILL to the process group
// rooted at pid, tolerating the group already being gone.
func killProcessGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func (w *Worker) emit(eventType string, data map[string]any) {
	if w.events == nil {
		return
	}
	_ = w.events.Append(model.Event{
		Seq:       w.ids.NextEventSeq(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func stringSlice(v any) []string {
	raw, ok := v.([]string)
	if ok {
		return raw
	}
	anySlice, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anySlice))
	for _, e := range anySlice {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
