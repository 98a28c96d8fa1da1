// Package evaluator runs the candidate's evaluation command — optionally
// after presubmit checks — and parses its stdout into numeric metrics.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/aurelia/internal/eventlog"
	"github.com/antigravity-dev/aurelia/internal/idgen"
	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/antigravity-dev/aurelia/internal/sandbox"
)

const (
	defaultEvalCommand = "pixi run evaluate"
	defaultTimeout      = 120 * time.Second
)

// Worker runs presubmit checks (if configured) then the evaluation
// command, either on the host or inside the Sandbox Executor.
type Worker struct {
	events  *eventlog.Log
	ids     *idgen.Generator
	sandbox *sandbox.Executor // nil => host subprocess execution
	image   string
	timeout time.Duration
}

// New returns a Worker. When sb is nil, evaluation runs via host
// subprocess; otherwise it runs inside a container built from image.
func New(events *eventlog.Log, ids *idgen.Generator, sb *sandbox.Executor, image string, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Worker{events: events, ids: ids, sandbox: sb, image: image, timeout: timeout}
}

// Execute runs presubmit checks (task.Context["presubmit_checks"]) then
// the evaluation command (task.Context["eval_command"], default
// "pixi run evaluate") in task.Context["worktree_path"].
func (w *Worker) Execute(ctx context.Context, task model.Task) model.TaskResult {
	worktree, _ := task.Context["worktree_path"].(string)
	evalCommand, _ := task.Context["eval_command"].(string)
	if evalCommand == "" {
		evalCommand = defaultEvalCommand
	}
	presubmitChecks := stringSlice(task.Context["presubmit_checks"])

	if len(presubmitChecks) > 0 {
		w.emit("eval.presubmit_started", map[string]any{
			"task_id": task.ID, "worktree": worktree, "checks": presubmitChecks,
		})
		for _, check := range presubmitChecks {
			exitCode, stdout, stderr, timedOut := w.runHost(ctx, worktree, check)
			if timedOut {
				msg := fmt.Sprintf("presubmit check %q timed out", check)
				w.emit("eval.presubmit_failed", map[string]any{"task_id": task.ID, "check": check, "error": msg})
				return model.TaskResult{Summary: msg, Error: msg}
			}
			if exitCode != 0 {
				detail := stderr
				if detail == "" {
					detail = stdout
				}
				msg := fmt.Sprintf("presubmit check %q failed (exit %d)", check, exitCode)
				if detail != "" {
					msg += ": " + truncate(detail, 500)
				}
				w.emit("eval.presubmit_failed", map[string]any{"task_id": task.ID, "check": check, "error": msg})
				return model.TaskResult{Summary: msg, Error: msg}
			}
		}
		w.emit("eval.presubmit_passed", map[string]any{"task_id": task.ID, "checks_passed": len(presubmitChecks)})
	}

	w.emit("eval.started", map[string]any{
		"task_id": task.ID, "worktree": worktree, "command": evalCommand, "sandboxed": w.sandbox != nil,
	})

	var (
		exitCode       int
		stdout, stderr string
		timedOut       bool
	)
	if w.sandbox != nil {
		exitCode, stdout, stderr, timedOut = w.runSandboxed(ctx, worktree, evalCommand)
	} else {
		exitCode, stdout, stderr, timedOut = w.runHost(ctx, worktree, evalCommand)
	}

	if timedOut {
		msg := fmt.Sprintf("evaluation timed out after %s", w.timeout)
		w.emit("eval.failed", map[string]any{"task_id": task.ID, "error": msg})
		return model.TaskResult{Summary: "Evaluation timed out", Error: msg}
	}
	if exitCode != 0 {
		errMsg := stderr
		if errMsg == "" {
			errMsg = stdout
		}
		w.emit("eval.failed", map[string]any{"task_id": task.ID, "error": errMsg})
		return model.TaskResult{Summary: "Evaluation failed", Error: errMsg}
	}

	metrics, ok := parseMetrics(stdout)
	if !ok {
		w.emit("eval.failed", map[string]any{"task_id": task.ID, "error": "invalid JSON output"})
		return model.TaskResult{Summary: "Evaluation output not valid JSON", Error: truncate(stdout, 500)}
	}

	w.emit("eval.completed", map[string]any{"task_id": task.ID, "metrics": metrics})
	return model.TaskResult{Summary: "Evaluation completed", Metrics: metrics}
}

// parseMetrics tries the full stdout as a JSON object first, then falls
// back to the last non-empty line — tolerating a human-readable summary
// printed before the final JSON line.
func parseMetrics(stdout string) (map[string]float64, bool) {
	var metrics map[string]float64
	if err := json.Unmarshal([]byte(stdout), &metrics); err == nil {
		return metrics, true
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if err := json.Unmarshal([]byte(line), &metrics); err == nil {
			return metrics, true
		}
	}
	return nil, false
}

func (w *Worker) runHost(ctx context.Context, worktree, command string) (exitCode int, stdout, stderr string, timedOut bool) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
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

func (w *Worker) runSandboxed(ctx context.Context, worktree, command string) (exitCode int, stdout, stderr string, timedOut bool) {
	result, err := w.sandbox.Run(ctx, sandbox.RunSpec{
		Image:   w.image,
		Args:    []string{"sh", "-c", command},
		WorkDir: "/workspace",
		Mounts:  []sandbox.Mount{{Host: worktree, Container: "/workspace"}},
		Timeout: w.timeout,
	})
	if err != nil {
		return -1, "", err.Error(), false
	}
	return result.ExitCode, result.Stdout, result.Stderr, result.TimedOut
}

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
