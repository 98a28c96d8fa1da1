// Package coder runs the external coding agent against a candidate's
// worktree inside the Sandbox Executor.
package coder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-dev/aurelia/internal/eventlog"
	"github.com/antigravity-dev/aurelia/internal/idgen"
	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/antigravity-dev/aurelia/internal/sandbox"
)

const sentinelName = ".aurelia_prompt.md"

// Attempt is one prior attempt on the same candidate lineage, used to
// build feedback for a retry.
type Attempt struct {
	CandidateBranch string
	Status          string
	Metrics         map[string]float64
	Output          string
}

// Worker runs the coding agent inside the Sandbox Executor.
type Worker struct {
	events    *eventlog.Log
	ids       *idgen.Generator
	sandbox   *sandbox.Executor
	image     string
	agentArgs []string // argv appended after the prompt env var is set, e.g. ["claude", "-p", "...", "--output-format", "stream-json", "--verbose"]
	envVar    string   // env var name the agent reads the system prompt path from
	timeout   time.Duration
	logsDir   string // project .aurelia/logs directory
}

// Config carries the Worker's static wiring.
type Config struct {
	Events    *eventlog.Log
	IDs       *idgen.Generator
	Sandbox   *sandbox.Executor
	Image     string
	AgentArgs []string
	EnvVar    string
	Timeout   time.Duration
	LogsDir   string
}

// New returns a configured Worker.
func New(cfg Config) *Worker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	envVar := cfg.EnvVar
	if envVar == "" {
		envVar = "AURELIA_SYSTEM_PROMPT_FILE"
	}
	return &Worker{
		events:    cfg.Events,
		ids:       cfg.IDs,
		sandbox:   cfg.Sandbox,
		image:     cfg.Image,
		agentArgs: cfg.AgentArgs,
		envVar:    envVar,
		timeout:   timeout,
		logsDir:   cfg.LogsDir,
	}
}

// Execute runs the agent in the sandbox against task's worktree and
// returns a TaskResult built from the parsed transcript.
func (w *Worker) Execute(ctx context.Context, task model.Task) model.TaskResult {
	worktree, _ := task.Context["worktree_path"].(string)
	problemDescription, _ := task.Context["problem_description"].(string)

	w.emit("coder.started", map[string]any{"task_id": task.ID, "worktree": worktree})

	systemPrompt := buildSystemPrompt(problemDescription, task.Branch, worktree, task.Instruction, attemptsFromContext(task.Context))
	sentinelPath := filepath.Join(worktree, sentinelName)
	if err := os.WriteFile(sentinelPath, []byte(systemPrompt), 0o644); err != nil {
		msg := fmt.Sprintf("failed to write system prompt: %v", err)
		w.emit("coder.failed", map[string]any{"task_id": task.ID, "error": msg})
		return model.TaskResult{Summary: msg, Error: msg}
	}
	defer os.Remove(sentinelPath)

	result, err := w.sandbox.Run(ctx, sandbox.RunSpec{
		Image:   w.image,
		Args:    w.agentArgs,
		WorkDir: "/workspace",
		Env:     map[string]string{w.envVar: "/workspace/" + sentinelName},
		Mounts:  []sandbox.Mount{{Host: worktree, Container: "/workspace"}},
		Timeout: w.timeout,
	})
	if err != nil {
		msg := fmt.Sprintf("sandbox run failed: %v", err)
		w.emit("coder.failed", map[string]any{"task_id": task.ID, "error": msg})
		return model.TaskResult{Summary: msg, Error: msg}
	}

	transcriptPath := w.saveTranscript(task.ID, result.Stdout)
	parsed := ParseTranscript(strings.NewReader(result.Stdout))

	if result.TimedOut {
		msg := fmt.Sprintf("agent timed out after %s", w.timeout)
		w.emit("coder.failed", map[string]any{"task_id": task.ID, "error": msg})
		return model.TaskResult{Summary: msg, Artifacts: artifacts(transcriptPath), Error: msg}
	}
	if result.ExitCode != 0 {
		msg := fmt.Sprintf("agent exited with code %d: %s", result.ExitCode, truncate(result.Stderr, 500))
		w.emit("coder.failed", map[string]any{"task_id": task.ID, "error": msg})
		return model.TaskResult{Summary: msg, Artifacts: artifacts(transcriptPath), Error: msg}
	}

	w.emit("coder.completed", map[string]any{"task_id": task.ID, "input_tokens": parsed.Usage.InputTokens, "output_tokens": parsed.Usage.OutputTokens})
	return model.TaskResult{Summary: parsed.Summary, Artifacts: artifacts(transcriptPath)}
}

func (w *Worker) saveTranscript(taskID, stdout string) string {
	if w.logsDir == "" {
		return ""
	}
	dir := filepath.Join(w.logsDir, "transcripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(dir, taskID+".jsonl")
	if err := os.WriteFile(path, []byte(stdout), 0o644); err != nil {
		return ""
	}
	return path
}

func artifacts(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

// buildSystemPrompt embeds the problem description, branch, container
// workdir, and task instruction, plus either a first-attempt marker or
// a formatted history of prior attempts.
func buildSystemPrompt(problemDescription, branch, worktree, instruction string, attempts []Attempt) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Problem\n\n%s\n\n", problemDescription)
	fmt.Fprintf(&b, "# Branch\n\n%s\n\n", branch)
	fmt.Fprintf(&b, "# Workdir\n\n%s\n\n", "/workspace")
	fmt.Fprintf(&b, "# Instruction\n\n%s\n\n", instruction)

	if len(attempts) == 0 {
		b.WriteString("# History\n\nThis is the first attempt.\n")
		return b.String()
	}

	b.WriteString("# History\n\n")
	for i, a := range attempts {
		fmt.Fprintf(&b, "## Attempt %d (%s) — %s\n", i+1, a.CandidateBranch, a.Status)
		if len(a.Metrics) > 0 {
			fmt.Fprintf(&b, "Metrics: %v\n", a.Metrics)
		}
		if a.Output != "" {
			fmt.Fprintf(&b, "Output: %s\n", truncate(a.Output, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func attemptsFromContext(ctx map[string]any) []Attempt {
	raw, ok := ctx["attempt_history"].([]Attempt)
	if !ok {
		return nil
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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
