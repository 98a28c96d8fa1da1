// Package planner runs the agent in an ephemeral worktree from main to
// produce a structured improvement plan (plan.json).
package planner

import (
	"context"
	"encoding/json"
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

const planSchema = `{
  "type": "object",
  "required": ["summary", "items"],
  "properties": {
    "summary": {"type": "string"},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "description", "instruction"],
        "properties": {
          "id": {"type": "string"},
          "description": {"type": "string"},
          "instruction": {"type": "string"},
          "parent_branch": {"type": "string", "default": "main"},
          "priority": {"type": "integer", "default": 0},
          "depends_on": {"type": "array", "items": {"type": "string"}, "default": []}
        }
      }
    }
  }
}`

// EvaluationSummary is one entry of the planning context's evaluation
// history.
type EvaluationSummary struct {
	CandidateBranch string
	Passed          bool
	Metrics         map[string]float64
}

// KnowledgeEntry is one freeform note surfaced to the planner.
type KnowledgeEntry struct {
	Content string
}

// Context is everything the planner needs to reason about the next
// improvement program.
type Context struct {
	ProblemDescription string
	EvaluationHistory   []EvaluationSummary
	CurrentPlan         *model.Plan
	KnowledgeEntries    []KnowledgeEntry
}

// Worker runs the planning agent and parses its plan.json output.
type Worker struct {
	events    *eventlog.Log
	ids       *idgen.Generator
	sandbox   *sandbox.Executor
	image     string
	agentArgs []string
	envVar    string
	timeout   time.Duration
	logsDir   string
}

// Config carries the Worker's static wiring, mirroring coder.Config.
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

// Execute runs the planner agent inside worktree (expected to be a
// temporary checkout of main) and returns a TaskResult whose Summary is
// the raw plan.json contents on success.
func (w *Worker) Execute(ctx context.Context, task model.Task, planCtx Context) model.TaskResult {
	worktree, _ := task.Context["worktree_path"].(string)

	w.emit("planner.started", map[string]any{"task_id": task.ID})

	contextMD := buildContextMarkdown(planCtx)
	contextPath := filepath.Join(worktree, "_planning_context.md")
	schemaPath := filepath.Join(worktree, "plan_schema.json")
	promptPath := filepath.Join(worktree, ".aurelia_prompt.md")

	if err := os.WriteFile(contextPath, []byte(contextMD), 0o644); err != nil {
		return w.fail(task.ID, fmt.Sprintf("write planning context: %v", err))
	}
	if err := os.WriteFile(schemaPath, []byte(planSchema), 0o644); err != nil {
		return w.fail(task.ID, fmt.Sprintf("write plan schema: %v", err))
	}
	systemPrompt := buildSystemPrompt(planCtx, contextMD)
	if err := os.WriteFile(promptPath, []byte(systemPrompt), 0o644); err != nil {
		return w.fail(task.ID, fmt.Sprintf("write system prompt: %v", err))
	}
	defer func() {
		os.Remove(contextPath)
		os.Remove(schemaPath)
		os.Remove(promptPath)
	}()

	result, err := w.sandbox.Run(ctx, sandbox.RunSpec{
		Image:   w.image,
		Args:    w.agentArgs,
		WorkDir: "/workspace",
		Env:     map[string]string{w.envVar: "/workspace/.aurelia_prompt.md"},
		Mounts:  []sandbox.Mount{{Host: worktree, Container: "/workspace"}},
		Timeout: w.timeout,
	})
	if err != nil {
		return w.fail(task.ID, fmt.Sprintf("sandbox run failed: %v", err))
	}

	transcriptPath := w.saveTranscript(task.ID, result.Stdout)

	if result.TimedOut {
		return w.failWithArtifact(task.ID, fmt.Sprintf("planner timed out after %s", w.timeout), transcriptPath)
	}
	if result.ExitCode != 0 {
		msg := fmt.Sprintf("planner agent exited with code %d: %s", result.ExitCode, truncate(result.Stderr, 500))
		return w.failWithArtifact(task.ID, msg, transcriptPath)
	}

	planPath := filepath.Join(worktree, "plan.json")
	planJSON, err := os.ReadFile(planPath)
	if err != nil || len(planJSON) == 0 {
		msg := "planner did not produce plan.json"
		w.emit("planner.failed", map[string]any{"task_id": task.ID, "error": msg})
		return model.TaskResult{Summary: msg, Artifacts: artifacts(transcriptPath), Error: msg}
	}

	w.emit("planner.completed", map[string]any{"task_id": task.ID, "has_plan": true})
	return model.TaskResult{Summary: string(planJSON), Artifacts: artifacts(transcriptPath)}
}

func (w *Worker) fail(taskID, msg string) model.TaskResult {
	w.emit("planner.failed", map[string]any{"task_id": taskID, "error": msg})
	return model.TaskResult{Summary: msg, Error: msg}
}

func (w *Worker) failWithArtifact(taskID, msg, transcriptPath string) model.TaskResult {
	w.emit("planner.failed", map[string]any{"task_id": taskID, "error": msg})
	return model.TaskResult{Summary: msg, Artifacts: artifacts(transcriptPath), Error: msg}
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

func buildContextMarkdown(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Problem\n\n%s\n\n", c.ProblemDescription)

	if len(c.EvaluationHistory) > 0 {
		b.WriteString("# Evaluation History\n\n")
		for _, ev := range c.EvaluationHistory {
			status := "FAIL"
			if ev.Passed {
				status = "PASS"
			}
			metricsJSON, _ := json.Marshal(ev.Metrics)
			fmt.Fprintf(&b, "- %s: %s — %s\n", ev.CandidateBranch, status, metricsJSON)
		}
		b.WriteString("\n")
	}

	if c.CurrentPlan != nil {
		b.WriteString("# Current Plan State\n\n")
		for _, item := range c.CurrentPlan.Items {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", item.Status, item.ID, item.Description)
		}
		b.WriteString("\n")
	}

	if len(c.KnowledgeEntries) > 0 {
		b.WriteString("# Knowledge Base\n\n")
		for _, k := range c.KnowledgeEntries {
			fmt.Fprintf(&b, "- %s\n", truncate(k.Content, 200))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func buildSystemPrompt(c Context, contextMD string) string {
	var b strings.Builder
	b.WriteString("You are the planning agent. Read _planning_context.md and plan_schema.json.\n")
	b.WriteString("Analyze the repository code and evaluation results. Write a plan.json file with concrete improvement items.\n\n")
	b.WriteString(contextMD)
	b.WriteString("\n# Plan JSON Schema\n\n")
	b.WriteString(planSchema)
	return b.String()
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
