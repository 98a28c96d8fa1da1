// Package model defines the core domain entities shared across the
// orchestration engine: runtime state, tasks, candidates, evaluations,
// events, and structured plans.
package model

import "time"

// RuntimeStatus is the lifecycle state of the orchestrator process.
type RuntimeStatus string

const (
	RuntimeStopped RuntimeStatus = "stopped"
	RuntimeRunning RuntimeStatus = "running"
)

// TokenTotals aggregates token usage reported by completed tasks.
type TokenTotals struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	CacheReadTokens int64 `json:"cache_read_tokens"`
}

// RuntimeState is the process-wide singleton snapshot.
type RuntimeState struct {
	Status             RuntimeStatus  `json:"status"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	StoppedAt          *time.Time     `json:"stopped_at,omitempty"`
	LastHeartbeatAt    *time.Time     `json:"last_heartbeat_at,omitempty"`
	HeartbeatCount     int64          `json:"heartbeat_count"`
	TotalTasksDispatch int64          `json:"total_tasks_dispatched"`
	TotalTasksComplete int64          `json:"total_tasks_completed"`
	TotalTasksFailed   int64          `json:"total_tasks_failed"`
	TokenTotals        TokenTotals    `json:"token_totals"`
	CostUSDTotal       float64        `json:"cost_usd_total"`
	NextEventSeq       int64          `json:"next_event_seq"`
	NextSeq            map[string]int `json:"next_seq"`
}

// NewRuntimeState returns the empty default RuntimeState.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{
		Status:       RuntimeStopped,
		NextEventSeq: 1,
		NextSeq:      map[string]int{},
	}
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSuccess   TaskStatus = "success"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Component names the worker kind that executes a Task.
type Component string

const (
	ComponentCoder      Component = "coder"
	ComponentPresubmit  Component = "presubmit"
	ComponentEvaluator  Component = "evaluator"
	ComponentPlanner    Component = "planner"
)

// TaskResult is the structured output of a completed Task.
type TaskResult struct {
	Summary   string             `json:"summary"`
	Artifacts []string           `json:"artifacts,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Task is a unit of work dispatched to a Component worker.
type Task struct {
	ID            string         `json:"id"`
	ThreadID      string         `json:"thread_id"`
	Component     Component      `json:"component"`
	Branch        string         `json:"branch"`
	ParentTaskID  *string        `json:"parent_task_id,omitempty"`
	Instruction   string         `json:"instruction"`
	Status        TaskStatus     `json:"status"`
	Context       map[string]any `json:"context,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
	Result        *TaskResult    `json:"result,omitempty"`
}

// CandidateStatus is the lifecycle state of a Candidate branch.
type CandidateStatus string

const (
	CandidateActive     CandidateStatus = "active"
	CandidateEvaluating CandidateStatus = "evaluating"
	CandidateSucceeded  CandidateStatus = "succeeded"
	CandidateFailed     CandidateStatus = "failed"
	CandidateAbandoned  CandidateStatus = "abandoned"
)

// Candidate is an attempted improvement materialized as a git branch.
type Candidate struct {
	ID            string          `json:"id"`
	Branch        string          `json:"branch"`
	ParentBranch  string          `json:"parent_branch"`
	Status        CandidateStatus `json:"status"`
	Evaluations   []string        `json:"evaluations"`
	CreatedAt     time.Time       `json:"created_at"`
	WorktreePath  string          `json:"worktree_path,omitempty"`
}

// Evaluation is an immutable metric record for a candidate at a commit.
type Evaluation struct {
	ID              string             `json:"id"`
	TaskID          string             `json:"task_id"`
	CandidateBranch string             `json:"candidate_branch"`
	CommitSHA       string             `json:"commit_sha"`
	Metrics         map[string]float64 `json:"metrics"`
	RawOutput       string             `json:"raw_output"`
	Timestamp       time.Time          `json:"timestamp"`
	Passed          bool               `json:"passed"`
}

// Event is a single append-only log record.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// PlanItemStatus is the lifecycle state of a PlanItem.
type PlanItemStatus string

const (
	PlanItemTodo     PlanItemStatus = "todo"
	PlanItemAssigned PlanItemStatus = "assigned"
	PlanItemComplete PlanItemStatus = "complete"
	PlanItemFailed   PlanItemStatus = "failed"
)

// PlanItem is a single unit of planned work within a Plan.
type PlanItem struct {
	ID                  string         `json:"id"`
	Description         string         `json:"description"`
	Instruction          string         `json:"instruction"`
	ParentBranch        string         `json:"parent_branch"`
	Priority            int            `json:"priority"`
	DependsOn           []string       `json:"depends_on,omitempty"`
	Status              PlanItemStatus `json:"status"`
	AssignedCandidateID string         `json:"assigned_candidate_id,omitempty"`
	AssignedBranch      string         `json:"assigned_branch,omitempty"`
}

// Plan is a structured improvement program produced by the planner agent.
type Plan struct {
	ID        string     `json:"id"`
	Summary   string     `json:"summary"`
	Revision  int        `json:"revision"`
	CreatedAt time.Time  `json:"created_at"`
	Items     []PlanItem `json:"items"`
}

// ComponentSpec carries per-component tuning knobs.
type ComponentSpec struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	HeartbeatInterval int   `json:"heartbeat_interval_s"`
	MaxRetries       int    `json:"max_retries"`
}

// DispatchRequest is returned by a Dispatcher to describe the next unit
// of work the Runtime should turn into a Candidate.
type DispatchRequest struct {
	ParentBranch string
	Instruction  string
	Context      map[string]any
	PlanItemID   string
}
