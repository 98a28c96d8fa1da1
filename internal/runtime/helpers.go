package runtime

import (
	"context"
	"time"

	"github.com/antigravity-dev/aurelia/internal/model"
)

// dispatchStep creates and launches a background Task for comp against
// cand, merging extra into the step's default context. The goroutine
// receives a value copy of the Task so later mutation of r.tasks never
// races with the worker.
func (r *Runtime) dispatchStep(ctx context.Context, cand *model.Candidate, comp model.Component, extra map[string]any) {
	taskCtx := map[string]any{"worktree_path": cand.WorktreePath}
	switch comp {
	case model.ComponentPresubmit:
		taskCtx["checks"] = r.cfg.PresubmitChecks
	case model.ComponentEvaluator:
		taskCtx["eval_command"] = defaultEvalCommand
	}
	for k, v := range extra {
		taskCtx[k] = v
	}

	now := time.Now().UTC()
	task := model.Task{
		ID:          r.ids.Next("task"),
		ThreadID:    cand.ID,
		Component:   comp,
		Branch:      cand.Branch,
		Instruction: instructionFor(comp, taskCtx),
		Status:      model.TaskRunning,
		Context:     taskCtx,
		CreatedAt:   now,
		StartedAt:   &now,
	}
	r.tasks = append(r.tasks, task)
	r.state.TotalTasksDispatch++
	r.emit("task.started", map[string]any{"task_id": task.ID, "component": string(comp), "branch": cand.Branch})
	r.metrics.ObserveTaskDispatch(string(comp))

	done := make(chan model.TaskResult, 1)
	r.pending[task.ID] = &pendingTask{component: comp, branch: cand.Branch, done: done}

	go func(t model.Task) {
		switch comp {
		case model.ComponentCoder:
			done <- r.workers.Coder.Execute(ctx, t)
		case model.ComponentPresubmit:
			done <- r.workers.Presubmit.Execute(ctx, t)
		case model.ComponentEvaluator:
			done <- r.workers.Evaluator.Execute(ctx, t)
		default:
			done <- model.TaskResult{Error: "runtime: no worker registered for component " + string(comp)}
		}
	}(task)
}

func instructionFor(comp model.Component, taskCtx map[string]any) string {
	if instr, ok := taskCtx["instruction"].(string); ok && instr != "" {
		return instr
	}
	return string(comp)
}

func (r *Runtime) latestTask(branch string, comp model.Component) *model.Task {
	for i := len(r.tasks) - 1; i >= 0; i-- {
		if r.tasks[i].Branch == branch && r.tasks[i].Component == comp {
			return &r.tasks[i]
		}
	}
	return nil
}

func (r *Runtime) findTask(id string) *model.Task {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return &r.tasks[i]
		}
	}
	return nil
}

func (r *Runtime) freeTaskSlots() int {
	n := r.cfg.MaxConcurrentTasks - len(r.pending)
	if n < 0 {
		return 0
	}
	return n
}

func (r *Runtime) activeCandidateCount() int {
	count := 0
	for _, c := range r.candidates {
		if c.Status == model.CandidateActive || c.Status == model.CandidateEvaluating {
			count++
		}
	}
	return count
}
