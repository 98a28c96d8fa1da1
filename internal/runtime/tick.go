package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/aurelia/internal/config"
	"github.com/antigravity-dev/aurelia/internal/dispatcher"
	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/antigravity-dev/aurelia/internal/worker/planner"
)

var pipelineSteps = []model.Component{
	model.ComponentCoder,
	model.ComponentPresubmit,
	model.ComponentEvaluator,
}

const defaultEvalCommand = "pixi run evaluate"

// tick runs one full heartbeat: collect completions, advance pipelines,
// check termination, plan, fill slots, persist.
func (r *Runtime) tick(ctx context.Context) error {
	r.state.HeartbeatCount++
	now := time.Now().UTC()
	r.state.LastHeartbeatAt = &now
	r.emit("heartbeat", map[string]any{"count": r.state.HeartbeatCount})
	r.metrics.ObserveHeartbeat(r.state.HeartbeatCount)

	if err := r.cfgMgr.Reload(r.dirs.workflowYAMLPath()); err != nil {
		r.logger.Warn("config reload failed, keeping last good config", "error", err)
	}
	r.cfg = r.cfgMgr.Get()

	r.collectCompletions()

	for i := range r.candidates {
		r.advanceCandidate(ctx, &r.candidates[i])
	}

	if r.checkTermination() {
		return r.persist()
	}

	r.runPlanningIfRequested(ctx)
	r.fillSlots(ctx)

	return r.persist()
}

// collectCompletions drains any pendingTask whose worker goroutine has
// finished, applying its result to the owning Task.
func (r *Runtime) collectCompletions() {
	for taskID, p := range r.pending {
		select {
		case result := <-p.done:
			r.applyResult(taskID, result)
			delete(r.pending, taskID)
		default:
		}
	}
}

func (r *Runtime) applyResult(taskID string, result model.TaskResult) {
	task := r.findTask(taskID)
	if task == nil {
		return
	}
	now := time.Now().UTC()
	task.CompletedAt = &now
	task.Result = &result
	if result.Error != "" {
		task.Status = model.TaskFailed
		r.state.TotalTasksFailed++
		r.emit("task.failed", map[string]any{"task_id": task.ID, "component": string(task.Component), "error": result.Error})
		r.metrics.ObserveTaskResult(string(task.Component), false)
	} else {
		task.Status = model.TaskSuccess
		r.state.TotalTasksComplete++
		r.emit("task.completed", map[string]any{"task_id": task.ID, "component": string(task.Component)})
		r.metrics.ObserveTaskResult(string(task.Component), true)
	}

	if task.Component == model.ComponentPlanner && task.ID == r.plannerTaskID {
		r.plannerTaskID = ""
		if task.Status == model.TaskSuccess {
			worktree, _ := task.Context["worktree_path"].(string)
			r.dispatcher.OnPlanningCompleted(&result, worktree)
		}
	}
}

// advanceCandidate walks coder -> presubmit -> evaluator -> finish for
// one active/evaluating candidate.
func (r *Runtime) advanceCandidate(ctx context.Context, cand *model.Candidate) {
	if cand.Status != model.CandidateActive && cand.Status != model.CandidateEvaluating {
		return
	}

	for i, comp := range pipelineSteps {
		task := r.latestTask(cand.Branch, comp)
		if task == nil {
			if r.freeTaskSlots() > 0 {
				r.dispatchStep(ctx, cand, comp, nil)
			}
			return
		}

		switch task.Status {
		case model.TaskPending, model.TaskRunning:
			return
		case model.TaskFailed, model.TaskCancelled:
			r.failCandidate(cand, task)
			return
		case model.TaskSuccess:
			if comp == model.ComponentPresubmit {
				cand.Status = model.CandidateEvaluating
			}
			if i == len(pipelineSteps)-1 {
				r.finalizeCandidate(cand, task)
				return
			}
			continue
		}
	}
}

func (r *Runtime) failCandidate(cand *model.Candidate, task *model.Task) {
	cand.Status = model.CandidateFailed
	r.dispatcher.OnCandidateCompleted(*cand, nil)
	r.emit("candidate.failed", map[string]any{"candidate_id": cand.ID, "branch": cand.Branch, "task_id": task.ID})
	r.metrics.ObserveCandidateResult(false)

	if err := r.worktrees.Remove(cand.Branch); err != nil {
		// Left for the startup orphan sweep in recovery.go to retry.
		r.logger.Warn("failed candidate: worktree cleanup failed", "branch", cand.Branch, "error", err)
	}
}

func (r *Runtime) finalizeCandidate(cand *model.Candidate, evalTask *model.Task) {
	commitSHA := ""
	if commits, err := r.repo.Log(cand.Branch, 1); err == nil && len(commits) > 0 {
		commitSHA = commits[0].SHA
	}

	var metrics map[string]float64
	rawOutput := ""
	if evalTask.Result != nil {
		metrics = evalTask.Result.Metrics
		rawOutput = evalTask.Result.Summary
	}

	targets, _ := config.ParseTerminationCondition(r.cfg.TerminationCondition)
	passed := true
	if len(targets) > 0 {
		passed = config.MetricsMeetTermination(targets, metrics)
	}

	eval := model.Evaluation{
		ID:              r.ids.Next("eval"),
		TaskID:          evalTask.ID,
		CandidateBranch: cand.Branch,
		CommitSHA:       commitSHA,
		Metrics:         metrics,
		RawOutput:       rawOutput,
		Timestamp:       time.Now().UTC(),
		Passed:          passed,
	}
	r.evaluations = append(r.evaluations, eval)
	cand.Evaluations = append(cand.Evaluations, eval.ID)

	if passed {
		cand.Status = model.CandidateSucceeded
	} else {
		cand.Status = model.CandidateFailed
	}
	r.metrics.ObserveCandidateResult(passed)

	r.emit("candidate.evaluated", map[string]any{
		"candidate_id": cand.ID,
		"branch":       cand.Branch,
		"metrics":      metrics,
		"passed":       passed,
	})

	r.dispatcher.OnCandidateCompleted(*cand, &eval)
}

// checkTermination evaluates spec.md's stop conditions. Never terminates
// while any background task is still running.
func (r *Runtime) checkTermination() bool {
	if len(r.pending) > 0 {
		return false
	}

	for _, eval := range r.evaluations {
		if eval.Passed {
			r.state.Status = model.RuntimeStopped
			r.emit("runtime.terminated", map[string]any{"reason": "termination_condition_met"})
			return true
		}
	}

	failedCount := 0
	for _, c := range r.candidates {
		if c.Status == model.CandidateFailed {
			failedCount++
		}
	}
	if failedCount >= r.cfg.CandidateAbandonThreshold {
		r.state.Status = model.RuntimeStopped
		r.emit("runtime.terminated", map[string]any{"reason": "abandon_threshold_reached"})
		return true
	}

	return false
}

// runPlanningIfRequested dispatches a planner Task on a reserved branch
// when the dispatcher requests planning and no planner task is already
// in flight.
func (r *Runtime) runPlanningIfRequested(ctx context.Context) {
	if !r.dispatcher.NeedsPlanning() {
		return
	}
	if r.plannerTaskID != "" {
		if t := r.findTask(r.plannerTaskID); t != nil && t.Status == model.TaskRunning {
			return
		}
	}
	if r.freeTaskSlots() <= 0 {
		return
	}

	planBranch := fmt.Sprintf("aurelia-plan-%d", r.state.HeartbeatCount)
	if err := r.repo.CreateBranch(planBranch, "main"); err != nil {
		r.logger.Error("planning: create branch failed", "branch", planBranch, "error", err)
		return
	}
	worktree, err := r.worktrees.Create(planBranch)
	if err != nil {
		r.logger.Error("planning: create worktree failed", "error", err)
		return
	}

	now := time.Now().UTC()
	task := model.Task{
		ID:          r.ids.Next("task"),
		ThreadID:    r.ids.Next("thread"),
		Component:   model.ComponentPlanner,
		Branch:      "main",
		Instruction: "plan",
		Status:      model.TaskRunning,
		Context:     map[string]any{"worktree_path": worktree},
		CreatedAt:   now,
		StartedAt:   &now,
	}
	r.tasks = append(r.tasks, task)
	r.plannerTaskID = task.ID
	r.state.TotalTasksDispatch++
	r.emit("task.started", map[string]any{"task_id": task.ID, "component": "planner"})
	r.metrics.ObserveTaskDispatch(string(model.ComponentPlanner))

	planCtx := r.buildPlannerContext()
	done := make(chan model.TaskResult, 1)
	r.pending[task.ID] = &pendingTask{component: model.ComponentPlanner, branch: task.Branch, done: done}
	go func(t model.Task, pc planner.Context) {
		done <- r.workers.Planner.Execute(ctx, t, pc)
	}(task, planCtx)
}

func (r *Runtime) buildPlannerContext() planner.Context {
	history := make([]planner.EvaluationSummary, 0, len(r.evaluations))
	for _, ev := range r.evaluations {
		history = append(history, planner.EvaluationSummary{
			CandidateBranch: ev.CandidateBranch,
			Passed:          ev.Passed,
			Metrics:         ev.Metrics,
		})
	}

	var currentPlan *model.Plan
	if p, ok := r.dispatcher.(*dispatcher.Plan); ok {
		currentPlan = p.CurrentPlan()
	}

	return planner.Context{
		ProblemDescription: r.instruction,
		EvaluationHistory:  history,
		CurrentPlan:        currentPlan,
	}
}

// fillSlots asks the dispatcher for work while concurrency budget
// remains, materializing each DispatchRequest as a new Candidate and its
// first (coder) Task.
func (r *Runtime) fillSlots(ctx context.Context) {
	for r.activeCandidateCount() < r.cfg.MaxConcurrentTasks && r.freeTaskSlots() > 0 {
		req, ok := r.dispatcher.SelectNext()
		if !ok {
			return
		}
		r.createCandidate(ctx, *req)
	}
}

func (r *Runtime) createCandidate(ctx context.Context, req model.DispatchRequest) {
	cand := model.Candidate{
		ID:           r.ids.Next("cand"),
		ParentBranch: req.ParentBranch,
		Status:       model.CandidateActive,
		CreatedAt:    time.Now().UTC(),
	}
	cand.Branch = branchPrefix + cand.ID

	if err := r.repo.CreateBranch(cand.Branch, req.ParentBranch); err != nil {
		r.logger.Error("create candidate branch failed", "branch", cand.Branch, "error", err)
		return
	}
	worktree, err := r.worktrees.Create(cand.Branch)
	if err != nil {
		r.logger.Error("create candidate worktree failed", "branch", cand.Branch, "error", err)
		return
	}
	cand.WorktreePath = worktree

	r.candidates = append(r.candidates, cand)
	r.emit("candidate.created", map[string]any{"candidate_id": cand.ID, "branch": cand.Branch, "parent_branch": cand.ParentBranch})

	if req.PlanItemID != "" {
		if p, ok := r.dispatcher.(interface {
			MarkAssigned(string, model.Candidate)
		}); ok {
			p.MarkAssigned(req.PlanItemID, cand)
		}
	}

	extra := map[string]any{}
	for k, v := range req.Context {
		extra[k] = v
	}
	extra["instruction"] = req.Instruction
	extra["problem_description"] = r.instruction
	extra["attempt_number"] = 1

	idx := len(r.candidates) - 1
	r.dispatchStep(ctx, &r.candidates[idx], model.ComponentCoder, extra)
}
