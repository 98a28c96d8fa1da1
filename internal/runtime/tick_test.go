package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/aurelia/internal/model"
)

func TestCheckTerminationStopsOnPassingEvaluation(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.state.Status = model.RuntimeRunning
	rt.evaluations = []model.Evaluation{{CandidateBranch: "aurelia/cand-0001", Passed: true}}

	require.True(t, rt.checkTermination())
	require.Equal(t, model.RuntimeStopped, rt.state.Status)

	events, err := rt.events.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "termination_condition_met", events[0].Data["reason"])
}

func TestCheckTerminationStopsAtAbandonThreshold(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.state.Status = model.RuntimeRunning
	rt.cfg.CandidateAbandonThreshold = 2
	rt.candidates = []model.Candidate{
		{ID: "cand-0001", Status: model.CandidateFailed},
		{ID: "cand-0002", Status: model.CandidateFailed},
		{ID: "cand-0003", Status: model.CandidateActive},
	}

	require.True(t, rt.checkTermination())

	events, err := rt.events.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "abandon_threshold_reached", events[0].Data["reason"])
}

func TestCheckTerminationNeverFiresWithPendingWork(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.state.Status = model.RuntimeRunning
	rt.evaluations = []model.Evaluation{{Passed: true}}
	rt.pending["task-0001"] = &pendingTask{}

	require.False(t, rt.checkTermination(), "must never terminate while a background task is still running")
}

func TestCheckTerminationFalseWhenNoConditionMet(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.state.Status = model.RuntimeRunning
	rt.cfg.CandidateAbandonThreshold = 5
	rt.candidates = []model.Candidate{{ID: "cand-0001", Status: model.CandidateActive}}

	require.False(t, rt.checkTermination())
	require.Equal(t, model.RuntimeRunning, rt.state.Status)
}

func commitOnBranch(t *testing.T, rt *Runtime, branch string) {
	t.Helper()
	require.NoError(t, rt.repo.CreateBranch(branch, "main"))
	filename := strings.ReplaceAll(branch, "/", "_") + ".txt"
	path := filepath.Join(rt.repo.Dir, filename)
	require.NoError(t, os.WriteFile(path, []byte("content\n"), 0o644))
	_, err := rt.repo.Commit(branch, "candidate change", []string{filename})
	require.NoError(t, err)
}

func TestFinalizeCandidatePassesWhenMetricsMeetTermination(t *testing.T) {
	rt, disp := newTestRuntime(t)
	rt.cfg.TerminationCondition = "score >= 0.9"
	commitOnBranch(t, rt, "aurelia/cand-0001")

	cand := &model.Candidate{ID: "cand-0001", Branch: "aurelia/cand-0001", Status: model.CandidateEvaluating}
	evalTask := &model.Task{ID: "task-0003", Result: &model.TaskResult{Metrics: map[string]float64{"score": 0.95}}}

	rt.finalizeCandidate(cand, evalTask)

	require.Equal(t, model.CandidateSucceeded, cand.Status)
	require.Len(t, rt.evaluations, 1)
	require.True(t, rt.evaluations[0].Passed)
	require.NotEmpty(t, rt.evaluations[0].CommitSHA)
	require.Len(t, disp.completed, 1)
	require.NotNil(t, disp.completedEvals[0])
}

func TestFinalizeCandidateFailsWhenMetricsMissTermination(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.cfg.TerminationCondition = "score >= 0.9"
	commitOnBranch(t, rt, "aurelia/cand-0002")

	cand := &model.Candidate{ID: "cand-0002", Branch: "aurelia/cand-0002", Status: model.CandidateEvaluating}
	evalTask := &model.Task{ID: "task-0004", Result: &model.TaskResult{Metrics: map[string]float64{"score": 0.2}}}

	rt.finalizeCandidate(cand, evalTask)

	require.Equal(t, model.CandidateFailed, cand.Status)
	require.False(t, rt.evaluations[0].Passed)
}

func TestFinalizeCandidatePassesByDefaultWithNoTerminationCondition(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.cfg.TerminationCondition = ""
	commitOnBranch(t, rt, "aurelia/cand-0003")

	cand := &model.Candidate{ID: "cand-0003", Branch: "aurelia/cand-0003", Status: model.CandidateEvaluating}
	evalTask := &model.Task{ID: "task-0005", Result: &model.TaskResult{}}

	rt.finalizeCandidate(cand, evalTask)

	require.Equal(t, model.CandidateSucceeded, cand.Status)
}

func TestAdvanceCandidateFailsOnFailedTask(t *testing.T) {
	rt, disp := newTestRuntime(t)
	cand := model.Candidate{ID: "cand-0001", Branch: "aurelia/cand-0001", Status: model.CandidateActive}
	rt.candidates = []model.Candidate{cand}
	rt.tasks = []model.Task{
		{ID: "task-0001", Branch: "aurelia/cand-0001", Component: model.ComponentCoder, Status: model.TaskFailed},
	}

	rt.advanceCandidate(context.Background(), &rt.candidates[0])

	require.Equal(t, model.CandidateFailed, rt.candidates[0].Status)
	require.Len(t, disp.completed, 1)
	require.Nil(t, disp.completedEvals[0])
}

func TestAdvanceCandidateMovesToEvaluatingAfterPresubmitSuccess(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.candidates = []model.Candidate{{ID: "cand-0001", Branch: "aurelia/cand-0001", Status: model.CandidateActive}}
	rt.tasks = []model.Task{
		{ID: "task-0001", Branch: "aurelia/cand-0001", Component: model.ComponentCoder, Status: model.TaskSuccess},
		{ID: "task-0002", Branch: "aurelia/cand-0001", Component: model.ComponentPresubmit, Status: model.TaskSuccess},
		{ID: "task-0003", Branch: "aurelia/cand-0001", Component: model.ComponentEvaluator, Status: model.TaskRunning},
	}

	rt.advanceCandidate(context.Background(), &rt.candidates[0])

	require.Equal(t, model.CandidateEvaluating, rt.candidates[0].Status)
}

func TestAdvanceCandidateIgnoresTerminalCandidates(t *testing.T) {
	rt, disp := newTestRuntime(t)
	rt.candidates = []model.Candidate{{ID: "cand-0001", Branch: "aurelia/cand-0001", Status: model.CandidateSucceeded}}

	rt.advanceCandidate(context.Background(), &rt.candidates[0])

	require.Empty(t, disp.completed)
}

func TestAdvanceCandidateWaitsWhenNoFreeSlots(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.cfg.MaxConcurrentTasks = 1
	rt.pending["task-busy"] = &pendingTask{}
	rt.candidates = []model.Candidate{{ID: "cand-0001", Branch: "aurelia/cand-0001", Status: model.CandidateActive}}

	require.NotPanics(t, func() {
		rt.advanceCandidate(context.Background(), &rt.candidates[0])
	})
	require.Empty(t, rt.tasks, "must not dispatch a new step when no concurrency slot is free")
}

func TestRunPlanningIfRequestedSkipsWhenDispatcherDoesNotAskForIt(t *testing.T) {
	rt, disp := newTestRuntime(t)
	disp.needsPlanning = false

	rt.runPlanningIfRequested(context.Background())

	require.Empty(t, rt.tasks)
	require.Empty(t, rt.plannerTaskID)
}

func TestRunPlanningIfRequestedSkipsWhenNoFreeSlots(t *testing.T) {
	rt, disp := newTestRuntime(t)
	disp.needsPlanning = true
	rt.cfg.MaxConcurrentTasks = 1
	rt.pending["task-busy"] = &pendingTask{}

	rt.runPlanningIfRequested(context.Background())

	require.Empty(t, rt.tasks, "must not create a planner task or worktree when no concurrency slot is free")
}

func TestFillSlotsStopsWhenDispatcherHasNothingToOffer(t *testing.T) {
	rt, _ := newTestRuntime(t)

	rt.fillSlots(context.Background())

	require.Empty(t, rt.candidates)
	require.Empty(t, rt.tasks)
}

func TestFillSlotsRespectsMaxConcurrentTasks(t *testing.T) {
	rt, disp := newTestRuntime(t)
	rt.cfg.MaxConcurrentTasks = 1
	rt.candidates = []model.Candidate{{ID: "cand-0001", Status: model.CandidateActive}}
	disp.next = []*model.DispatchRequest{{ParentBranch: "main", Instruction: "try again"}}

	rt.fillSlots(context.Background())

	require.Len(t, rt.candidates, 1, "activeCandidateCount already at MaxConcurrentTasks must block further dispatch")
	require.Len(t, disp.next, 1, "the queued request must not have been consumed")
}
