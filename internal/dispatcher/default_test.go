package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDefaultSelectNextParentsAtMainWhenNoCandidates(t *testing.T) {
	d := NewDefault()
	require.NoError(t, d.Initialize(context.Background(), InitContext{Instruction: "improve throughput"}))

	req, ok := d.SelectNext()
	require.True(t, ok)
	require.Equal(t, "main", req.ParentBranch)
	require.Contains(t, req.Instruction, "improve throughput")
	require.Equal(t, 1, req.Context["attempt_number"])
}

func TestDefaultSelectNextParentsAtBestSucceededCandidate(t *testing.T) {
	candidates := []model.Candidate{
		{ID: "cand-0001", Branch: "cand-0001", Status: model.CandidateSucceeded, Evaluations: []string{"eval-0001"}},
		{ID: "cand-0002", Branch: "cand-0002", Status: model.CandidateSucceeded, Evaluations: []string{"eval-0002"}},
		{ID: "cand-0003", Branch: "cand-0003", Status: model.CandidateFailed},
	}
	evaluations := []model.Evaluation{
		{ID: "eval-0001", CandidateBranch: "cand-0001", Passed: true, Metrics: map[string]float64{"score": 0.4}},
		{ID: "eval-0002", CandidateBranch: "cand-0002", Passed: true, Metrics: map[string]float64{"score": 0.9}},
	}

	d := NewDefault()
	require.NoError(t, d.Initialize(context.Background(), InitContext{
		Instruction: "improve throughput",
		Candidates:  candidates,
		Evaluations: evaluations,
	}))

	req, ok := d.SelectNext()
	require.True(t, ok)
	require.Equal(t, "cand-0002", req.ParentBranch)
	require.Equal(t, 4, req.Context["attempt_number"])
	require.Contains(t, req.Context["feedback"], "Attempt 1")
}

func TestDefaultNeverNeedsPlanning(t *testing.T) {
	d := NewDefault()
	require.False(t, d.NeedsPlanning())
	require.Empty(t, d.GetPlanningContext())
	d.OnPlanningCompleted(&model.TaskResult{}, "/tmp/whatever")
}

func TestDefaultIgnoresFailedEvaluationsWhenScoring(t *testing.T) {
	candidates := []model.Candidate{
		{ID: "cand-0001", Branch: "cand-0001", Status: model.CandidateSucceeded, Evaluations: []string{"eval-0001"}},
	}
	evaluations := []model.Evaluation{
		{ID: "eval-0001", CandidateBranch: "cand-0001", Passed: false, Metrics: map[string]float64{"score": 0.99}},
	}

	d := NewDefault()
	require.NoError(t, d.Initialize(context.Background(), InitContext{Candidates: candidates, Evaluations: evaluations}))

	req, ok := d.SelectNext()
	require.True(t, ok)
	require.Equal(t, "main", req.ParentBranch)
}

func TestDefaultOnCandidateCompletedIsNoOp(t *testing.T) {
	d := NewDefault()
	d.OnCandidateCompleted(model.Candidate{ID: "c1"}, &model.Evaluation{ID: "e1", Timestamp: time.Now()})
}
