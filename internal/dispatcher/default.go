package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/antigravity-dev/aurelia/internal/model"
)

// Default always branches from the best succeeded candidate (highest
// mean of its passed evaluations' numeric metrics), or "main" if none
// has succeeded yet. It never requests a planning phase.
type Default struct {
	mu          sync.Mutex
	projectDir  string
	instruction string
	candidates  []model.Candidate
	evaluations []model.Evaluation
}

// NewDefault returns an uninitialized Default dispatcher.
func NewDefault() *Default {
	return &Default{}
}

func (d *Default) Initialize(_ context.Context, initCtx InitContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projectDir = initCtx.ProjectDir
	d.instruction = initCtx.Instruction
	d.candidates = initCtx.Candidates
	d.evaluations = initCtx.Evaluations
	return nil
}

func (d *Default) SelectNext() (*model.DispatchRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	best := d.bestCandidate()
	parentBranch := "main"
	if best != nil {
		parentBranch = best.Branch
	}

	return &model.DispatchRequest{
		ParentBranch: parentBranch,
		Instruction:  fmt.Sprintf("Improve the solution. %s", d.instruction),
		Context: map[string]any{
			"problem_description": d.instruction,
			"feedback":             d.buildFeedbackText(),
			"attempt_number":       len(d.candidates) + 1,
		},
	}, true
}

func (d *Default) OnCandidateCompleted(candidate model.Candidate, evaluation *model.Evaluation) {
	// Default has no internal state keyed by candidate outcome; the next
	// SelectNext call recomputes the best candidate from scratch.
}

func (d *Default) NeedsPlanning() bool { return false }

func (d *Default) GetPlanningContext() map[string]any { return map[string]any{} }

func (d *Default) OnPlanningCompleted(_ *model.TaskResult, _ string) {}

// bestCandidate returns the succeeded candidate with the highest mean of
// its passed evaluations' numeric metrics.
func (d *Default) bestCandidate() *model.Candidate {
	evalByID := make(map[string]model.Evaluation, len(d.evaluations))
	for _, e := range d.evaluations {
		evalByID[e.ID] = e
	}

	var (
		best      *model.Candidate
		bestScore = -1.0
	)
	for i := range d.candidates {
		cand := d.candidates[i]
		if cand.Status != model.CandidateSucceeded {
			continue
		}
		for _, evalID := range cand.Evaluations {
			ev, ok := evalByID[evalID]
			if !ok || !ev.Passed {
				continue
			}
			if len(ev.Metrics) == 0 {
				continue
			}
			var sum float64
			for _, v := range ev.Metrics {
				sum += v
			}
			score := sum / float64(len(ev.Metrics))
			if score > bestScore {
				bestScore = score
				best = &d.candidates[i]
			}
		}
	}
	return best
}

// buildFeedbackText formats every prior attempt (status, metrics, and
// the first 200 characters of output) into feedback for the coder.
func (d *Default) buildFeedbackText() string {
	if len(d.evaluations) == 0 {
		return ""
	}

	evalByID := make(map[string]model.Evaluation, len(d.evaluations))
	for _, e := range d.evaluations {
		evalByID[e.ID] = e
	}

	var b strings.Builder
	for i, cand := range d.candidates {
		for _, evalID := range cand.Evaluations {
			ev, ok := evalByID[evalID]
			if !ok {
				continue
			}
			status := "FAILED"
			if ev.Passed {
				status = "PASSED"
			}
			metricsJSON, _ := json.Marshal(ev.Metrics)
			fmt.Fprintf(&b, "### Attempt %d\n", i+1)
			fmt.Fprintf(&b, "- Status: %s\n", status)
			fmt.Fprintf(&b, "- Metrics: %s\n", metricsJSON)
			if ev.RawOutput != "" {
				fmt.Fprintf(&b, "- Output: %s\n", truncate(ev.RawOutput, 200))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
