// Package dispatcher implements the pluggable candidate-selection
// strategies the Runtime consults each heartbeat: what to work on next,
// which branch to fork from, and when to trigger a planning phase.
package dispatcher

import (
	"context"

	"github.com/antigravity-dev/aurelia/internal/model"
)

// InitContext is passed to Initialize once at runtime start.
type InitContext struct {
	ProjectDir  string
	Instruction string
	Candidates  []model.Candidate
	Evaluations []model.Evaluation
}

// Dispatcher decides what to work on next.
type Dispatcher interface {
	Initialize(ctx context.Context, initCtx InitContext) error
	SelectNext() (*model.DispatchRequest, bool)
	OnCandidateCompleted(candidate model.Candidate, evaluation *model.Evaluation)
	NeedsPlanning() bool
	GetPlanningContext() map[string]any
	OnPlanningCompleted(result *model.TaskResult, worktreePath string)
}
