package dispatcher

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/aurelia/internal/graphstore"
	"github.com/antigravity-dev/aurelia/internal/model"
)

// Plan dispatches work items from a structured Plan. Each plan item maps
// 1:1 to a candidate branch and progresses todo -> assigned ->
// complete|failed.
type Plan struct {
	mu          sync.Mutex
	plan        *model.Plan
	projectDir  string
	instruction string
	evaluations []model.Evaluation
	index       *graphstore.Store
}

// NewPlan returns a Plan dispatcher, optionally resuming from an
// existing plan (nil if none was persisted).
func NewPlan(plan *model.Plan) *Plan {
	return &Plan{plan: plan}
}

// UseIndex attaches a derived dependency index for eligibility lookups,
// rebuilding it from the current plan. Without one, eligibleItems falls
// back to an in-memory O(n) scan of the plan's items.
func (p *Plan) UseIndex(idx *graphstore.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = idx
	p.rebuildIndexLocked(context.Background())
}

func (p *Plan) rebuildIndexLocked(ctx context.Context) {
	if p.index == nil {
		return
	}
	_ = p.index.Rebuild(ctx, p.plan)
}

func (p *Plan) Initialize(_ context.Context, initCtx InitContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.projectDir = initCtx.ProjectDir
	p.instruction = initCtx.Instruction
	p.evaluations = initCtx.Evaluations
	return nil
}

// CurrentPlan returns the dispatcher's plan, or nil if none exists yet.
func (p *Plan) CurrentPlan() *model.Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plan
}

func (p *Plan) SelectNext() (*model.DispatchRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return nil, false
	}

	eligible := p.eligibleItems()
	if len(eligible) == 0 {
		return nil, false
	}

	best := eligible[0]
	for _, item := range eligible[1:] {
		if item.Priority < best.Priority {
			best = item
		}
	}

	parentBranch, ok := p.resolveBranch(best.ParentBranch)
	if !ok {
		return nil, false
	}

	return &model.DispatchRequest{
		ParentBranch: parentBranch,
		Instruction:  best.Instruction,
		Context: map[string]any{
			"plan_item_id":          best.ID,
			"plan_item_description": best.Description,
		},
		PlanItemID: best.ID,
	}, true
}

// MarkAssigned transitions planItemID to assigned and records the
// candidate it was given to.
func (p *Plan) MarkAssigned(planItemID string, candidate model.Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := p.findItem(planItemID)
	if item == nil {
		return
	}
	item.Status = model.PlanItemAssigned
	item.AssignedCandidateID = candidate.ID
	item.AssignedBranch = candidate.Branch
	p.rebuildIndexLocked(context.Background())
}

func (p *Plan) OnCandidateCompleted(candidate model.Candidate, _ *model.Evaluation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := p.findItemByCandidate(candidate.ID)
	if item == nil {
		return
	}
	if candidate.Status == model.CandidateSucceeded {
		item.Status = model.PlanItemComplete
	} else {
		item.Status = model.PlanItemFailed
	}
	p.rebuildIndexLocked(context.Background())
}

// NeedsPlanning is true when no plan exists, no todo items remain, or
// every todo item is blocked with nothing currently assigned (deadlock).
func (p *Plan) NeedsPlanning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return true
	}

	var hasTodo bool
	for _, item := range p.plan.Items {
		if item.Status == model.PlanItemTodo {
			hasTodo = true
			break
		}
	}
	if !hasTodo {
		return true
	}

	if len(p.eligibleItems()) == 0 {
		var anyAssigned bool
		for _, item := range p.plan.Items {
			if item.Status == model.PlanItemAssigned {
				anyAssigned = true
				break
			}
		}
		if !anyAssigned {
			return true
		}
	}

	return false
}

func (p *Plan) GetPlanningContext() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := map[string]any{
		"problem_description": p.instruction,
	}

	if len(p.evaluations) > 0 {
		history := make([]map[string]any, 0, len(p.evaluations))
		for _, ev := range p.evaluations {
			history = append(history, map[string]any{
				"candidate_branch": ev.CandidateBranch,
				"metrics":          ev.Metrics,
				"passed":           ev.Passed,
			})
		}
		result["evaluation_history"] = history
	}

	if p.plan != nil {
		items := make([]map[string]any, 0, len(p.plan.Items))
		for _, it := range p.plan.Items {
			items = append(items, map[string]any{
				"id":              it.ID,
				"description":     it.Description,
				"status":          it.Status,
				"assigned_branch": it.AssignedBranch,
			})
		}
		result["current_plan"] = map[string]any{
			"summary":  p.plan.Summary,
			"revision": p.plan.Revision,
			"items":    items,
		}
	}

	return result
}

// planJSON is the shape the planner agent writes to plan.json.
type planJSON struct {
	Summary string `json:"summary"`
	Items   []struct {
		ID           string   `json:"id"`
		Description  string   `json:"description"`
		Instruction  string   `json:"instruction"`
		ParentBranch string   `json:"parent_branch"`
		Priority     int      `json:"priority"`
		DependsOn    []string `json:"depends_on"`
	} `json:"items"`
}

// OnPlanningCompleted parses plan.json from the planner's TaskResult
// summary (its raw contents per spec), merging with the existing plan by
// preserving any item whose status is not todo, keyed by item ID, and
// incrementing the revision.
func (p *Plan) OnPlanningCompleted(result *model.TaskResult, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if result == nil || result.Error != "" {
		return
	}

	var parsed planJSON
	if err := json.Unmarshal([]byte(result.Summary), &parsed); err != nil {
		return
	}

	existing := map[string]model.PlanItem{}
	newRevision := 0
	if p.plan != nil {
		for _, it := range p.plan.Items {
			if it.Status != model.PlanItemTodo {
				existing[it.ID] = it
			}
		}
		newRevision = p.plan.Revision + 1
	}

	newItems := make([]model.PlanItem, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		if kept, ok := existing[raw.ID]; ok {
			newItems = append(newItems, kept)
			continue
		}
		parentBranch := raw.ParentBranch
		if parentBranch == "" {
			parentBranch = "main"
		}
		newItems = append(newItems, model.PlanItem{
			ID:           raw.ID,
			Description:  raw.Description,
			Instruction:  raw.Instruction,
			ParentBranch: parentBranch,
			Priority:     raw.Priority,
			DependsOn:    raw.DependsOn,
			Status:       model.PlanItemTodo,
		})
	}

	p.plan = &model.Plan{
		ID:        planIDFor(newRevision),
		Summary:   parsed.Summary,
		Items:     newItems,
		CreatedAt: time.Now().UTC(),
		Revision:  newRevision,
	}

	p.rebuildIndexLocked(context.Background())
	p.dropCyclicEdgesLocked(context.Background())
}

// dropCyclicEdgesLocked strips any dependency edge the planner emitted
// that would close a cycle, then rebuilds the index once more. A
// confused or adversarial plan.json (item A depends on item B depends
// on item A) would otherwise leave every item in that cycle permanently
// ineligible.
func (p *Plan) dropCyclicEdgesLocked(ctx context.Context) {
	if p.index == nil || p.plan == nil {
		return
	}

	changed := false
	for i := range p.plan.Items {
		item := &p.plan.Items[i]
		kept := item.DependsOn[:0]
		for _, dep := range item.DependsOn {
			cyclic, err := p.index.HasCycle(ctx, item.ID, dep)
			if err == nil && cyclic {
				changed = true
				continue
			}
			kept = append(kept, dep)
		}
		item.DependsOn = kept
	}

	if changed {
		p.rebuildIndexLocked(ctx)
	}
}

// -- Internal helpers ---------------------------------------------------

func (p *Plan) eligibleItems() []model.PlanItem {
	if p.plan == nil {
		return nil
	}

	readySet, useIndex := p.readyIDSet()

	var eligible []model.PlanItem
	for _, item := range p.plan.Items {
		if item.Status != model.PlanItemTodo {
			continue
		}

		if useIndex {
			if _, ok := readySet[item.ID]; !ok {
				continue
			}
		} else if !p.depsSatisfied(item) {
			continue
		}

		if strings.HasPrefix(item.ParentBranch, "$plan-") {
			refID := strings.TrimPrefix(item.ParentBranch, "$plan-")
			ref := p.findItem(refID)
			if ref == nil || ref.Status != model.PlanItemComplete || ref.AssignedBranch == "" {
				continue
			}
		}

		eligible = append(eligible, item)
	}
	return eligible
}

// readyIDSet queries the derived index for todo items with every
// dependency complete. useIndex is false when no index is attached, or
// the query failed, so the caller falls back to the in-memory scan.
func (p *Plan) readyIDSet() (map[string]struct{}, bool) {
	if p.index == nil {
		return nil, false
	}
	ids, err := p.index.ReadyItemIDs(context.Background())
	if err != nil {
		return nil, false
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, true
}

func (p *Plan) depsSatisfied(item model.PlanItem) bool {
	for _, dep := range item.DependsOn {
		ref := p.findItem(dep)
		if ref == nil || ref.Status != model.PlanItemComplete {
			return false
		}
	}
	return true
}

// resolveBranch resolves a $plan-REF parent branch to the referenced
// item's assigned branch, or passes through a literal branch name.
func (p *Plan) resolveBranch(parentBranch string) (string, bool) {
	if !strings.HasPrefix(parentBranch, "$plan-") {
		return parentBranch, true
	}

	refID := strings.TrimPrefix(parentBranch, "$plan-")
	ref := p.findItem(refID)
	if ref == nil || ref.Status != model.PlanItemComplete {
		return "", false
	}
	return ref.AssignedBranch, true
}

func (p *Plan) findItem(itemID string) *model.PlanItem {
	if p.plan == nil {
		return nil
	}
	for i := range p.plan.Items {
		if p.plan.Items[i].ID == itemID {
			return &p.plan.Items[i]
		}
	}
	return nil
}

func (p *Plan) findItemByCandidate(candidateID string) *model.PlanItem {
	if p.plan == nil {
		return nil
	}
	for i := range p.plan.Items {
		if p.plan.Items[i].AssignedCandidateID == candidateID {
			return &p.plan.Items[i]
		}
	}
	return nil
}

func planIDFor(revision int) string {
	return "plan-" + padRevision(revision)
}

func padRevision(n int) string {
	digits := [4]byte{}
	for i := 3; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[:])
}
