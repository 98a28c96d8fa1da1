package graphstore

import (
	"context"
	"testing"

	"github.com/antigravity-dev/aurelia/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRebuildAndReadyItemIDsOrdersByPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &model.Plan{Items: []model.PlanItem{
		{ID: "item-0001", Status: model.PlanItemTodo, Priority: 5},
		{ID: "item-0002", Status: model.PlanItemTodo, Priority: 1},
	}}
	if err := s.Rebuild(ctx, plan); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ids, err := s.ReadyItemIDs(ctx)
	if err != nil {
		t.Fatalf("ready item ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "item-0002" || ids[1] != "item-0001" {
		t.Fatalf("unexpected order: %v", ids)
	}
}

func TestReadyItemIDsExcludesItemsWithIncompleteDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &model.Plan{Items: []model.PlanItem{
		{ID: "item-0001", Status: model.PlanItemTodo, DependsOn: []string{"item-0002"}},
		{ID: "item-0002", Status: model.PlanItemTodo},
	}}
	if err := s.Rebuild(ctx, plan); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ids, err := s.ReadyItemIDs(ctx)
	if err != nil {
		t.Fatalf("ready item ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "item-0002" {
		t.Fatalf("expected only item-0002 ready, got %v", ids)
	}
}

func TestReadyItemIDsIncludesItemWhenDependencyComplete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &model.Plan{Items: []model.PlanItem{
		{ID: "item-0001", Status: model.PlanItemTodo, DependsOn: []string{"item-0002"}},
		{ID: "item-0002", Status: model.PlanItemComplete},
	}}
	if err := s.Rebuild(ctx, plan); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	ids, err := s.ReadyItemIDs(ctx)
	if err != nil {
		t.Fatalf("ready item ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "item-0001" {
		t.Fatalf("expected item-0001 ready, got %v", ids)
	}
}

func TestRebuildReplacesPreviousContents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &model.Plan{Items: []model.PlanItem{{ID: "item-0001", Status: model.PlanItemTodo}}}
	if err := s.Rebuild(ctx, first); err != nil {
		t.Fatalf("rebuild first: %v", err)
	}

	second := &model.Plan{Items: []model.PlanItem{{ID: "item-0002", Status: model.PlanItemTodo}}}
	if err := s.Rebuild(ctx, second); err != nil {
		t.Fatalf("rebuild second: %v", err)
	}

	ids, err := s.ReadyItemIDs(ctx)
	if err != nil {
		t.Fatalf("ready item ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "item-0002" {
		t.Fatalf("expected only item-0002 after rebuild, got %v", ids)
	}
}

func TestHasCycleDetectsSelfLoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cyclic, err := s.HasCycle(ctx, "item-0001", "item-0001")
	if err != nil {
		t.Fatalf("has cycle: %v", err)
	}
	if !cyclic {
		t.Fatalf("expected self-loop to be reported as a cycle")
	}
}

func TestHasCycleDetectsTransitiveCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &model.Plan{Items: []model.PlanItem{
		{ID: "item-0001", Status: model.PlanItemTodo, DependsOn: []string{"item-0002"}},
		{ID: "item-0002", Status: model.PlanItemTodo},
	}}
	if err := s.Rebuild(ctx, plan); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	cyclic, err := s.HasCycle(ctx, "item-0002", "item-0001")
	if err != nil {
		t.Fatalf("has cycle: %v", err)
	}
	if !cyclic {
		t.Fatalf("expected adding item-0002 -> item-0001 to close a cycle")
	}
}

func TestHasCycleFalseWhenNoPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &model.Plan{Items: []model.PlanItem{
		{ID: "item-0001", Status: model.PlanItemTodo},
		{ID: "item-0002", Status: model.PlanItemTodo},
	}}
	if err := s.Rebuild(ctx, plan); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	cyclic, err := s.HasCycle(ctx, "item-0001", "item-0002")
	if err != nil {
		t.Fatalf("has cycle: %v", err)
	}
	if cyclic {
		t.Fatalf("expected no cycle")
	}
}
