package planner

import (
	"testing"

	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/stretchr/testify/require"
)

func TestBuildContextMarkdownIncludesAllSections(t *testing.T) {
	plan := &model.Plan{Items: []model.PlanItem{{ID: "plan-0001", Status: model.PlanItemTodo, Description: "add caching"}}}
	c := Context{
		ProblemDescription: "reduce latency",
		EvaluationHistory:  []EvaluationSummary{{CandidateBranch: "cand-0001", Passed: true, Metrics: map[string]float64{"score": 0.8}}},
		CurrentPlan:        plan,
		KnowledgeEntries:   []KnowledgeEntry{{Content: "caching helped last time"}},
	}

	md := buildContextMarkdown(c)
	require.Contains(t, md, "reduce latency")
	require.Contains(t, md, "cand-0001: PASS")
	require.Contains(t, md, "plan-0001: add caching")
	require.Contains(t, md, "caching helped last time")
}

func TestBuildContextMarkdownOmitsEmptySections(t *testing.T) {
	md := buildContextMarkdown(Context{ProblemDescription: "x"})
	require.NotContains(t, md, "Evaluation History")
	require.NotContains(t, md, "Current Plan State")
	require.NotContains(t, md, "Knowledge Base")
}

func TestBuildSystemPromptEmbedsSchemaAndContext(t *testing.T) {
	prompt := buildSystemPrompt(Context{ProblemDescription: "x"}, "# Problem\n\nx\n")
	require.Contains(t, prompt, "plan.json")
	require.Contains(t, prompt, `"required": ["summary", "items"]`)
}
