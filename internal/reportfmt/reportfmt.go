// Package reportfmt turns a run's persisted state into human-readable
// text. A richer presentation layer (TUI dashboard, HTML report) is out
// of scope per spec.md's Non-goals; this package is the narrow
// Formatter interface and single concrete implementation the `report`
// subcommand calls into.
package reportfmt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/antigravity-dev/aurelia/internal/model"
)

// Report is the snapshot reportfmt renders: one run's final state plus
// its tasks, candidates, and evaluations.
type Report struct {
	State       *model.RuntimeState
	Tasks       []model.Task
	Candidates  []model.Candidate
	Evaluations []model.Evaluation
}

// Formatter renders a Report as a string. TextFormatter is the only
// implementation shipped; a caller wanting JSON or HTML output would
// implement this interface rather than changing the CLI.
type Formatter interface {
	Format(Report) string
}

// TextFormatter renders a Report as colored terminal text, grounded on
// the summary the teacher's CLI prints after a run.
type TextFormatter struct {
	bold, green, red, dim func(a ...any) string
}

// NewTextFormatter returns a TextFormatter with ANSI color enabled.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		bold:  color.New(color.Bold).SprintFunc(),
		green: color.New(color.FgGreen).SprintFunc(),
		red:   color.New(color.FgRed).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (f *TextFormatter) Format(r Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", f.bold("Aurelia Run Report"))
	fmt.Fprintf(&b, "Final status: %s\n", r.State.Status)
	fmt.Fprintf(&b, "Heartbeats:   %d\n", r.State.HeartbeatCount)
	fmt.Fprintf(&b, "Tasks:        %d dispatched, %d completed, %d failed\n\n",
		r.State.TotalTasksDispatch, r.State.TotalTasksComplete, r.State.TotalTasksFailed)

	succeeded, failed := 0, 0
	for _, c := range r.Candidates {
		switch c.Status {
		case model.CandidateSucceeded:
			succeeded++
		case model.CandidateFailed:
			failed++
		}
	}
	fmt.Fprintf(&b, "%s: %d total, %s, %s\n\n", f.bold("Candidates"), len(r.Candidates),
		f.green(fmt.Sprintf("%d succeeded", succeeded)), f.red(fmt.Sprintf("%d failed", failed)))

	if best := bestEvaluation(r.Evaluations); best != nil {
		fmt.Fprintf(&b, "%s: %s metrics=%v\n\n", f.bold("Best result"), best.CandidateBranch, best.Metrics)
	} else {
		fmt.Fprintf(&b, "%s\n\n", f.dim("No passing evaluation was recorded."))
	}

	if modes := failureModes(r.Tasks); len(modes) > 0 {
		fmt.Fprintf(&b, "%s\n", f.bold("Failure modes:"))
		for _, m := range modes {
			fmt.Fprintf(&b, "  %dx %s\n", m.count, m.reason)
		}
	}

	return b.String()
}

func bestEvaluation(evaluations []model.Evaluation) *model.Evaluation {
	var best *model.Evaluation
	bestScore := -1.0
	for i := range evaluations {
		e := evaluations[i]
		if !e.Passed || len(e.Metrics) == 0 {
			continue
		}
		var sum float64
		for _, v := range e.Metrics {
			sum += v
		}
		score := sum / float64(len(e.Metrics))
		if score > bestScore {
			bestScore = score
			best = &evaluations[i]
		}
	}
	return best
}

type failureMode struct {
	reason string
	count  int
}

func failureModes(tasks []model.Task) []failureMode {
	counts := map[string]int{}
	for _, t := range tasks {
		if t.Status == model.TaskFailed && t.Result != nil {
			counts[t.Result.Error]++
		}
	}
	modes := make([]failureMode, 0, len(counts))
	for reason, count := range counts {
		modes = append(modes, failureMode{reason, count})
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i].count > modes[j].count })
	return modes
}
