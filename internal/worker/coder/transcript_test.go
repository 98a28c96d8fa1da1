package coder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTranscriptPrefersResultEvent(t *testing.T) {
	lines := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"thinking..."}]}}`,
		`{"type":"result","result":{"response":"final answer","stats":{"input_tokens":10,"output_tokens":5}}}`,
	}, "\n")

	transcript := ParseTranscript(strings.NewReader(lines))
	require.Equal(t, "final answer", transcript.Summary)
	require.Equal(t, 10, transcript.Usage.InputTokens)
	require.Equal(t, 5, transcript.Usage.OutputTokens)
}

func TestParseTranscriptFallsBackToLastAssistantMessage(t *testing.T) {
	lines := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"last message"}]}}`,
	}, "\n")

	transcript := ParseTranscript(strings.NewReader(lines))
	require.Equal(t, "last message", transcript.Summary)
}

func TestParseTranscriptSkipsMalformedLines(t *testing.T) {
	lines := strings.Join([]string{
		`not json at all`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}`,
		``,
	}, "\n")

	transcript := ParseTranscript(strings.NewReader(lines))
	require.Equal(t, "ok", transcript.Summary)
}

func TestParseTranscriptEmptyYieldsDefaultSummary(t *testing.T) {
	transcript := ParseTranscript(strings.NewReader(""))
	require.Equal(t, "No response from agent", transcript.Summary)
}

func TestBuildSystemPromptFirstAttempt(t *testing.T) {
	prompt := buildSystemPrompt("fix the bug", "feat/task-0001", "/work", "do the thing", nil)
	require.Contains(t, prompt, "This is the first attempt.")
	require.Contains(t, prompt, "feat/task-0001")
	require.Contains(t, prompt, "do the thing")
}

func TestBuildSystemPromptWithHistory(t *testing.T) {
	attempts := []Attempt{
		{CandidateBranch: "cand-0001", Status: "failed", Metrics: map[string]float64{"score": 0.2}, Output: "it broke"},
	}
	prompt := buildSystemPrompt("fix the bug", "feat/task-0002", "/work", "retry", attempts)
	require.Contains(t, prompt, "Attempt 1 (cand-0001) — failed")
	require.Contains(t, prompt, "it broke")
}
