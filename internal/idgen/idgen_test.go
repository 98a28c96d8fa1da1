package idgen

import (
	"testing"

	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNextIsZeroPaddedAndMonotone(t *testing.T) {
	g := New(model.NewRuntimeState())

	require.Equal(t, "task-0001", g.Next("task"))
	require.Equal(t, "task-0002", g.Next("task"))
	require.Equal(t, "cand-0001", g.Next("cand"))
	require.Equal(t, "task-0003", g.Next("task"))
}

func TestNextEventSeqStartsAtOne(t *testing.T) {
	state := model.NewRuntimeState()
	g := New(state)

	require.Equal(t, int64(1), g.NextEventSeq())
	require.Equal(t, int64(2), g.NextEventSeq())
	require.Equal(t, int64(3), state.NextEventSeq)
}

func TestGeneratorResumesFromExistingState(t *testing.T) {
	state := model.NewRuntimeState()
	state.NextSeq["task"] = 41
	state.NextEventSeq = 100

	g := New(state)
	require.Equal(t, "task-0042", g.Next("task"))
	require.Equal(t, int64(100), g.NextEventSeq())
}
