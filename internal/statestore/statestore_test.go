package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/stretchr/testify/require"
)

func TestInitializeCreatesSubdirs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Initialize())

	for _, name := range []string{"state", "logs", "cache", "reports", "config"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestRuntimeRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	state := model.NewRuntimeState()
	state.HeartbeatCount = 7
	require.NoError(t, s.SaveRuntime(state))

	loaded, err := s.LoadRuntime()
	require.NoError(t, err)
	require.Equal(t, int64(7), loaded.HeartbeatCount)
}

func TestLoadRuntimeMissingReturnsDefault(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	loaded, err := s.LoadRuntime()
	require.NoError(t, err)
	require.Equal(t, model.RuntimeStopped, loaded.Status)
	require.Equal(t, int64(1), loaded.NextEventSeq)
}

func TestSaveRotatesBackups(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	path := s.statePath("tasks.json")
	for i := 0; i < 5; i++ {
		tasks := []model.Task{{ID: "t-0001"}}
		tasks[0].Instruction = string(rune('a' + i))
		require.NoError(t, s.SaveTasks(tasks))
	}

	require.FileExists(t, path)
	require.FileExists(t, path+".bak.1")
	require.FileExists(t, path+".bak.2")
	require.FileExists(t, path+".bak.3")

	// oldest generation never exceeds 3
	_, err := os.Stat(path + ".bak.4")
	require.True(t, os.IsNotExist(err))
}

func TestLoadFallsBackOnCorruptPrimary(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	candidates := []model.Candidate{{ID: "cand-0001", Branch: "aurelia/cand-0001"}}
	require.NoError(t, s.SaveCandidates(candidates))

	path := s.statePath("candidates.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	loaded, err := s.LoadCandidates()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestLoadCandidatesEmptyWhenNoFile(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	loaded, err := s.LoadCandidates()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestPlanRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	plan := &model.Plan{ID: "plan-0001", Summary: "improve coverage", Revision: 1}
	require.NoError(t, s.SavePlan(plan))

	loaded, err := s.LoadPlan()
	require.NoError(t, err)
	require.Equal(t, "plan-0001", loaded.ID)
	require.Equal(t, 1, loaded.Revision)
}

func TestLoadPlanNilWhenAbsent(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Initialize())

	loaded, err := s.LoadPlan()
	require.NoError(t, err)
	require.Nil(t, loaded)
}
