package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()

	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")

	readme := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("# test\n"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "initial commit")

	return New(dir)
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestCreateBranchAndExists(t *testing.T) {
	r := setupTestRepo(t)

	exists, err := r.BranchExists("feat/task-0001")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, r.CreateBranch("feat/task-0001", "main"))

	exists, err = r.BranchExists("feat/task-0001")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCommitAndLog(t *testing.T) {
	r := setupTestRepo(t)
	require.NoError(t, r.CreateBranch("feat/task-0001", "main"))

	path := filepath.Join(r.Dir, "change.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	sha, err := r.Commit("feat/task-0001", "add change", []string{"change.txt"})
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	records, err := r.Log("feat/task-0001", 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "add change", records[0].Message)
}

func TestDiffBetweenBranches(t *testing.T) {
	r := setupTestRepo(t)
	require.NoError(t, r.CreateBranch("feat/task-0001", "main"))

	path := filepath.Join(r.Dir, "change.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))
	_, err := r.Commit("feat/task-0001", "add change", []string{"change.txt"})
	require.NoError(t, err)

	diff, err := r.Diff("feat/task-0001", "main")
	require.NoError(t, err)
	require.Contains(t, diff, "change.txt")
}

func TestNotesRoundTrip(t *testing.T) {
	r := setupTestRepo(t)
	sha, err := r.run("rev-parse", "HEAD")
	require.NoError(t, err)

	empty, err := r.ReadNotes(sha, "aurelia")
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, r.AddNote(sha, "aurelia", `{"kind":"eval","score":0.9}`))

	notes, err := r.ReadNotes(sha, "aurelia")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0], "score")
}

func TestShowReadsFileAtBranch(t *testing.T) {
	r := setupTestRepo(t)
	content, err := r.Show("main", "README.md")
	require.NoError(t, err)
	require.Equal(t, "# test", string(content))
}

func TestMergeBranchIntoBase(t *testing.T) {
	r := setupTestRepo(t)
	require.NoError(t, r.CreateBranch("feat/task-0001", "main"))

	path := filepath.Join(r.Dir, "change.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))
	_, err := r.Commit("feat/task-0001", "add change", []string{"change.txt"})
	require.NoError(t, err)

	require.NoError(t, r.MergeBranchIntoBase("feat/task-0001", "main", "merge"))

	_, err = os.Stat(filepath.Join(r.Dir, "change.txt"))
	require.NoError(t, err)
}

func TestMergeBranchIntoBaseConflict(t *testing.T) {
	r := setupTestRepo(t)
	path := filepath.Join(r.Dir, "README.md")

	require.NoError(t, r.CreateBranch("feat/task-0001", "main"))
	runGit(t, r.Dir, "checkout", "feat/task-0001")
	require.NoError(t, os.WriteFile(path, []byte("feature change\n"), 0o644))
	runGit(t, r.Dir, "add", "README.md")
	runGit(t, r.Dir, "commit", "-m", "feature edit")

	runGit(t, r.Dir, "checkout", "main")
	require.NoError(t, os.WriteFile(path, []byte("main change\n"), 0o644))
	runGit(t, r.Dir, "add", "README.md")
	runGit(t, r.Dir, "commit", "-m", "main edit")

	err := r.MergeBranchIntoBase("feat/task-0001", "main", "merge")
	require.ErrorIs(t, err, ErrMergeConflict)
}

func TestWorktreeCreateRemoveList(t *testing.T) {
	r := setupTestRepo(t)
	require.NoError(t, r.CreateBranch("feat/task-0001", "main"))

	wtBase := t.TempDir()
	wm := NewWorktreeManager(r, wtBase)

	path, err := wm.Create("feat/task-0001")
	require.NoError(t, err)
	require.DirExists(t, path)

	active, err := wm.ListActive()
	require.NoError(t, err)

	var found bool
	for _, a := range active {
		if a.Branch == "feat/task-0001" {
			found = true
			require.Equal(t, path, a.Path)
		}
	}
	require.True(t, found)

	require.NoError(t, wm.Remove("feat/task-0001"))
}
