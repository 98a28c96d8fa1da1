// Package git wraps the git command-line with an explicit repo path,
// giving the runtime branch, commit, log, diff, notes, and worktree
// operations without a CGit binding.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrMergeConflict is returned by MergeBranchIntoBase when the merge
// stops due to conflicting hunks.
var ErrMergeConflict = errors.New("git merge conflict")

// Repo is a thin wrapper around a local git repository rooted at Dir.
type Repo struct {
	Dir string
}

// New returns a Repo rooted at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

func (r *Repo) run(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, text)
	}
	return text, nil
}

// Init creates the repository with "main" as the default branch if it
// does not already exist, and commits an empty root commit if the repo
// has no commits yet. Safe to call on an already-initialized repo.
func (r *Repo) Init() error {
	if _, err := r.run("init", "-b", "main"); err != nil {
		return err
	}
	if _, err := r.run("rev-parse", "HEAD"); err != nil {
		if _, err := r.run("commit", "--allow-empty", "-m", "Initial commit"); err != nil {
			return err
		}
	}
	return nil
}

// CreateBranch creates name from fromBranch without checking it out.
func (r *Repo) CreateBranch(name, fromBranch string) error {
	if fromBranch == "" {
		fromBranch = "main"
	}
	_, err := r.run("branch", name, fromBranch)
	return err
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repo) BranchExists(branch string) (bool, error) {
	cmd := exec.Command("git", "-C", r.Dir, "show-ref", "--verify", "--quiet", fmt.Sprintf("refs/heads/%s", branch))
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git show-ref %s: %w", branch, err)
}

// CommitRecord is a single entry returned by Log.
type CommitRecord struct {
	SHA     string
	Author  string
	Date    string
	Message string
}

// Commit checks out branch, stages paths, commits message, and returns
// the resulting SHA.
func (r *Repo) Commit(branch, message string, paths []string) (string, error) {
	if _, err := r.run("checkout", branch); err != nil {
		return "", err
	}
	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := r.run(addArgs...); err != nil {
		return "", err
	}
	if _, err := r.run("commit", "-m", message); err != nil {
		return "", err
	}
	sha, err := r.run("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return sha, nil
}

const logRecordSep = "---AURELIA_RECORD_SEP---"

// Log returns the last n commits on branch, most recent first.
func (r *Repo) Log(branch string, n int) ([]CommitRecord, error) {
	format := fmt.Sprintf("%%H%%n%%an%%n%%aI%%n%%s%%n%s", logRecordSep)
	raw, err := r.run("log", branch, fmt.Sprintf("-n%d", n), fmt.Sprintf("--format=%s", format))
	if err != nil {
		return nil, err
	}

	var records []CommitRecord
	for _, block := range strings.Split(raw, logRecordSep) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 4 {
			continue
		}
		records = append(records, CommitRecord{
			SHA:     lines[0],
			Author:  lines[1],
			Date:    lines[2],
			Message: lines[3],
		})
	}
	return records, nil
}

// Diff returns the unified diff between base and branch.
func (r *Repo) Diff(branch, base string) (string, error) {
	if base == "" {
		base = "main"
	}
	return r.run("diff", fmt.Sprintf("%s...%s", base, branch))
}

// AddNote appends note to the JSON array stored as a git note on
// commitSHA within namespace.
func (r *Repo) AddNote(commitSHA, namespace, note string) error {
	existing, err := r.readNotesRaw(commitSHA, namespace)
	if err != nil {
		return err
	}
	existing = append(existing, note)
	payload := "[" + strings.Join(existing, ",") + "]"
	_, err = r.run("notes", fmt.Sprintf("--ref=%s", namespace), "add", "-f", "-m", payload, commitSHA)
	return err
}

// ReadNotes returns the raw JSON array elements stored as a git note on
// commitSHA within namespace, or an empty slice if none exist.
func (r *Repo) ReadNotes(commitSHA, namespace string) ([]string, error) {
	return r.readNotesRaw(commitSHA, namespace)
}

func (r *Repo) readNotesRaw(commitSHA, namespace string) ([]string, error) {
	raw, err := r.run("notes", fmt.Sprintf("--ref=%s", namespace), "show", commitSHA)
	if err != nil {
		return nil, nil
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if raw == "" {
		return nil, nil
	}
	return splitTopLevelJSON(raw), nil
}

// splitTopLevelJSON splits a comma-joined list of JSON values at
// top-level commas only, ignoring commas nested inside braces/brackets
// or quoted strings.
func splitTopLevelJSON(s string) []string {
	var out []string
	depth := 0
	inStr := false
	escaped := false
	start := 0
	for i, c := range s {
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inStr {
				escaped = true
			}
		case '"':
			inStr = !inStr
		case '{', '[':
			if !inStr {
				depth++
			}
		case '}', ']':
			if !inStr {
				depth--
			}
		case ',':
			if !inStr && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// Show returns the contents of path at the tip of branch.
func (r *Repo) Show(branch, path string) ([]byte, error) {
	out, err := r.run("show", fmt.Sprintf("%s:%s", branch, path))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// MergeBranchIntoBase checks out baseBranch and merges featureBranch
// using the given strategy ("merge", "squash", or "rebase" meaning
// fast-forward-only). ErrMergeConflict is returned when the merge stops
// due to conflicting hunks.
func (r *Repo) MergeBranchIntoBase(featureBranch, baseBranch, mergeStrategy string) error {
	baseBranch = strings.TrimSpace(baseBranch)
	if baseBranch == "" {
		baseBranch = "main"
	}
	if _, err := r.run("checkout", baseBranch); err != nil {
		return err
	}

	strategy := strings.ToLower(strings.TrimSpace(mergeStrategy))
	if strategy == "" {
		strategy = "merge"
	}

	var args []string
	switch strategy {
	case "merge":
		args = []string{"merge", "--no-ff", "--no-edit", featureBranch}
	case "squash":
		args = []string{"merge", "--squash", featureBranch}
	case "rebase":
		args = []string{"merge", "--ff-only", featureBranch}
	default:
		return fmt.Errorf("git: unsupported merge strategy %q", mergeStrategy)
	}

	out, err := r.run(args...)
	if err != nil {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "conflict") || strings.Contains(lower, "automatic merge failed") {
			return fmt.Errorf("%w: %s", ErrMergeConflict, out)
		}
		return err
	}

	if strategy == "squash" {
		if _, err := r.run("commit", "-m", fmt.Sprintf("squash merge %s", featureBranch)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBranch deletes a local branch.
func (r *Repo) DeleteBranch(branch string) error {
	_, err := r.run("branch", "-d", branch)
	return err
}
