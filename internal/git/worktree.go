package git

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WorktreeManager creates, removes, and enumerates git worktrees rooted
// under a base directory, one per candidate branch, so concurrent
// candidates never contend on a single checkout.
type WorktreeManager struct {
	repo *Repo
	base string
}

// NewWorktreeManager returns a manager for repo with worktrees placed
// under base.
func NewWorktreeManager(repo *Repo, base string) *WorktreeManager {
	return &WorktreeManager{repo: repo, base: base}
}

// Create adds a worktree for branch at <base>/<branch> and returns its
// path.
func (w *WorktreeManager) Create(branch string) (string, error) {
	path := filepath.Join(w.base, branch)
	if _, err := w.repo.run("worktree", "add", path, branch); err != nil {
		return "", fmt.Errorf("git: create worktree for %s: %w", branch, err)
	}
	return path, nil
}

// Remove deletes the worktree associated with branch.
func (w *WorktreeManager) Remove(branch string) error {
	path := filepath.Join(w.base, branch)
	_, err := w.repo.run("worktree", "remove", path)
	if err != nil {
		return fmt.Errorf("git: remove worktree for %s: %w", branch, err)
	}
	return nil
}

// ActiveWorktree pairs a branch name with its checkout path.
type ActiveWorktree struct {
	Branch string
	Path   string
}

// ListActive parses `git worktree list --porcelain` into branch/path
// pairs.
func (w *WorktreeManager) ListActive() ([]ActiveWorktree, error) {
	raw, err := w.repo.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git: list worktrees: %w", err)
	}

	var (
		active      []ActiveWorktree
		currentPath string
	)
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			currentPath = strings.TrimSpace(strings.TrimPrefix(line, "worktree "))
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimSpace(strings.TrimPrefix(line, "branch "))
			branch := strings.TrimPrefix(ref, "refs/heads/")
			if currentPath != "" {
				active = append(active, ActiveWorktree{Branch: branch, Path: currentPath})
			}
			currentPath = ""
		}
	}
	return active, nil
}
