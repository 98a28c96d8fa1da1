// Package statestore implements the atomic JSON snapshot layer: one file
// per entity kind under state/, written with backup rotation so that a
// crash mid-write never leaves the primary file partially overwritten.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/aurelia/internal/model"
)

const maxBackups = 3

// Store is the on-disk mirror of RuntimeState, Tasks, Candidates,
// Evaluations, and (in planner mode) the Plan.
type Store struct {
	dir string // <project>/.aurelia
}

// New returns a Store rooted at aureliaDir (the project's .aurelia directory).
func New(aureliaDir string) *Store {
	return &Store{dir: aureliaDir}
}

// Initialize ensures the state/, logs/, cache/, reports/, config/
// subdirectories exist.
func (s *Store) Initialize() error {
	for _, name := range []string{"state", "logs", "cache", "reports", "config"} {
		if err := os.MkdirAll(filepath.Join(s.dir, name), 0o755); err != nil {
			return fmt.Errorf("statestore: initialize %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) statePath(name string) string {
	return filepath.Join(s.dir, "state", name)
}

// LoadRuntime loads the RuntimeState snapshot, or the empty default if
// none exists yet.
func (s *Store) LoadRuntime() (*model.RuntimeState, error) {
	data, err := s.loadFile(s.statePath("runtime.json"))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return model.NewRuntimeState(), nil
	}
	state := model.NewRuntimeState()
	if err := json.Unmarshal(data, state); err != nil {
		return model.NewRuntimeState(), nil
	}
	return state, nil
}

// SaveRuntime atomically persists the RuntimeState snapshot.
func (s *Store) SaveRuntime(state *model.RuntimeState) error {
	return s.saveJSON(s.statePath("runtime.json"), state)
}

// LoadTasks loads the Tasks snapshot, or an empty list.
func (s *Store) LoadTasks() ([]model.Task, error) {
	data, err := s.loadFile(s.statePath("tasks.json"))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, nil
	}
	return tasks, nil
}

// SaveTasks atomically persists the Tasks snapshot.
func (s *Store) SaveTasks(tasks []model.Task) error {
	if tasks == nil {
		tasks = []model.Task{}
	}
	return s.saveJSON(s.statePath("tasks.json"), tasks)
}

// LoadCandidates loads the Candidates snapshot, or an empty list.
func (s *Store) LoadCandidates() ([]model.Candidate, error) {
	data, err := s.loadFile(s.statePath("candidates.json"))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var candidates []model.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, nil
	}
	return candidates, nil
}

// SaveCandidates atomically persists the Candidates snapshot.
func (s *Store) SaveCandidates(candidates []model.Candidate) error {
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	return s.saveJSON(s.statePath("candidates.json"), candidates)
}

// LoadEvaluations loads the Evaluations snapshot, or an empty list.
func (s *Store) LoadEvaluations() ([]model.Evaluation, error) {
	data, err := s.loadFile(s.statePath("evaluations.json"))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var evals []model.Evaluation
	if err := json.Unmarshal(data, &evals); err != nil {
		return nil, nil
	}
	return evals, nil
}

// SaveEvaluations atomically persists the Evaluations snapshot.
func (s *Store) SaveEvaluations(evals []model.Evaluation) error {
	if evals == nil {
		evals = []model.Evaluation{}
	}
	return s.saveJSON(s.statePath("evaluations.json"), evals)
}

// LoadPlan loads the Plan snapshot, or nil if no plan has been saved yet.
func (s *Store) LoadPlan() (*model.Plan, error) {
	data, err := s.loadFile(s.statePath("plan.json"))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var plan model.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, nil
	}
	return &plan, nil
}

// SavePlan atomically persists the Plan snapshot.
func (s *Store) SavePlan(plan *model.Plan) error {
	return s.saveJSON(s.statePath("plan.json"), plan)
}

// -- Internals ---------------------------------------------------------

// loadFile tries the primary file, then backups .bak.1..3 in order,
// returning the first valid parse. Returns nil data if every candidate is
// missing, unreadable, or not valid JSON.
func (s *Store) loadFile(path string) ([]byte, error) {
	candidates := make([]string, 0, maxBackups+1)
	candidates = append(candidates, path)
	for i := 1; i <= maxBackups; i++ {
		candidates = append(candidates, fmt.Sprintf("%s.bak.%d", path, i))
	}

	for _, c := range candidates {
		data, err := os.ReadFile(c)
		if err != nil {
			continue
		}
		if !json.Valid(data) {
			continue
		}
		return data, nil
	}
	return nil, nil
}

// saveJSON rotates backups, then writes new content to a temp file,
// fsyncs, and renames it into place.
func (s *Store) saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("statestore: mkdir: %w", err)
	}

	if err := rotateBackups(path); err != nil {
		return err
	}

	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("statestore: open temp %s: %w", tmpPath, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("statestore: write temp %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("statestore: fsync temp %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("statestore: close temp %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("statestore: rename %s: %w", path, err)
	}
	return nil
}

// rotateBackups shifts .bak.2 -> .bak.3, .bak.1 -> .bak.2, path -> .bak.1,
// dropping the oldest generation.
func rotateBackups(path string) error {
	for i := maxBackups; i > 1; i-- {
		src := fmt.Sprintf("%s.bak.%d", path, i-1)
		dst := fmt.Sprintf("%s.bak.%d", path, i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("statestore: rotate %s -> %s: %w", src, dst, err)
			}
		}
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak.1"); err != nil {
			return fmt.Errorf("statestore: rotate %s -> .bak.1: %w", path, err)
		}
	}
	return nil
}
