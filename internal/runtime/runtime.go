// Package runtime implements the heartbeat-driven orchestration loop:
// collect completions, advance candidate pipelines, check termination,
// run planning, fill concurrency slots, persist, sleep.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/aurelia/internal/config"
	"github.com/antigravity-dev/aurelia/internal/dispatcher"
	"github.com/antigravity-dev/aurelia/internal/eventlog"
	"github.com/antigravity-dev/aurelia/internal/git"
	"github.com/antigravity-dev/aurelia/internal/health"
	"github.com/antigravity-dev/aurelia/internal/idgen"
	"github.com/antigravity-dev/aurelia/internal/metrics"
	"github.com/antigravity-dev/aurelia/internal/model"
	"github.com/antigravity-dev/aurelia/internal/statestore"
	"github.com/antigravity-dev/aurelia/internal/worker/coder"
	"github.com/antigravity-dev/aurelia/internal/worker/evaluator"
	"github.com/antigravity-dev/aurelia/internal/worker/planner"
	"github.com/antigravity-dev/aurelia/internal/worker/presubmit"
	"golang.org/x/sync/errgroup"
)

const branchPrefix = "aurelia/"

// Workers bundles the four component executors the Runtime dispatches
// Tasks to.
type Workers struct {
	Coder     *coder.Worker
	Presubmit *presubmit.Worker
	Evaluator *evaluator.Worker
	Planner   *planner.Worker
}

// Dirs is the project's on-disk layout, rooted at <project>/.aurelia.
type Dirs struct {
	ProjectDir string
	AureliaDir string
}

func (d Dirs) pidPath() string          { return filepath.Join(d.AureliaDir, "state", "pid") }
func (d Dirs) eventsPath() string       { return filepath.Join(d.AureliaDir, "logs", "events.jsonl") }
func (d Dirs) worktreeBase() string     { return filepath.Join(d.AureliaDir, "worktrees") }
func (d Dirs) workflowYAMLPath() string { return filepath.Join(d.AureliaDir, "config", "workflow.yaml") }

// GraphIndexPath is the derived plan dependency index's on-disk location,
// exported so internal/cli can open it when wiring a Plan dispatcher.
func (d Dirs) GraphIndexPath() string {
	return filepath.Join(d.AureliaDir, "state", "plan_graph.db")
}

// pendingTask tracks one in-flight background Task.
type pendingTask struct {
	component model.Component
	branch    string
	done      chan model.TaskResult
}

// Runtime owns RuntimeState, Tasks, Candidates, and Evaluations for the
// duration of a single process run. All mutation happens on the tick
// goroutine; background workers communicate only through pendingTask
// channels polled at the top of each tick.
type Runtime struct {
	dirs       Dirs
	cfgMgr     config.ConfigManager
	cfg        *config.Config
	store      *statestore.Store
	events     *eventlog.Log
	ids        *idgen.Generator
	repo       *git.Repo
	worktrees  *git.WorktreeManager
	dispatcher dispatcher.Dispatcher
	workers    Workers
	logger     *slog.Logger
	metrics    metrics.Sink

	instruction string

	state       *model.RuntimeState
	tasks       []model.Task
	candidates  []model.Candidate
	evaluations []model.Evaluation

	pending map[string]*pendingTask // task ID -> handle
	plannerTaskID string

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Runtime. ids, events, and state must be the same
// instances the caller used to build workers: a Task's id and event seq
// must come from one shared counter regardless of whether it is
// assigned by the tick goroutine or a worker goroutine, or the
// strictly-increasing seq invariant breaks under concurrent emission.
// When disp is a *dispatcher.Plan, the caller is responsible for
// loading any persisted plan.json via statestore and passing it to
// dispatcher.NewPlan before constructing the Runtime, since the plan is
// dispatcher-owned state.
//
// Callers must call Start to run crash recovery and the heartbeat loop.
// cfgMgr's Get snapshot is re-read at the top of every tick, so editing
// config/workflow.yaml on disk and calling cfgMgr.Reload takes effect on
// the next heartbeat without a restart.
func New(dirs Dirs, cfgMgr config.ConfigManager, instruction string, disp dispatcher.Dispatcher, workers Workers, logger *slog.Logger, ids *idgen.Generator, events *eventlog.Log, state *model.RuntimeState) (*Runtime, error) {
	store := statestore.New(dirs.AureliaDir)
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("runtime: initialize state store: %w", err)
	}

	repo := git.New(dirs.ProjectDir)
	if err := repo.Init(); err != nil {
		return nil, fmt.Errorf("runtime: init repo: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runtime{
		dirs:        dirs,
		cfgMgr:      cfgMgr,
		cfg:         cfgMgr.Get(),
		store:       store,
		events:      events,
		ids:         ids,
		state:       state,
		repo:        repo,
		worktrees:   git.NewWorktreeManager(repo, dirs.worktreeBase()),
		dispatcher:  disp,
		workers:     workers,
		logger:      logger,
		metrics:     metrics.NoopSink{},
		instruction: instruction,
		pending:     map[string]*pendingTask{},
		shutdownCh:  make(chan struct{}),
	}, nil
}

// UseMetrics attaches a Sink the tick loop reports counters through.
// Without one, Runtime reports to a NoopSink.
func (r *Runtime) UseMetrics(sink metrics.Sink) {
	if sink != nil {
		r.metrics = sink
	}
}

// Start acquires the PID sentinel, loads persisted state, runs crash
// recovery, then blocks ticking the heartbeat loop until ctx is
// cancelled or Stop is called.
func (r *Runtime) Start(ctx context.Context) error {
	if err := health.Acquire(r.dirs.pidPath()); err != nil {
		return fmt.Errorf("runtime: acquire pid sentinel: %w", err)
	}

	if err := r.loadEntities(); err != nil {
		return err
	}

	if err := r.dispatcher.Initialize(ctx, dispatcher.InitContext{
		ProjectDir:  r.dirs.ProjectDir,
		Instruction: r.instruction,
		Candidates:  r.candidates,
		Evaluations: r.evaluations,
	}); err != nil {
		return fmt.Errorf("runtime: initialize dispatcher: %w", err)
	}

	if err := r.recoverFromCrash(); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.state.Status = model.RuntimeRunning
	r.state.StartedAt = &now
	r.emit("runtime.started", nil)
	if err := r.persist(); err != nil {
		return err
	}

	interval := r.cfg.HeartbeatInterval.Duration
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("runtime started", "heartbeat_interval", interval)

	for {
		select {
		case <-ctx.Done():
			return r.shutdown()
		case <-r.shutdownCh:
			return r.shutdown()
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.logger.Error("heartbeat tick failed", "error", err)
				continue
			}
			if r.terminated() {
				return r.shutdown()
			}
		}
	}
}

// Stop requests a graceful shutdown on the next loop iteration.
func (r *Runtime) Stop() {
	r.shutdownOnce.Do(func() { close(r.shutdownCh) })
}

func (r *Runtime) terminated() bool {
	return r.state.Status != model.RuntimeRunning
}

// loadEntities loads Tasks, Candidates, and Evaluations. RuntimeState
// itself is supplied to New by the caller, since its counters must
// already back the shared idgen.Generator before any worker runs.
func (r *Runtime) loadEntities() error {
	var err error
	if r.tasks, err = r.store.LoadTasks(); err != nil {
		return fmt.Errorf("runtime: load tasks: %w", err)
	}
	if r.candidates, err = r.store.LoadCandidates(); err != nil {
		return fmt.Errorf("runtime: load candidates: %w", err)
	}
	if r.evaluations, err = r.store.LoadEvaluations(); err != nil {
		return fmt.Errorf("runtime: load evaluations: %w", err)
	}
	return nil
}

// persist snapshots every entity kind to its own file. The four/five
// writes touch disjoint files under state/, so they run concurrently via
// errgroup rather than paying their fsync latency back to back.
func (r *Runtime) persist() error {
	var g errgroup.Group

	g.Go(func() error {
		if err := r.store.SaveRuntime(r.state); err != nil {
			return fmt.Errorf("runtime: save runtime state: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.store.SaveTasks(r.tasks); err != nil {
			return fmt.Errorf("runtime: save tasks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.store.SaveCandidates(r.candidates); err != nil {
			return fmt.Errorf("runtime: save candidates: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.store.SaveEvaluations(r.evaluations); err != nil {
			return fmt.Errorf("runtime: save evaluations: %w", err)
		}
		return nil
	})
	if p, ok := r.dispatcher.(*dispatcher.Plan); ok {
		g.Go(func() error {
			if err := r.store.SavePlan(p.CurrentPlan()); err != nil {
				return fmt.Errorf("runtime: save plan: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *Runtime) emit(eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	evt := model.Event{
		Seq:       r.ids.NextEventSeq(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := r.events.Append(evt); err != nil {
		r.logger.Error("event log append failed", "type", eventType, "error", err)
	}
}

func (r *Runtime) shutdown() error {
	for _, p := range r.pending {
		select {
		case <-p.done:
		default:
		}
	}
	now := time.Now().UTC()
	for i := range r.tasks {
		if r.tasks[i].Status == model.TaskRunning {
			r.tasks[i].Status = model.TaskCancelled
			r.tasks[i].CompletedAt = &now
		}
	}
	r.state.Status = model.RuntimeStopped
	r.state.StoppedAt = &now
	r.emit("runtime.stopped", nil)
	if err := r.persist(); err != nil {
		return err
	}
	return health.Release(r.dirs.pidPath())
}
