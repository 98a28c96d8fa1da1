package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/aurelia/internal/config"
	"github.com/antigravity-dev/aurelia/internal/dispatcher"
	"github.com/antigravity-dev/aurelia/internal/eventlog"
	"github.com/antigravity-dev/aurelia/internal/graphstore"
	"github.com/antigravity-dev/aurelia/internal/idgen"
	"github.com/antigravity-dev/aurelia/internal/runtime"
	"github.com/antigravity-dev/aurelia/internal/sandbox"
	"github.com/antigravity-dev/aurelia/internal/statestore"
	"github.com/antigravity-dev/aurelia/internal/worker/coder"
	"github.com/antigravity-dev/aurelia/internal/worker/evaluator"
	"github.com/antigravity-dev/aurelia/internal/worker/planner"
	"github.com/antigravity-dev/aurelia/internal/worker/presubmit"
)

var (
	startInstruction string
	startDev         bool
	startAgentArgs   []string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestrator in the foreground",
	Long: `Start acquires the project's PID sentinel, runs crash recovery over
any state left behind by a prior process, then ticks the heartbeat
loop until a termination condition is met or the process receives
SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := resolveDirs()
		if err != nil {
			return err
		}

		logger := configureLogger(startDev)
		slog.SetDefault(logger)

		cfgMgr, err := config.LoadManager(workflowYAMLPath(dirs))
		if err != nil {
			return fmt.Errorf("load workflow config: %w", err)
		}
		cfg := cfgMgr.Get()

		instruction := strings.TrimSpace(startInstruction)
		if instruction == "" {
			instruction = readProblemStatement(dirs.ProjectDir)
		}

		store := statestore.New(dirs.AureliaDir)
		if err := store.Initialize(); err != nil {
			return fmt.Errorf("initialize state store: %w", err)
		}
		state, err := store.LoadRuntime()
		if err != nil {
			return fmt.Errorf("load runtime state: %w", err)
		}

		events := eventlog.New(eventsPath(dirs))
		ids := idgen.New(state)

		onBuildEvt := func(evt sandbox.BuildEvent) {
			if evt.Error != "" {
				logger.Error("sandbox image build failed", "image", evt.Image, "error", evt.Error)
				return
			}
			logger.Info("sandbox image build", "phase", evt.Phase, "image", evt.Image)
		}
		sb, err := sandbox.New(onBuildEvt)
		if err != nil {
			return fmt.Errorf("create sandbox executor: %w", err)
		}

		agentArgs := startAgentArgs
		if len(agentArgs) == 0 {
			agentArgs = []string{"claude", "-p", "--output-format", "stream-json", "--verbose"}
		}

		workers := runtime.Workers{
			Coder: coder.New(coder.Config{
				Events:    events,
				IDs:       ids,
				Sandbox:   sb,
				Image:     cfg.SandboxImage,
				AgentArgs: agentArgs,
				Timeout:   cfg.TaskTimeout.Duration,
				LogsDir:   filepath.Join(dirs.AureliaDir, "logs"),
			}),
			Presubmit: presubmit.New(events, ids, cfg.TaskTimeout.Duration),
			Evaluator: evaluator.New(events, ids, sb, cfg.SandboxImage, cfg.TaskTimeout.Duration),
			Planner: planner.New(planner.Config{
				Events:    events,
				IDs:       ids,
				Sandbox:   sb,
				Image:     cfg.SandboxImage,
				AgentArgs: agentArgs,
				Timeout:   cfg.TaskTimeout.Duration,
				LogsDir:   filepath.Join(dirs.AureliaDir, "logs"),
			}),
		}

		disp, err := buildDispatcher(cfg, dirs)
		if err != nil {
			return err
		}

		rt, err := runtime.New(dirs, cfgMgr, instruction, disp, workers, logger, ids, events, state)
		if err != nil {
			return fmt.Errorf("construct runtime: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info("received signal, shutting down", "signal", sig)
			rt.Stop()
			cancel()
		}()

		return rt.Start(ctx)
	},
}

func init() {
	startCmd.Flags().StringVar(&startInstruction, "instruction", "", "improvement instruction (default: read README.md)")
	startCmd.Flags().BoolVar(&startDev, "dev", false, "use text log format (default is JSON)")
	startCmd.Flags().StringSliceVar(&startAgentArgs, "agent-arg", nil, "argv for the coding agent invocation (repeatable)")
	rootCmd.AddCommand(startCmd)
}

func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func readProblemStatement(projectDir string) string {
	data, err := os.ReadFile(filepath.Join(projectDir, "README.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func buildDispatcher(cfg *config.Config, dirs runtime.Dirs) (dispatcher.Dispatcher, error) {
	if cfg.Dispatcher != config.DispatcherPlanner {
		return dispatcher.NewDefault(), nil
	}
	store := statestore.New(dirs.AureliaDir)
	plan, err := store.LoadPlan()
	if err != nil {
		return nil, fmt.Errorf("load persisted plan: %w", err)
	}
	planDispatcher := dispatcher.NewPlan(plan)

	index, err := graphstore.Open(context.Background(), dirs.GraphIndexPath())
	if err != nil {
		return nil, fmt.Errorf("open plan dependency index: %w", err)
	}
	planDispatcher.UseIndex(index)

	return planDispatcher, nil
}
