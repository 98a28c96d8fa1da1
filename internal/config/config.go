// Package config loads and validates the Aurelia workflow configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DispatcherKind selects the dispatch strategy.
type DispatcherKind string

const (
	DispatcherDefault DispatcherKind = "default"
	DispatcherPlanner DispatcherKind = "planner"
)

// ComponentSpec is a component's tuning knobs, recovered from
// original_source/core/models.py and exposed per-component here.
type ComponentSpec struct {
	HeartbeatIntervalS int `mapstructure:"heartbeat_interval_s"`
	MaxRetries         int `mapstructure:"max_retries"`
}

// Config is the RuntimeConfig: immutable for the life of a process.
type Config struct {
	MaxConcurrentTasks        int                       `mapstructure:"max_concurrent_tasks"`
	HeartbeatInterval         Duration                  `mapstructure:"heartbeat_interval_s"`
	HeartbeatStaleThresholdS  int                       `mapstructure:"heartbeat_stale_threshold_s"`
	CandidateAbandonThreshold int                       `mapstructure:"candidate_abandon_threshold"`
	TerminationCondition      string                    `mapstructure:"termination_condition"`
	PresubmitChecks           []string                  `mapstructure:"presubmit_checks"`
	Dispatcher                DispatcherKind            `mapstructure:"dispatcher"`
	TaskTimeout               Duration                  `mapstructure:"task_timeout_s"`
	SandboxImage              string                    `mapstructure:"sandbox_image"`
	Components                map[string]ComponentSpec  `mapstructure:"components"`
}

// TerminationTarget is one parsed clause of termination_condition:
// "metric>=float".
type TerminationTarget struct {
	Metric    string
	Threshold float64
}

// DefaultConfig returns a config with every spec.md §3 default applied.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentTasks:        4,
		HeartbeatInterval:         Duration{60 * time.Second},
		CandidateAbandonThreshold: 3,
		TerminationCondition:      "",
		PresubmitChecks:           []string{"pixi run test"},
		Dispatcher:                DispatcherDefault,
		TaskTimeout:               Duration{10 * time.Minute},
		SandboxImage:              "aurelia-sandbox:latest",
		Components:                DefaultComponentSpecs(),
	}
}

// DefaultComponentSpecs returns the per-component defaults for every
// known Component.
func DefaultComponentSpecs() map[string]ComponentSpec {
	return map[string]ComponentSpec{
		"coder":     {HeartbeatIntervalS: 60, MaxRetries: 3},
		"presubmit": {HeartbeatIntervalS: 60, MaxRetries: 1},
		"evaluator": {HeartbeatIntervalS: 60, MaxRetries: 1},
		"planner":   {HeartbeatIntervalS: 60, MaxRetries: 2},
	}
}

// Clone returns a copy of cfg safe for cross-goroutine handoff: slices
// and maps are copied rather than shared.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.PresubmitChecks = cloneStringSlice(cfg.PresubmitChecks)
	out.Components = make(map[string]ComponentSpec, len(cfg.Components))
	for k, v := range cfg.Components {
		out.Components[k] = v
	}
	return &out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads config/workflow.yaml at path, applies defaults for unset
// fields, and validates the result. A missing file yields DefaultConfig
// rather than an error, so a fresh project can run with no config at
// all. Unknown keys are ignored rather than rejected.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read workflow config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse workflow config %s: %w", path, err)
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate workflow config: %w", err)
	}

	return cfg, nil
}

// Reload re-reads path. Named distinctly from Load to mark runtime
// refresh call sites.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if cfg.HeartbeatInterval.Duration == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.CandidateAbandonThreshold == 0 {
		cfg.CandidateAbandonThreshold = defaults.CandidateAbandonThreshold
	}
	if len(cfg.PresubmitChecks) == 0 {
		cfg.PresubmitChecks = defaults.PresubmitChecks
	}
	if cfg.Dispatcher == "" {
		cfg.Dispatcher = defaults.Dispatcher
	}
	if cfg.TaskTimeout.Duration == 0 {
		cfg.TaskTimeout = defaults.TaskTimeout
	}
	if cfg.SandboxImage == "" {
		cfg.SandboxImage = defaults.SandboxImage
	}
	if len(cfg.Components) == 0 {
		cfg.Components = defaults.Components
	}
}

func validate(cfg *Config) error {
	if cfg.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("max_concurrent_tasks must be positive")
	}
	if cfg.CandidateAbandonThreshold <= 0 {
		return fmt.Errorf("candidate_abandon_threshold must be positive")
	}
	if cfg.Dispatcher != DispatcherDefault && cfg.Dispatcher != DispatcherPlanner {
		return fmt.Errorf("dispatcher must be %q or %q, got %q", DispatcherDefault, DispatcherPlanner, cfg.Dispatcher)
	}
	if cfg.TaskTimeout.Duration <= 0 {
		return fmt.Errorf("task_timeout_s must be positive")
	}
	if _, err := ParseTerminationCondition(cfg.TerminationCondition); err != nil {
		return err
	}
	return nil
}

// ParseTerminationCondition parses "metric>=float[,metric>=float...]"
// into its clauses. An empty string means "never terminates on metric"
// and parses to a nil, non-error slice.
func ParseTerminationCondition(condition string) ([]TerminationTarget, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, nil
	}

	var targets []TerminationTarget
	for _, clause := range strings.Split(condition, ",") {
		clause = strings.TrimSpace(clause)
		idx := strings.Index(clause, ">=")
		if idx < 0 {
			return nil, fmt.Errorf("termination_condition clause %q must be of the form metric>=float", clause)
		}
		metric := strings.TrimSpace(clause[:idx])
		thresholdStr := strings.TrimSpace(clause[idx+2:])
		if metric == "" {
			return nil, fmt.Errorf("termination_condition clause %q is missing a metric name", clause)
		}
		var threshold float64
		if _, err := fmt.Sscanf(thresholdStr, "%g", &threshold); err != nil {
			return nil, fmt.Errorf("termination_condition clause %q has an invalid threshold: %w", clause, err)
		}
		targets = append(targets, TerminationTarget{Metric: metric, Threshold: threshold})
	}
	return targets, nil
}

// MetricsMeetTermination reports whether every clause in targets is
// satisfied by metrics. An empty targets slice never terminates.
func MetricsMeetTermination(targets []TerminationTarget, metrics map[string]float64) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		value, ok := metrics[t.Metric]
		if !ok || value < t.Threshold {
			return false
		}
	}
	return true
}
