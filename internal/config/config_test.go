package config

import (
	"testing"
	"time"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxConcurrentTasks != 4 {
		t.Fatalf("expected max_concurrent_tasks=4, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.HeartbeatInterval.Duration != 60*time.Second {
		t.Fatalf("expected heartbeat_interval_s=60s, got %s", cfg.HeartbeatInterval.Duration)
	}
	if cfg.CandidateAbandonThreshold != 3 {
		t.Fatalf("expected candidate_abandon_threshold=3, got %d", cfg.CandidateAbandonThreshold)
	}
	if cfg.TerminationCondition != "" {
		t.Fatalf("expected empty termination_condition by default, got %q", cfg.TerminationCondition)
	}
	if len(cfg.PresubmitChecks) != 1 || cfg.PresubmitChecks[0] != "pixi run test" {
		t.Fatalf("unexpected default presubmit_checks: %v", cfg.PresubmitChecks)
	}
	if cfg.Dispatcher != DispatcherDefault {
		t.Fatalf("expected default dispatcher, got %q", cfg.Dispatcher)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/workflow.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing config, got %v", err)
	}
	if cfg.MaxConcurrentTasks != DefaultConfig().MaxConcurrentTasks {
		t.Fatalf("expected defaults when config file is absent")
	}
}

func TestLoadAppliesOverridesAndDefaults(t *testing.T) {
	path := writeTestConfig(t, `
max_concurrent_tasks: 8
dispatcher: planner
termination_condition: "coverage>=0.9,latency_ms>=0"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MaxConcurrentTasks != 8 {
		t.Fatalf("expected override max_concurrent_tasks=8, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.Dispatcher != DispatcherPlanner {
		t.Fatalf("expected planner dispatcher, got %q", cfg.Dispatcher)
	}
	// Unset fields still fall back to defaults.
	if cfg.CandidateAbandonThreshold != 3 {
		t.Fatalf("expected default candidate_abandon_threshold, got %d", cfg.CandidateAbandonThreshold)
	}
}

func TestLoadRejectsInvalidDispatcher(t *testing.T) {
	path := writeTestConfig(t, `dispatcher: not-a-real-dispatcher`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid dispatcher value")
	}
}

func TestLoadRejectsMalformedTerminationCondition(t *testing.T) {
	path := writeTestConfig(t, `termination_condition: "coverage-missing-operator"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed termination_condition")
	}
}

func TestParseTerminationConditionEmptyNeverTerminates(t *testing.T) {
	targets, err := ParseTerminationCondition("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if targets != nil {
		t.Fatalf("expected nil targets for empty condition, got %v", targets)
	}
}

func TestParseTerminationConditionMultipleClauses(t *testing.T) {
	targets, err := ParseTerminationCondition("coverage>=0.9, latency_ms>=50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(targets))
	}
	if targets[0].Metric != "coverage" || targets[0].Threshold != 0.9 {
		t.Fatalf("unexpected first clause: %+v", targets[0])
	}
	if targets[1].Metric != "latency_ms" || targets[1].Threshold != 50 {
		t.Fatalf("unexpected second clause: %+v", targets[1])
	}
}

func TestMetricsMeetTerminationAllClausesRequired(t *testing.T) {
	targets, _ := ParseTerminationCondition("coverage>=0.9,latency_ms>=50")

	if MetricsMeetTermination(targets, map[string]float64{"coverage": 0.95}) {
		t.Fatal("expected false when a clause's metric is missing")
	}
	if MetricsMeetTermination(targets, map[string]float64{"coverage": 0.95, "latency_ms": 10}) {
		t.Fatal("expected false when a clause is below threshold")
	}
	if !MetricsMeetTermination(targets, map[string]float64{"coverage": 0.95, "latency_ms": 80}) {
		t.Fatal("expected true when all clauses are satisfied")
	}
}

func TestMetricsMeetTerminationEmptyTargetsNeverTerminates(t *testing.T) {
	if MetricsMeetTermination(nil, map[string]float64{"coverage": 1.0}) {
		t.Fatal("expected empty targets to never terminate")
	}
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()

	clone.PresubmitChecks[0] = "mutated"
	if cfg.PresubmitChecks[0] == "mutated" {
		t.Fatal("expected clone's slice to be independent of the source")
	}

	clone.Components["coder"] = ComponentSpec{MaxRetries: 99}
	if cfg.Components["coder"].MaxRetries == 99 {
		t.Fatal("expected clone's map to be independent of the source")
	}
}
