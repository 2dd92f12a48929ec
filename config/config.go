// Package config loads the orchestrator's recognized configuration options
// (spec §6 "Configuration") from YAML, applying documented defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// ComplexityThresholds bounds the character-count rules QueryAnalyzer
	// uses to derive QueryComplexity (spec §4.7 step 2).
	ComplexityThresholds struct {
		SimpleMaxChars  int `yaml:"simple_max_chars"`
		ComplexMinChars int `yaml:"complex_min_chars"`
	}

	// Config is the full set of recognized orchestrator options, all with
	// defaults (spec §6).
	Config struct {
		MaxConcurrentWorkers      int                  `yaml:"max_concurrent_workers"`
		MaxInFlightTasks          int                  `yaml:"max_in_flight_tasks"`
		MaxFanoutPerPlan          int                  `yaml:"max_fanout_per_plan"`
		DefaultTaskTimeout        time.Duration         `yaml:"default_task_timeout"`
		DefaultPlanTimeout        time.Duration         `yaml:"default_plan_timeout"`
		WorkerHeartbeatInterval   time.Duration         `yaml:"worker_heartbeat_interval"`
		HeartbeatMissesUnresponsive int                `yaml:"worker_heartbeat_misses_before_unresponsive"`
		ShutdownGracePeriod       time.Duration         `yaml:"shutdown_grace_period"`
		DefaultMaxToolCallsPerTask int                 `yaml:"default_max_tool_calls_per_task"`
		DefaultMaxOutputBytes     int                  `yaml:"default_max_output_bytes"`
		ComplexityThresholds      ComplexityThresholds `yaml:"complexity_thresholds"`
		CoveragePartialThreshold  float64              `yaml:"coverage_partial_threshold"`
	}
)

// Default returns the configuration table's documented defaults (spec §6).
func Default() Config {
	return Config{
		MaxConcurrentWorkers:       10,
		MaxInFlightTasks:           20,
		MaxFanoutPerPlan:           12,
		DefaultTaskTimeout:         120 * time.Second,
		DefaultPlanTimeout:         10 * time.Minute,
		WorkerHeartbeatInterval:    2 * time.Second,
		HeartbeatMissesUnresponsive: 2,
		ShutdownGracePeriod:        10 * time.Second,
		DefaultMaxToolCallsPerTask: 25,
		DefaultMaxOutputBytes:      10 * 1024 * 1024,
		ComplexityThresholds: ComplexityThresholds{
			SimpleMaxChars:  80,
			ComplexMinChars: 240,
		},
		CoveragePartialThreshold: 0.5,
	}
}

// Load parses YAML-encoded configuration from data, starting from Default()
// so any field the document omits keeps its documented default.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether cfg's values are internally consistent.
func (c Config) Validate() error {
	if c.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("config: max_concurrent_workers must be positive")
	}
	if c.MaxInFlightTasks <= 0 {
		return fmt.Errorf("config: max_in_flight_tasks must be positive")
	}
	if c.MaxFanoutPerPlan <= 0 {
		return fmt.Errorf("config: max_fanout_per_plan must be positive")
	}
	if c.ComplexityThresholds.SimpleMaxChars >= c.ComplexityThresholds.ComplexMinChars {
		return fmt.Errorf("config: complexity_thresholds.simple_max_chars must be less than complex_min_chars")
	}
	if c.CoveragePartialThreshold < 0 || c.CoveragePartialThreshold > 1 {
		return fmt.Errorf("config: coverage_partial_threshold must be in [0,1]")
	}
	return nil
}
