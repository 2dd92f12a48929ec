package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/config"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLoadAppliesOverridesOnTopOfDefaults(t *testing.T) {
	cfg, err := config.Load([]byte("max_concurrent_workers: 4\n"))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxConcurrentWorkers)
	require.Equal(t, 20, cfg.MaxInFlightTasks) // default retained
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	_, err := config.Load([]byte("complexity_thresholds:\n  simple_max_chars: 300\n  complex_min_chars: 100\n"))
	require.Error(t, err)
}

func TestLoadEmptyReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}
