package bots

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullManifest = `
bots:
  - type: rsi
    params:
      period: 14
  - type: macd
  - type: bollinger
    params:
      period: 20
  - type: lstm_momentum
  - type: grid
    params:
      step_pct: 1.0
      levels: 5
  - type: vwap
  - type: var_guard
    params:
      quantile: 0.95
      loss_limit: 0.03
  - type: profit_lock
  - type: whale_watch
`

func TestRegistryDiscover(t *testing.T) {
	r := NewRegistry()
	result, err := r.Discover(writeManifest(t, fullManifest))
	require.NoError(t, err)

	assert.Equal(t, 9, result.Discovered)
	assert.Empty(t, result.Errors)
	assert.Len(t, r.All(), 9)

	t.Run("capabilities discovered by interface", func(t *testing.T) {
		// 7 analyzers: whale_watch is an updater, profit_lock an evaluator
		assert.Len(t, r.Analyzers(), 7)
		assert.Len(t, r.Updaters(), 1)
		assert.Len(t, r.Evaluators(), 1)
	})

	t.Run("categories", func(t *testing.T) {
		assert.Len(t, r.GetByCategory(CategoryIndicator), 3)
		assert.Len(t, r.GetByCategory(CategoryRisk), 1)
		assert.Len(t, r.GetByCategory(CategoryAIML), 1)
	})
}

func TestRegistryDiscoverTolerant(t *testing.T) {
	manifest := `
bots:
  - type: rsi
  - type: flux_capacitor
  - type: vwap
`
	r := NewRegistry()
	result, err := r.Discover(writeManifest(t, manifest))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Discovered)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flux_capacitor")
}

func TestRegistryDiscoverDisabledSkipped(t *testing.T) {
	manifest := `
bots:
  - type: rsi
  - type: vwap
    enabled: false
`
	r := NewRegistry()
	result, err := r.Discover(writeManifest(t, manifest))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Discovered)
	_, ok := r.Get("vwap_exec")
	assert.False(t, ok)
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewRSIBot(14)))
	err := r.Register(NewRSIBot(7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistryDuplicateInManifest(t *testing.T) {
	manifest := `
bots:
  - type: rsi
  - type: rsi
`
	r := NewRegistry()
	result, err := r.Discover(writeManifest(t, manifest))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Discovered)
	require.Len(t, result.Errors, 1)
}

func TestRegistryMissingManifest(t *testing.T) {
	r := NewRegistry()
	_, err := r.Discover(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistryStatusSummary(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewRSIBot(14)))
	require.NoError(t, r.Register(NewWhaleWatchBot(5)))

	summary := r.StatusSummary()
	require.Len(t, summary, 2)
	// Name-sorted
	assert.Equal(t, "rsi_guard", summary[0].Name)
	assert.Equal(t, "whale_watch", summary[1].Name)
	assert.Equal(t, HealthOK, summary[0].Health)
}
