package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "main", cfg.Storage.DefaultDatabase)
	assert.Equal(t, "batch", cfg.Graph.SyncPolicy)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CLARIUM_STORAGE_ROOT", "/tmp/clarium-test")
	t.Setenv("CLARIUM_GRAPH_GC_MAX_DELTA_RECORDS", "42")
	t.Setenv("CLARIUM_GRAPH_SYNC_POLICY", "always")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/clarium-test", cfg.Storage.Root)
	assert.Equal(t, 42, cfg.Graph.GCMaxDeltaRecords)
	assert.Equal(t, "always", cfg.Graph.SyncPolicy)
}

func TestValidateRejectsBadSyncPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.SyncPolicy = "nonsense"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositivePartitions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Graph.DefaultPartitions = 0
	assert.Error(t, cfg.Validate())
}

func TestMain_EnvIsolated(t *testing.T) {
	// Guard against leaking LOG_JSON between tests in this package.
	_ = os.Unsetenv("LOG_JSON")
}
