package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

func loadFromTempConfig(t *testing.T, yaml string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("AGENTMESH_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AGENTMESH_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Negotiation.MaxRounds)
	assert.Equal(t, 15*time.Second, cfg.Negotiation.Timeout)
	assert.Equal(t, models.ResolutionPriorityBased, cfg.Negotiation.DefaultStrategy)
	assert.Equal(t, models.ResolutionCompromise, cfg.Negotiation.FallbackStrategy)
	assert.True(t, cfg.Negotiation.ResourceOptimizationEnabled)
	assert.Equal(t, 100.0, cfg.Negotiation.ResourceMaxQuantity)

	assert.Equal(t, 500*time.Millisecond, cfg.Context.SyncInterval)
	assert.Equal(t, int64(200*1024*1024), cfg.Context.MaxSizeBytes)
	assert.Equal(t, 5000, cfg.Context.CompressionThreshold)
	assert.Equal(t, 5, cfg.Context.ArchiveEveryNVersions)
	assert.True(t, cfg.Context.MemoryIntegrationEnabled)

	assert.Equal(t, 0.75, cfg.TeamFormation.CapabilityMatchThreshold)
	assert.Equal(t, 1000, cfg.Notifications.QueueSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg := loadFromTempConfig(t, `
negotiation:
  max_rounds: 3
  timeout: 2s
context:
  archive_every_n_versions: 2
team_formation:
  capability_match_threshold: 0.5
`)

	assert.Equal(t, 3, cfg.Negotiation.MaxRounds)
	assert.Equal(t, 2*time.Second, cfg.Negotiation.Timeout)
	assert.Equal(t, 2, cfg.Context.ArchiveEveryNVersions)
	assert.Equal(t, 0.5, cfg.TeamFormation.CapabilityMatchThreshold)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGENTMESH_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("AGENTMESH_NEGOTIATION_MAX_ROUNDS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Negotiation.MaxRounds)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("negotiation:\n  default_strategy: bogus\n"), 0o600))
	t.Setenv("AGENTMESH_CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_BuildDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: 5432, Database: "agentmesh",
		Username: "mesh", Password: "secret", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 dbname=agentmesh user=mesh password=secret sslmode=disable",
		cfg.BuildDSN())

	cfg.DSN = "postgres://mesh@db/agentmesh"
	assert.Equal(t, "postgres://mesh@db/agentmesh", cfg.BuildDSN())
}
