package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	t.Setenv("GOVERNANCE_DB_PATH", "")
	t.Setenv("GOVERNANCE_DB_DSN", "")
	t.Setenv("GOVERNANCE_LOG_LEVEL", "")

	cfg := Load()
	require.Equal(t, "./agentbouncr.db", cfg.DBPath)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.False(t, cfg.UsesPostgres())
}

func TestLoad_DSNSelectsPostgres(t *testing.T) {
	t.Setenv("GOVERNANCE_DB_DSN", "postgres://x/y")

	cfg := Load()
	require.True(t, cfg.UsesPostgres())
}

func TestLoadPolicyBundle_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: default
version: "1.0.0"
rules:
  - tool_pattern: "file_write"
    effect: deny
    reason: "No writes"
  - tool_pattern: "*"
    effect: allow
`), 0o644))

	p, err := LoadPolicyBundle(path)
	require.NoError(t, err)
	require.Equal(t, "default", p.Name)
	require.Len(t, p.Rules, 2)
	require.Equal(t, "file_write", p.Rules[0].ToolPattern)
}

func TestLoadAgentManifests_LoadsAllMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent_a.yaml"), []byte("id: a1\nname: Agent A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent_b.yaml"), []byte("id: b1\nname: Agent B\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("id: ignored\n"), 0o644))

	manifests, err := LoadAgentManifests(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 2)
}
