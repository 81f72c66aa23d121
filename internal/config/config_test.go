package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProjectSettingsWithComments(t *testing.T) {
	dir := t.TempDir()
	koduDir := filepath.Join(dir, ".kodu")
	require.NoError(t, os.MkdirAll(koduDir, 0o755))

	settings := `{
		// local overrides
		"apiUrl": "https://api.example.com",
		"requestLimit": 40,
		"alwaysAllowReadOnly": true,
	}`
	require.NoError(t, os.WriteFile(filepath.Join(koduDir, "settings.jsonc"), []byte(settings), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, 40, cfg.RequestLimit)
	assert.True(t, cfg.AlwaysAllowReadOnly)
}

func TestEnvInterpolation(t *testing.T) {
	dir := t.TempDir()
	koduDir := filepath.Join(dir, ".kodu")
	require.NoError(t, os.MkdirAll(koduDir, 0o755))
	t.Setenv("TEST_KODU_KEY", "secret-value")

	settings := `{"apiKey": "{env:TEST_KODU_KEY}"}`
	require.NoError(t, os.WriteFile(filepath.Join(koduDir, "settings.json"), []byte(settings), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "secret-value", cfg.APIKey)
}

func TestEnvOverridesWinOverFiles(t *testing.T) {
	dir := t.TempDir()
	koduDir := filepath.Join(dir, ".kodu")
	require.NoError(t, os.MkdirAll(koduDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(koduDir, "settings.json"),
		[]byte(`{"apiUrl": "https://from-file"}`), 0o644))
	t.Setenv("KODU_API_URL", "https://from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env", cfg.APIURL)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.RequestLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.ServerAddr)
}

func TestLoadAgents(t *testing.T) {
	dir := t.TempDir()
	planner := `name: planner
description: plans the work
systemPrompt: You are a planning agent.
tools:
  - read_file
  - search_files
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "planner.yaml"), []byte(planner), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reviewer.yml"),
		[]byte("systemPrompt: Review code.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	agents, err := LoadAgents(dir)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "plans the work", agents["planner"].Description)
	assert.Contains(t, agents["planner"].Tools, "read_file")
	// Name falls back to the file stem.
	assert.Equal(t, "Review code.", agents["reviewer"].SystemPrompt)
}

func TestLoadAgentsMissingDir(t *testing.T) {
	agents, err := LoadAgents(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, agents)
}
