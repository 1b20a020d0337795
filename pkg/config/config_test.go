package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "hiveforge", cfg.Hive.Name)
	assert.Equal(t, 2, cfg.Governance.MaxRetries)
	assert.Equal(t, 3, cfg.Governance.MaxOscillations)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.LLM.RateLimit.BurstLimit)
	assert.True(t, cfg.Agents.WorkerBee.IsEnabled())
	assert.True(t, cfg.Conflict.DetectionEnabled)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hiveforge.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hive:
  name: test-hive
governance:
  max_retries: 5
llm:
  model: gpt-4o-mini
  rate_limit:
    requests_per_minute: 10
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test-hive", cfg.Hive.Name)
	assert.Equal(t, 5, cfg.Governance.MaxRetries)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 10, cfg.LLM.RateLimit.RequestsPerMinute)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, ".hiveforge/vault", cfg.Hive.VaultPath)
	assert.Equal(t, 3, cfg.Governance.MaxOscillations)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 5000, cfg.LLM.RateLimit.RequestsPerDay)
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hiveforge.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hive: [unclosed"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadSearchesCWDFirst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hiveforge.config.yml"), []byte(`
hive:
  name: cwd-hive
`), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cwd-hive", cfg.Hive.Name)
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hiveforge", cfg.Hive.Name)
}

func TestAgentLLMOverrideMerges(t *testing.T) {
	cfg := Default()
	model := "o3-mini"
	temperature := 0.7
	cfg.Agents.WorkerBee.LLM = &LLMOverride{Model: &model, Temperature: &temperature}

	merged := cfg.LLMFor(cfg.Agents.WorkerBee)
	assert.Equal(t, "o3-mini", merged.Model)
	assert.Equal(t, 0.7, merged.Temperature)
	// Absent fields inherit from the global block.
	assert.Equal(t, "openai", merged.Provider)
	assert.Equal(t, "OPENAI_API_KEY", merged.APIKeyEnv)
	assert.Equal(t, 4096, merged.MaxTokens)

	// No override at all inherits everything.
	assert.Equal(t, cfg.LLM, cfg.LLMFor(cfg.Agents.QueenBee))
}

func TestAgentEnabledFlag(t *testing.T) {
	var a AgentConfig
	assert.True(t, a.IsEnabled())
	disabled := false
	a.Enabled = &disabled
	assert.False(t, a.IsEnabled())
}

func TestSecretsResolveFromEnv(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-123")
	t.Setenv("TEST_GH_TOKEN", "ghp-456")

	llm := LLMConfig{APIKeyEnv: "TEST_LLM_KEY"}
	assert.Equal(t, "sk-123", llm.APIKey())
	assert.Empty(t, LLMConfig{}.APIKey())

	gh := GitHubConfig{TokenEnv: "TEST_GH_TOKEN"}
	assert.Equal(t, "ghp-456", gh.Token())
}
