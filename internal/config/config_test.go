package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.1, cfg.QLearning.Alpha)
	assert.Equal(t, 0.9, cfg.QLearning.Gamma)
	assert.Equal(t, 10, cfg.Optimizer.MaxIterations)
	assert.Equal(t, 60*time.Second, cfg.Optimizer.GenerateTimeout)
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Storage, cfg.Storage)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
qlearning:
  alpha: 0.5
  epsilon: 0.3
optimizer:
  max_iterations: 4
  generate_timeout: 10s
llm:
  provider: anthropic
  model: claude-test
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.QLearning.Alpha)
	assert.Equal(t, 0.3, cfg.QLearning.Epsilon)
	// untouched keys keep defaults
	assert.Equal(t, 0.9, cfg.QLearning.Gamma)
	assert.Equal(t, 10000, cfg.QLearning.MaxQTableSize)
	assert.Equal(t, 4, cfg.Optimizer.MaxIterations)
	assert.Equal(t, 10*time.Second, cfg.Optimizer.GenerateTimeout)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REFINE_DB", "/tmp/x.db")
	t.Setenv("REFINE_MAX_ITERATIONS", "3")
	t.Setenv("REFINE_EPSILON", "0.1")
	t.Setenv("REFINE_PERSIST_LEARNING", "false")
	t.Setenv("REFINE_LLM_PROVIDER", "grpc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 3, cfg.Optimizer.MaxIterations)
	assert.Equal(t, 0.1, cfg.QLearning.Epsilon)
	assert.False(t, cfg.Optimizer.PersistLearning)
	assert.Equal(t, "grpc", cfg.LLM.Provider)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("REFINE_MAX_ITERATIONS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "REFINE_MAX_ITERATIONS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero alpha", func(c *Config) { c.QLearning.Alpha = 0 }, "Alpha"},
		{"gamma above one", func(c *Config) { c.QLearning.Gamma = 1.5 }, "Gamma"},
		{"negative epsilon", func(c *Config) { c.QLearning.Epsilon = -0.1 }, "Epsilon"},
		{"zero table cap", func(c *Config) { c.QLearning.MaxQTableSize = 0 }, "MaxQTableSize"},
		{"zero iterations", func(c *Config) { c.Optimizer.MaxIterations = 0 }, "MaxIterations"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }, "Provider"},
		{"grpc without addr", func(c *Config) { c.LLM.Provider = "grpc"; c.LLM.GRPCAddr = "" }, "GRPCAddr"},
		{"floor above epsilon", func(c *Config) { c.QLearning.EpsilonMin = 0.5 }, "epsilon_min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}
