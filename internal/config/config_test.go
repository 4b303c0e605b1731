package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Anthropic.APIKey = "sk-ant-test"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("should accept defaults plus an api key", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should require an api key", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.Mode = "yolo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject a non-positive turn ceiling", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.MaxTurns = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("should require a token for an enabled gateway", func(t *testing.T) {
		cfg := validConfig()
		cfg.Gateway.Enabled = true
		cfg.Gateway.Token = ""
		assert.Error(t, cfg.Validate())

		cfg.Gateway.Token = "secret"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoader(t *testing.T) {
	t.Run("should return defaults when no file exists", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "retain.json"))
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "semi_auto", cfg.Sessions.Mode)
		assert.Equal(t, 20, cfg.Sessions.MaxTurns)
	})

	t.Run("should round-trip through save and load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "retain.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.Sessions.BudgetCents = 1234
		cfg.DataDir = t.TempDir()
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, int64(1234), loaded.Sessions.BudgetCents)
		assert.Equal(t, cfg.DataDir, loaded.DataDir)
	})

	t.Run("should derive paths from the data dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "retain.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.DataDir = "/var/lib/retain"
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/var/lib/retain", "sessions.db"), loaded.Sessions.DBPath)
		assert.Equal(t, filepath.Join("/var/lib/retain", "skills.db"), loaded.Skills.DBPath)
	})
}

func TestMain(m *testing.M) {
	// Credentials from the host environment would leak into loader tests.
	os.Unsetenv("ANTHROPIC_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	os.Exit(m.Run())
}
