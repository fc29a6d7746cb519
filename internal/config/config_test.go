package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the config file is missing.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "/tmp/xdg-data/persona", cfg.Storage.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, 10, cfg.Chat.MaxResults)
	assert.Equal(t, 10, cfg.Chat.SessionListLimit)
	assert.Equal(t, 60*time.Second, cfg.Profile.CacheTTL)
	assert.Empty(t, cfg.Auth.APIToken)
	assert.Equal(t, "127.0.0.1:4100", cfg.Addr())
}

func TestFileValues(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
server:
  port: 5000
log:
  level: debug
  format: json
pipeline:
  poll_interval: 500ms
  batch_size: 25
`)

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "server:\n  port: 5000\n")
	t.Setenv("PERSONA_SERVER_PORT", "6000")
	t.Setenv("PERSONA_API_TOKEN", "secret")
	t.Setenv("PERSONA_PROFILE_CACHE_TTL", "5m")

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Auth.APIToken)
	assert.Equal(t, 5*time.Minute, cfg.Profile.CacheTTL)
}

func TestEnvOverride_InvalidIntKeepsValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERSONA_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.yaml")))
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
}

func TestSecretIgnoredInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "auth:\n  api_token: from-file\n")

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.APIToken)
}

func TestValidationRejectsBadValues(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "log:\n  level: loud\n")

	_, err := loadWith(newFileBackend(path))
	assert.Error(t, err)
}

func TestInvalidDurationInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "pipeline:\n  poll_interval: soon\n")

	_, err := loadWith(newFileBackend(path))
	assert.ErrorContains(t, err, "pipeline.poll_interval")
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "persona", "config.yaml")

	require.NoError(t, setKeyWith(newFileBackend(path), "server.port", "4200"))
	require.NoError(t, setKeyWith(newFileBackend(path), "pipeline.poll_interval", "10s"))
	require.NoError(t, setKeyWith(newFileBackend(path), "log.level", "warn"))

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Equal(t, 4200, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, "warn", cfg.Log.Level)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "server:\n")
}

func TestSetKey_Errors(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "c.yaml"))

	assert.ErrorContains(t, setKeyWith(b, "auth.api_token", "x"), "PERSONA_API_TOKEN")
	assert.ErrorContains(t, setKeyWith(b, "server.port", "abc"), "invalid integer")
	assert.ErrorContains(t, setKeyWith(b, "pipeline.poll_interval", "abc"), "invalid duration")
	assert.ErrorContains(t, setKeyWith(b, "nope", "1"), "unknown config key")
}

func TestShowAll_OmitsSecrets(t *testing.T) {
	for _, ki := range ShowAll(defaults()) {
		assert.NotEqual(t, "auth.api_token", ki.Key)
	}
	assert.NotContains(t, ValidKeys(), "auth.api_token")
	assert.Contains(t, ValidKeys(), "chat.max_results")
}

func TestSetKey_RejectsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")

	assert.ErrorContains(t, setKeyWith(newFileBackend(path), "log.level", "loud"), "rejected value")
	assert.ErrorContains(t, setKeyWith(newFileBackend(path), "server.port", "70000"), "rejected value")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing should be written for rejected values")
}
