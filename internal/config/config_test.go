package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Chat.HistoryWindow)
	assert.Equal(t, 3, cfg.Chat.MaxBackendCalls)
	assert.Equal(t, "Europe/Paris", cfg.Chat.Timezone)
	assert.Equal(t, 30*time.Second, cfg.Chat.LockTTL)
	assert.Equal(t, 300, cfg.AI.Backend.MaxTokens)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
chat:
  history_window: 25
  max_backend_calls: 2
  timezone: America/New_York
ai:
  backend:
    model: gpt-4o-mini
    max_tokens: 120
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Chat.HistoryWindow)
	assert.Equal(t, 2, cfg.Chat.MaxBackendCalls)
	assert.Equal(t, "America/New_York", cfg.Chat.Timezone)
	assert.Equal(t, 120, cfg.AI.Backend.MaxTokens)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Backend.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GINGERAI_API_KEY", "sk-from-env")
	t.Setenv("GINGERAI_JWT_SECRET", "secret-from-env")

	path := writeConfig(t, `
ai:
  backend:
    api_key: sk-from-file
auth:
  jwt_secret: file-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.AI.Backend.APIKey)
	assert.Equal(t, "secret-from-env", cfg.Auth.JWTSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
