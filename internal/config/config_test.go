package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, ProviderAzure, cfg.AI.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, ArchiveFile, cfg.Archive.Backend)
	assert.Equal(t, "data", cfg.Archive.Dir)
	assert.Equal(t, "hr_chatbot.log", cfg.Log.File)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "9000"
ai:
  provider: ollama
  model: qwen2.5
archive:
  backend: redis
  redis:
    uri: redis://cache:6379
    ttl: 24h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("AI_MODEL", "llama3")
	t.Setenv("OLLAMA_HOST", "http://gpu:11434")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, ProviderOllama, cfg.AI.Provider)
	assert.Equal(t, "llama3", cfg.AI.Model)
	assert.Equal(t, "http://gpu:11434", cfg.AI.BaseURL)
	assert.Equal(t, "cache:6379", cfg.Archive.Redis.RedisAddr())
	assert.Equal(t, 24*time.Hour, cfg.Archive.Redis.TTL)
	assert.True(t, cfg.AI.IsEnabled())
}

func TestAzureKeyFromEnv(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "secret")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.AI.IsEnabled())
	assert.Equal(t, "https://example.openai.azure.com", cfg.AI.BaseURL)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "s3")
	_, err := Load("")
	assert.ErrorContains(t, err, "archive backend")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}
