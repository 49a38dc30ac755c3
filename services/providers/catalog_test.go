package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	require.Len(t, catalog, 6)

	ids := make([]string, 0, len(catalog))
	for _, p := range catalog {
		ids = append(ids, p.ID)
		assert.NoError(t, validateEntry(p), p.ID)
		assert.True(t, p.Enabled, p.ID)
		assert.Positive(t, p.Limits.RequestsPerMinute, p.ID)
	}
	assert.Equal(t, []string{"gemini", "groq", "cerebras", "claude", "openai", "openrouter"}, ids)

	assert.Equal(t, TierPaid, catalog[4].Tier)
	assert.Equal(t, TierGateway, catalog[5].Tier)
	assert.Equal(t, FamilyGateway, catalog[5].Family)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "providers.yaml")
		content := `
providers:
  - id: local
    name: Local vLLM
    family: openai
    endpoint: http://localhost:8000/v1
    model: qwen2.5-7b
    tier: free
    enabled: true
    api_key_env: LOCAL_KEY
    capabilities:
      speed: fast
      quality: medium
    limits:
      requests_per_minute: 100
      requests_per_day: 10000
      tokens_per_month: 1000000
    task_bonus:
      code: 15
  - id: backup
    family: gateway
    endpoint: https://openrouter.ai/api/v1
    model: openrouter/auto
    tier: gateway
    api_key_env: BACKUP_KEY
    limits:
      requests_per_minute: 20
      requests_per_day: 200
      tokens_per_month: 5000000
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		catalog, err := LoadCatalog(path)
		require.NoError(t, err)
		require.Len(t, catalog, 2)

		local := catalog[0]
		assert.Equal(t, "local", local.ID)
		assert.Equal(t, FamilyOpenAI, local.Family)
		assert.Equal(t, SpeedFast, local.Capabilities.Speed)
		assert.Equal(t, 100, local.Limits.RequestsPerMinute)
		assert.Equal(t, 15.0, local.TaskBonus[TaskCode])
		assert.True(t, local.Enabled)

		assert.False(t, catalog[1].Enabled, "enabled defaults to false")
	})

	t.Run("unknown family", func(t *testing.T) {
		path := filepath.Join(dir, "bad-family.yaml")
		content := `
providers:
  - id: odd
    family: smoke-signals
    endpoint: http://localhost
    model: m
    tier: free
    api_key_env: ODD_KEY
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := LoadCatalog(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown family")
	})

	t.Run("missing limits", func(t *testing.T) {
		path := filepath.Join(dir, "no-limits.yaml")
		content := `
providers:
  - id: local
    family: openai
    endpoint: http://localhost:8000/v1
    model: qwen2.5-7b
    tier: free
    api_key_env: LOCAL_KEY
    limits:
      requests_per_minute: 100
      requests_per_day: 10000
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := LoadCatalog(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "local: limits must be positive")
		assert.Contains(t, err.Error(), "tokens_per_month=0")
	})

	t.Run("empty providers", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("providers: []\n"), 0o600))

		_, err := LoadCatalog(path)
		assert.ErrorIs(t, err, ErrEmptyCatalog)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := LoadCatalog("  ")
		assert.Error(t, err)
	})
}

func TestApplyOverrides(t *testing.T) {
	catalog := DefaultCatalog()

	ApplyOverrides(catalog,
		map[string]string{"groq": "http://127.0.0.1:9000/v1/"},
		map[string]string{"claude": "claude-3-opus-latest"},
	)

	assert.Equal(t, "http://127.0.0.1:9000/v1", catalog[1].Endpoint)
	assert.Equal(t, "claude-3-opus-latest", catalog[3].Model)
	assert.Equal(t, "https://generativelanguage.googleapis.com", catalog[0].Endpoint)
}
