package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcmdiag/internal/gateway/config"
	"tcmdiag/internal/llm"
)

func offlineConfig(t *testing.T) *config.Config {
	return &config.Config{
		Port: ":0",
		Env:  "test",
		Session: config.SessionConfig{
			Backend:   "file",
			Path:      filepath.Join(t.TempDir(), "sessions.json"),
			CacheSize: 16,
			CacheTTL:  time.Minute,
		},
		LLM: config.LLMConfig{Mode: "fake", AttemptTimeout: time.Second},
	}
}

func TestNewWithConfig_Offline(t *testing.T) {
	a, err := NewWithConfig(offlineConfig(t))
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestLoadTiers_FakeModeRewritesProviders(t *testing.T) {
	cfg := offlineConfig(t)
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  - id: small
    rank: 1
    max_score: 0.5
    provider: groq:llama-3.1-8b-instant
  - id: large
    rank: 2
    max_score: 1
    provider: openai:gpt-4o
`), 0o644))
	cfg.LLM.TiersFile = path

	tiers, err := loadTiers(cfg)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "fake:small", tiers[0].ProviderRef)
	assert.Equal(t, "fake:large", tiers[1].ProviderRef)

	cfg.LLM.TiersFile = ""
	tiers, err = loadTiers(cfg)
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultTiers(true), tiers)
}

func TestNewWithConfig_UnknownProvider(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.LLM.Mode = "live"
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - id: x\n    rank: 1\n    max_score: 1\n    provider: mistral:large\n"), 0o644))
	cfg.LLM.TiersFile = path
	_, err := NewWithConfig(cfg)
	assert.ErrorIs(t, err, llm.ErrProviderNotRegistered)
}

func TestReadCacheable(t *testing.T) {
	assert.True(t, readCacheable("file"))
	assert.True(t, readCacheable(" SQLite "))
	assert.False(t, readCacheable("postgres"))
	assert.False(t, readCacheable("memory"))
}
