package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 384, cfg.Embedder.Dims)
	assert.Equal(t, 3, cfg.Selector.OverFetchFactor)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Stream.IdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown())
	assert.Equal(t, 7*24*time.Hour, cfg.Selector.RecencyHalfLife())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctxrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  base_url: http://inference:8080
embedder:
  dims: 768
store:
  backend: bolt
  path: /var/lib/ctxrelay/index.bolt
selector:
  recency_weight: 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://inference:8080", cfg.Backend.BaseURL)
	assert.Equal(t, 768, cfg.Embedder.Dims)
	assert.Equal(t, StoreBolt, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/ctxrelay/index.bolt", cfg.Store.Path)
	assert.Equal(t, 0.5, cfg.Selector.RecencyWeight)

	// Untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Selector.OverFetchFactor)
	assert.Equal(t, 0.5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "/embed", cfg.Backend.EmbedPath)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [not: a mapping"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: redis\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	want := Default()
	want.Backend.BaseURL = "http://localhost:9000"
	want.Store.Backend = StoreMemory
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CTXRELAY_BACKEND_URL", "http://override:1234")
	t.Setenv("CTXRELAY_STORE_BACKEND", "MEMORY")
	t.Setenv("CTXRELAY_EMBED_DIMS", "512")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://override:1234", cfg.Backend.BaseURL)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 512, cfg.Embedder.Dims)
}

func TestEnvOverrideRejectsBadNumber(t *testing.T) {
	t.Setenv("CTXRELAY_EMBED_DIMS", "lots")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CTXRELAY_EMBED_DIMS")
}

func TestEnvQdrantURLBuildsSection(t *testing.T) {
	t.Setenv("CTXRELAY_STORE_BACKEND", "qdrant")
	t.Setenv("CTXRELAY_QDRANT_URL", "http://qdrant:6333")

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: sqlite
  qdrant:
    collection: chunks
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Store.Qdrant)
	assert.Equal(t, "http://qdrant:6333", cfg.Store.Qdrant.URL)
	assert.Equal(t, "chunks", cfg.Store.Qdrant.Collection)
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("CUSTOM_KEY_VAR", "sk-test-1")

	b := BackendConfig{APIKeyEnv: "CUSTOM_KEY_VAR"}
	assert.Equal(t, "sk-test-1", b.APIKey())

	q := QdrantConfig{}
	assert.Empty(t, q.APIKey())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dims", func(c *Config) { c.Embedder.Dims = 0 }},
		{"recency weight above one", func(c *Config) { c.Selector.RecencyWeight = 1.5 }},
		{"negative over-fetch", func(c *Config) { c.Selector.OverFetchFactor = -1 }},
		{"zero breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Breaker.FailureThreshold = 1.1 }},
		{"negative window", func(c *Config) { c.Breaker.WindowSize = -1 }},
		{"negative idle timeout", func(c *Config) { c.Stream.IdleTimeoutMs = -5 }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"qdrant without url", func(c *Config) {
			c.Store.Backend = StoreQdrant
			c.Store.Qdrant = &QdrantConfig{Collection: "chunks"}
		}},
		{"qdrant without collection", func(c *Config) {
			c.Store.Backend = StoreQdrant
			c.Store.Qdrant = &QdrantConfig{URL: "http://qdrant:6333"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDefaultPrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ctxrelay.yaml"), []byte("embedder:\n  dims: 512\n"), 0o644))

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "ctxrelay.yaml", path)
	assert.Equal(t, 512, cfg.Embedder.Dims)
}

func TestLoadDefaultWritesUserConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "ctxrelay", "config.yaml"), path)
	assert.Equal(t, Default(), cfg)

	// The written file loads back to the same configuration
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}
