package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend names accepted by StoreConfig.Backend
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
	StoreQdrant = "qdrant"
)

// DefaultAPIKeyEnv is the environment variable consulted for the backend
// API key when the config names no other
const DefaultAPIKeyEnv = "CTXRELAY_API_KEY"

// BackendConfig holds the inference backend connection settings. The API key
// never lives in the file; the config names the environment variable that
// carries it.
type BackendConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	EmbedPath        string `yaml:"embed_path"`
	CompletePath     string `yaml:"complete_path"`
	EmbedTimeoutSecs int    `yaml:"embed_timeout_secs"`
}

// APIKey resolves the backend API key from the configured environment variable
func (b BackendConfig) APIKey() string {
	return os.Getenv(b.APIKeyEnv)
}

// EmbedTimeout returns the embedding round-trip bound
func (b BackendConfig) EmbedTimeout() time.Duration {
	return time.Duration(b.EmbedTimeoutSecs) * time.Second
}

// EmbedderConfig sizes the embedding layer
type EmbedderConfig struct {
	Dims      int `yaml:"dims"`
	BatchSize int `yaml:"batch_size"`
	CacheSize int `yaml:"cache_size"`
}

// ChunkerConfig sizes source chunking, in lines
type ChunkerConfig struct {
	MaxChunkLines int `yaml:"max_chunk_lines"`
	WindowLines   int `yaml:"window_lines"`
	OverlapLines  int `yaml:"overlap_lines"`
}

// SelectorConfig tunes context selection
type SelectorConfig struct {
	OverFetchFactor      int     `yaml:"over_fetch_factor"`
	RecencyWeight        float64 `yaml:"recency_weight"`
	RecencyHalfLifeHours int     `yaml:"recency_half_life_hours"`
}

// RecencyHalfLife returns the decay half-life as a duration
func (s SelectorConfig) RecencyHalfLife() time.Duration {
	return time.Duration(s.RecencyHalfLifeHours) * time.Hour
}

// BreakerConfig tunes both circuit breakers (embeddings and completion)
type BreakerConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold"`
	WindowSize       int     `yaml:"window_size"`
	MinSamples       int     `yaml:"min_samples"`
	CooldownMs       int     `yaml:"cooldown_ms"`
	HalfOpenProbes   int     `yaml:"half_open_probes"`
}

// Cooldown returns the open-state cooldown as a duration
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

// StreamConfig tunes streaming sessions
type StreamConfig struct {
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`
}

// IdleTimeout returns the per-token idle bound as a duration
func (s StreamConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// QdrantConfig holds remote vector store connection details
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
}

// APIKey resolves the Qdrant API key from the configured environment variable
func (q QdrantConfig) APIKey() string {
	if q.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(q.APIKeyEnv)
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	Shards  int           `yaml:"shards"`
	Qdrant  *QdrantConfig `yaml:"qdrant,omitempty"`
}

// IndexerConfig tunes directory indexing
type IndexerConfig struct {
	Workers       int      `yaml:"workers"`
	Extensions    []string `yaml:"extensions"`
	IncludeTests  bool     `yaml:"include_tests"`
	IncludeVendor bool     `yaml:"include_vendor"`
}

// Config is the root server configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Chunker  ChunkerConfig  `yaml:"chunker"`
	Selector SelectorConfig `yaml:"selector"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Stream   StreamConfig   `yaml:"stream"`
	Store    StoreConfig    `yaml:"store"`
	Indexer  IndexerConfig  `yaml:"indexer"`
}

// Default returns the configuration written on first run
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			APIKeyEnv:        DefaultAPIKeyEnv,
			EmbedPath:        "/embed",
			CompletePath:     "/complete/stream",
			EmbedTimeoutSecs: 30,
		},
		Embedder: EmbedderConfig{
			Dims:      384,
			BatchSize: 50,
			CacheSize: 10000,
		},
		Chunker: ChunkerConfig{
			MaxChunkLines: 160,
			WindowLines:   48,
			OverlapLines:  8,
		},
		Selector: SelectorConfig{
			OverFetchFactor:      3,
			RecencyWeight:        0.3,
			RecencyHalfLifeHours: 168,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 0.5,
			WindowSize:       20,
			MinSamples:       5,
			CooldownMs:       30000,
			HalfOpenProbes:   3,
		},
		Stream: StreamConfig{
			IdleTimeoutMs: 30000,
		},
		Store: StoreConfig{
			Backend: StoreSQLite,
			Path:    "ctxrelay.db",
		},
		Indexer: IndexerConfig{
			Extensions: []string{".go"},
		},
	}
}

// Load reads a config from path. A missing file yields the defaults;
// environment overrides apply either way.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			if err := applyEnv(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadDefault tries ./ctxrelay.yaml first, then the user config path. If
// neither exists it writes the defaults to the user path and returns them.
func LoadDefault() (*Config, string, error) {
	cwdPath := "ctxrelay.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}

	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}

	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, cfg.Validate()
}

// Save writes cfg to path, creating directories as needed
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ctxrelay", "config.yaml"), nil
}

// applyEnv overrides file values from the process environment. Only the
// deploy-varying knobs are exposed this way; everything else is file-only.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("CTXRELAY_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CTXRELAY_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CTXRELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CTXRELAY_EMBED_DIMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CTXRELAY_EMBED_DIMS: %w", err)
		}
		cfg.Embedder.Dims = n
	}
	if v := os.Getenv("CTXRELAY_QDRANT_URL"); v != "" {
		if cfg.Store.Qdrant == nil {
			cfg.Store.Qdrant = &QdrantConfig{}
		}
		cfg.Store.Qdrant.URL = v
	}
	return nil
}

// Validate rejects configurations no component could run with
func (c *Config) Validate() error {
	if c.Embedder.Dims <= 0 {
		return fmt.Errorf("embedder.dims must be positive, got %d", c.Embedder.Dims)
	}
	if c.Selector.RecencyWeight < 0 || c.Selector.RecencyWeight > 1 {
		return fmt.Errorf("selector.recency_weight must be in [0, 1], got %g", c.Selector.RecencyWeight)
	}
	if c.Selector.OverFetchFactor < 0 {
		return fmt.Errorf("selector.over_fetch_factor must not be negative, got %d", c.Selector.OverFetchFactor)
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold > 1 {
		return fmt.Errorf("breaker.failure_threshold must be in (0, 1], got %g", c.Breaker.FailureThreshold)
	}
	if c.Breaker.WindowSize < 0 || c.Breaker.MinSamples < 0 || c.Breaker.HalfOpenProbes < 0 {
		return errors.New("breaker window_size, min_samples, and half_open_probes must not be negative")
	}
	if c.Stream.IdleTimeoutMs < 0 {
		return fmt.Errorf("stream.idle_timeout_ms must not be negative, got %d", c.Stream.IdleTimeoutMs)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite, StoreBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case StoreQdrant:
		if c.Store.Qdrant == nil || c.Store.Qdrant.URL == "" {
			return errors.New("store.qdrant.url is required for the qdrant backend")
		}
		if c.Store.Qdrant.Collection == "" {
			return errors.New("store.qdrant.collection is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want %s, %s, %s, or %s)",
			c.Store.Backend, StoreMemory, StoreSQLite, StoreBolt, StoreQdrant)
	}

	return nil
}
