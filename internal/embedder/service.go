package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/kherrera/ctxrelay-mcp/internal/backend"
	"github.com/kherrera/ctxrelay-mcp/internal/breaker"
	"github.com/kherrera/ctxrelay-mcp/internal/metrics"
	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Batch limits
const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// Config holds embedding service settings
type Config struct {
	// Dims is the dimensionality every produced vector must have. Backend
	// responses with any other width are rejected as misconfiguration.
	Dims int

	// BatchSize is the largest group sent to the backend in one call
	BatchSize int

	// CacheSize is the LRU capacity, in embeddings
	CacheSize int

	Retry RetryConfig
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	c.Retry.applyDefaults()
}

// Service embeds texts through the external backend. Every network attempt
// passes through the embeddings circuit breaker; transient failures are
// retried with backoff, and batch calls degrade to singletons so one poisoned
// item cannot fail its siblings. Vectors are L2-normalized before they leave
// this package.
type Service struct {
	config   Config
	client   backend.Client
	breaker  *breaker.Breaker
	cache    *Cache
	recorder *metrics.Recorder
}

// NewService creates an embedding service over the given backend client
func NewService(cfg Config, client backend.Client, cb *breaker.Breaker, recorder *metrics.Recorder) (*Service, error) {
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("%w: embedding dims must be configured", ErrInvalidInput)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: backend client is required", ErrInvalidInput)
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: circuit breaker is required", ErrInvalidInput)
	}
	cfg.applyDefaults()

	return &Service{
		config:   cfg,
		client:   client,
		breaker:  cb,
		cache:    NewCache(cfg.CacheSize),
		recorder: recorder,
	}, nil
}

// GenerateEmbedding embeds one text, consulting the cache first
func (s *Service) GenerateEmbedding(ctx context.Context, text string) (*types.Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if emb, ok := s.cache.Get(hash); ok {
		s.observeCache(true)
		return emb, nil
	}
	s.observeCache(false)

	vectors, err := s.callBackend(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	emb, err := s.toEmbedding(vectors[0])
	if err != nil {
		return nil, err
	}

	s.cache.Set(hash, emb)
	clone := emb.Clone()
	return &clone, nil
}

// GenerateBatch embeds texts in groups of at most BatchSize. The result is
// order-preserving; a group that fails transiently is degraded to singleton
// calls so errors surface per item rather than per batch.
func (s *Service) GenerateBatch(ctx context.Context, texts []string) ([]BatchResult, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(texts))

	// Serve cache hits and reject empty items up front
	var pending []int
	for i, text := range texts {
		if text == "" {
			results[i].Err = ErrEmptyText
			continue
		}
		if emb, ok := s.cache.Get(ComputeHash(text)); ok {
			s.observeCache(true)
			results[i].Embedding = emb
			continue
		}
		s.observeCache(false)
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		s.embedGroup(ctx, texts, pending[start:end], results)
	}

	return results, nil
}

// embedGroup embeds one group of indices, falling back to singletons when
// the grouped call fails
func (s *Service) embedGroup(ctx context.Context, texts []string, group []int, results []BatchResult) {
	groupTexts := make([]string, len(group))
	for i, idx := range group {
		groupTexts[i] = texts[idx]
	}

	vectors, err := s.callBackend(ctx, groupTexts)
	if err == nil {
		for i, idx := range group {
			s.fill(&results[idx], texts[idx], vectors[i])
		}
		return
	}

	if len(group) == 1 {
		results[group[0]].Err = err
		return
	}

	// Split-and-retry: isolate the failing items instead of cascading the
	// whole batch
	for _, idx := range group {
		vectors, err := s.callBackend(ctx, []string{texts[idx]})
		if err != nil {
			results[idx].Err = err
			continue
		}
		s.fill(&results[idx], texts[idx], vectors[0])
	}
}

// fill converts one raw vector into a validated, cached embedding result
func (s *Service) fill(result *BatchResult, text string, vector []float32) {
	emb, err := s.toEmbedding(vector)
	if err != nil {
		result.Err = err
		return
	}
	s.cache.Set(ComputeHash(text), emb)
	clone := emb.Clone()
	result.Embedding = &clone
}

// callBackend performs the guarded, retried network call. The breaker sees
// every attempt; the retry loop gives up immediately on non-transient errors,
// including a rejection from the open breaker.
func (s *Service) callBackend(ctx context.Context, texts []string) ([][]float32, error) {
	return retryWithBackoff(ctx, s.config.Retry, func() ([][]float32, error) {
		var vectors [][]float32
		err := s.breaker.Execute(func() error {
			start := time.Now()
			var callErr error
			vectors, callErr = s.client.Embed(ctx, texts)
			if s.recorder != nil {
				s.recorder.ObserveBackendCall(metrics.OpEmbed, time.Since(start), callErr)
			}
			return callErr
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts",
				types.ErrBackendTransient, len(vectors), len(texts))
		}
		return vectors, nil
	})
}

// toEmbedding validates dimensionality and normalizes to unit length
func (s *Service) toEmbedding(vector []float32) (*types.Embedding, error) {
	if len(vector) != s.config.Dims {
		return nil, fmt.Errorf("%w: backend returned %d dims, want %d",
			types.ErrDimensionMismatch, len(vector), s.config.Dims)
	}

	return &types.Embedding{
		Dims:   s.config.Dims,
		Values: NormalizeVector(vector),
	}, nil
}

func (s *Service) observeCache(hit bool) {
	if s.recorder != nil {
		s.recorder.ObserveCache(hit)
	}
}

// Dimension returns the configured vector dimensionality
func (s *Service) Dimension() int {
	return s.config.Dims
}

// CacheSize returns the number of embeddings currently cached
func (s *Service) CacheSize() int {
	return s.cache.Size()
}

// Close releases the backend client's resources
func (s *Service) Close() error {
	return s.client.Close()
}
