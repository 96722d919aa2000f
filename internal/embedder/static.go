package embedder

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// DefaultStaticDims is the vector width of the offline embedder
const DefaultStaticDims = 384

// Static derives deterministic pseudo-embeddings from content hashes. It
// exists for offline development and tests: identical text always yields an
// identical unit vector, but the vectors carry no semantic signal beyond
// exact-content identity.
type Static struct {
	dims  int
	cache *Cache
}

// NewStatic creates an offline embedder producing dims-wide vectors
func NewStatic(dims int) *Static {
	if dims <= 0 {
		dims = DefaultStaticDims
	}
	return &Static{
		dims:  dims,
		cache: NewCache(0),
	}
}

func (s *Static) GenerateEmbedding(_ context.Context, text string) (*types.Embedding, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if emb, ok := s.cache.Get(hash); ok {
		return emb, nil
	}

	vector := make([]float32, s.dims)
	block := sha256.Sum256([]byte(text))
	for i := 0; i < s.dims; i++ {
		if i > 0 && i%len(block) == 0 {
			block = sha256.Sum256(block[:])
		}
		vector[i] = float32(block[i%len(block)])/127.5 - 1.0
	}

	emb := &types.Embedding{
		Dims:   s.dims,
		Values: NormalizeVector(vector),
	}

	s.cache.Set(hash, emb)
	clone := emb.Clone()
	return &clone, nil
}

func (s *Static) GenerateBatch(ctx context.Context, texts []string) ([]BatchResult, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(texts))
	for i, text := range texts {
		emb, err := s.GenerateEmbedding(ctx, text)
		if err != nil {
			results[i].Err = fmt.Errorf("embedding text %d: %w", i, err)
			continue
		}
		results[i].Embedding = emb
	}

	return results, nil
}

func (s *Static) Dimension() int {
	return s.dims
}

func (s *Static) Close() error {
	return nil
}
