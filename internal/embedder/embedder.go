package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Common errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyText    = errors.New("text cannot be empty")
	ErrNoVectors    = errors.New("backend returned no vectors")
)

// BatchResult is the per-item outcome of a batch embedding call. A failed
// item never fails its siblings: callers inspect Err per position.
type BatchResult struct {
	Embedding *types.Embedding
	Err       error
}

// Embedder generates fixed-length vectors for chunks and queries
type Embedder interface {
	// GenerateEmbedding embeds a single text. The returned vector is
	// L2-normalized and owned by the caller.
	GenerateEmbedding(ctx context.Context, text string) (*types.Embedding, error)

	// GenerateBatch embeds multiple texts, order-preserving: result[i]
	// corresponds to texts[i]. Failure of one item surfaces in its own
	// BatchResult and leaves the rest intact.
	GenerateBatch(ctx context.Context, texts []string) ([]BatchResult, error)

	// Dimension returns the vector dimensionality this embedder produces
	Dimension() int

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *types.Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, *types.Embedding](maxLen)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, *types.Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(hash string) (*types.Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	clone := emb.Clone()
	return &clone, true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *types.Embedding) {
	c.cache.Add(hash, emb)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// NormalizeVector normalizes a vector to unit length. A zero vector is
// returned unchanged; its dot product against anything is zero, which is the
// similarity it deserves.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

// ValidateBatch validates the texts of a batch request
func ValidateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	return nil
}
