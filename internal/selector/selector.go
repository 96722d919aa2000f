package selector

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kherrera/ctxrelay-mcp/internal/metrics"
	"github.com/kherrera/ctxrelay-mcp/internal/vectorstore"
	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Selection limits and defaults
const (
	DefaultK               = 5
	MaxK                   = 50
	DefaultOverFetchFactor = 3
	DefaultRecencyHalfLife = 7 * 24 * time.Hour
)

// Config holds context selection settings
type Config struct {
	// OverFetchFactor multiplies k to size the raw neighbor fetch, leaving
	// the re-rank room to promote recent chunks past similar-but-stale ones.
	OverFetchFactor int

	// RecencyWeight is the default blend weight for requests that do not
	// carry their own. 0 ranks purely by similarity.
	RecencyWeight float64

	// RecencyHalfLife is the age at which a chunk's recency factor reaches
	// one half.
	RecencyHalfLife time.Duration
}

func (c *Config) applyDefaults() {
	if c.OverFetchFactor <= 0 {
		c.OverFetchFactor = DefaultOverFetchFactor
	}
	if c.RecencyWeight < 0 {
		c.RecencyWeight = 0
	}
	if c.RecencyWeight > 1 {
		c.RecencyWeight = 1
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = DefaultRecencyHalfLife
	}
}

// Request asks for the top-k context chunks for one query
type Request struct {
	Query string
	K     int

	// RecencyWeight in [0, 1] blends recency into the ranking; negative
	// means use the configured default.
	RecencyWeight float64

	// Now anchors the recency computation. The zero value means the current
	// wall clock; tests pass a fixed instant for reproducible rankings.
	Now time.Time

	Filter *vectorstore.Filter
}

// QueryEmbedder embeds query text. Satisfied by the embedder service and by
// the offline static embedder.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) (*types.Embedding, error)
}

// Store is the read side of the vector store the selector consumes
type Store interface {
	Query(ctx context.Context, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.Hit, error)
}

// Selector assembles context bundles: embed the query, over-fetch raw
// neighbors, blend similarity with recency, and keep the top k. Selection
// never fails a request: any embedder or store error degrades to an empty
// bundle and the completion proceeds without context.
type Selector struct {
	cfg      Config
	embedder QueryEmbedder
	store    Store
	recorder *metrics.Recorder
}

// New creates a selector over the given embedder and store
func New(cfg Config, emb QueryEmbedder, store Store, recorder *metrics.Recorder) (*Selector, error) {
	if emb == nil {
		return nil, errors.New("query embedder is required")
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	cfg.applyDefaults()

	return &Selector{
		cfg:      cfg,
		embedder: emb,
		store:    store,
		recorder: recorder,
	}, nil
}

// Select returns the top-k context bundle for the request. Given identical
// store contents and an explicit Now, the result is reproducible.
func (s *Selector) Select(ctx context.Context, req Request) *types.ContextBundle {
	start := time.Now()
	bundle := &types.ContextBundle{Query: req.Query}

	k := req.K
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}

	weight := req.RecencyWeight
	if weight < 0 {
		weight = s.cfg.RecencyWeight
	}
	if weight > 1 {
		weight = 1
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	if strings.TrimSpace(req.Query) == "" {
		s.observe(start, 0, 0)
		return bundle
	}

	queryVec, err := s.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		s.observe(start, 0, 0)
		return bundle
	}

	hits, err := s.store.Query(ctx, queryVec.Values, k*s.cfg.OverFetchFactor, req.Filter)
	if err != nil || len(hits) == 0 {
		s.observe(start, len(hits), 0)
		return bundle
	}
	bundle.Candidates = len(hits)

	items := make([]types.ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, err := hit.Record.Chunk()
		if err != nil {
			continue // malformed record: skip it, keep the bundle usable
		}
		recency := recencyFactor(hit.Record.IndexedAt(), now, s.cfg.RecencyHalfLife)
		items = append(items, types.ScoredChunk{
			Chunk:      chunk,
			Similarity: hit.Score,
			Recency:    recency,
			Score:      hit.Score*(1-weight) + recency*weight,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Chunk.ID < items[j].Chunk.ID
	})
	if len(items) > k {
		items = items[:k]
	}

	for i := range items {
		items[i].Rank = i + 1
		bundle.TokenEstimate += items[i].Chunk.EstimateTokens()
	}
	bundle.Items = items

	s.observe(start, bundle.Candidates, len(bundle.Items))
	return bundle
}

func (s *Selector) observe(start time.Time, candidates, selected int) {
	if s.recorder != nil {
		s.recorder.ObserveSelection(time.Since(start), candidates, selected)
	}
}

// recencyFactor is 1 for brand-new chunks and halves every halfLife. Records
// without a parseable indexing time rank as infinitely old.
func recencyFactor(indexedAt, now time.Time, halfLife time.Duration) float64 {
	if indexedAt.IsZero() {
		return 0
	}
	age := now.Sub(indexedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}
