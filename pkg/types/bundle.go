package types

import "math"

// ScoredChunk pairs a retrieved chunk with its ranking scores
type ScoredChunk struct {
	// Identification
	Chunk Chunk
	Rank  int // Position in bundle (1-based)

	// Scoring
	Similarity float64 // Cosine similarity against the query vector
	Recency    float64 // Exponential age decay in [0, 1]
	Score      float64 // Blended score used for final ordering
}

// ContextBundle is the ordered set of chunks selected to augment one
// completion request. Bundles are transient: built per query, never persisted.
type ContextBundle struct {
	Query         string
	Items         []ScoredChunk
	TokenEstimate int // Sum of the items' token estimates

	// Candidates is the number of raw neighbors fetched before re-ranking.
	// Retained for instrumentation; always >= len(Items).
	Candidates int
}

// Empty reports whether the bundle carries no context. An empty bundle is a
// valid degraded result, not an error: completion proceeds without context.
func (b *ContextBundle) Empty() bool {
	return len(b.Items) == 0
}

// Validate checks bundle ordering and score sanity
func (b *ContextBundle) Validate() error {
	if len(b.Items) > 0 && b.Query == "" {
		return ErrEmptyQueryText
	}
	for i, item := range b.Items {
		if item.Chunk.ID == "" {
			return ErrMissingChunkID
		}

		if item.Rank != i+1 {
			return ErrInvalidRank
		}

		if math.IsNaN(item.Score) || math.IsInf(item.Score, 0) {
			return ErrInvalidScore
		}
	}

	return nil
}
