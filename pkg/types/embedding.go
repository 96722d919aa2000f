package types

import (
	"errors"
	"fmt"
)

// Embedding is a fixed-length numeric vector produced by the embedding
// backend. Values are L2-normalized at creation time, so cosine similarity
// between two embeddings reduces to their dot product. An embedding is never
// mutated after creation; re-embedding produces a replacement vector.
type Embedding struct {
	OwnerID string // chunk ID, or a transient query ID
	Dims    int
	Values  []float32
}

// Validate checks dimensional consistency
func (e *Embedding) Validate() error {
	if e.Dims <= 0 {
		return errors.New("embedding dims must be positive")
	}

	if len(e.Values) != e.Dims {
		return fmt.Errorf("%w: have %d values, want %d", ErrDimensionMismatch, len(e.Values), e.Dims)
	}

	return nil
}

// Clone returns a deep copy so that stored vectors cannot be aliased by
// caller-held slices.
func (e *Embedding) Clone() Embedding {
	values := make([]float32, len(e.Values))
	copy(values, e.Values)
	return Embedding{OwnerID: e.OwnerID, Dims: e.Dims, Values: values}
}
