package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ChunkKind classifies the structural unit a chunk was carved from
type ChunkKind string

const (
	ChunkFunction ChunkKind = "function"
	ChunkClass    ChunkKind = "class"
	ChunkBlock    ChunkKind = "block"
)

// Chunk represents a semantically bounded slice of source text used as the
// unit of indexing and retrieval. A chunk is immutable once created:
// re-indexing a source produces new chunks that supersede the old ones, and
// the stale IDs are garbage-collected from the vector store.
type Chunk struct {
	// Identification
	ID         string // content-addressed, stable across identical re-indexes
	SourcePath string

	// Location (1-based, inclusive)
	StartLine int
	EndLine   int

	// Content
	Text         string
	OverlapLines int // leading lines shared with the previous chunk

	// Metadata
	Kind ChunkKind
}

// ComputeID derives the chunk's content-addressed identifier. The ID is a
// pure function of source path, position, and text, so indexing unchanged
// content twice yields identical IDs.
func (c *Chunk) ComputeID() {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d\x00%s", c.SourcePath, c.StartLine, c.EndLine, c.Text)))
	c.ID = hex.EncodeToString(h[:8])
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	if c.OverlapLines < 0 {
		return errors.New("overlap cannot be negative")
	}

	return nil
}

// ValidateKind checks if the chunk kind is valid
func (c *Chunk) ValidateKind() error {
	switch c.Kind {
	case ChunkFunction, ChunkClass, ChunkBlock:
		return nil
	default:
		return errors.New("invalid chunk kind")
	}
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if err := c.ValidateKind(); err != nil {
		return err
	}

	if c.ID == "" {
		return errors.New("chunk ID must be computed")
	}

	if c.SourcePath == "" {
		return errors.New("source path is required")
	}

	return nil
}

// EstimateTokens estimates the number of tokens in the chunk text
// Uses a simple heuristic: characters / 4
func (c *Chunk) EstimateTokens() int {
	return len(c.Text) / 4
}

// LineCount returns the number of lines the chunk spans
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}
