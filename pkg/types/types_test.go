package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChunk() Chunk {
	c := Chunk{
		SourcePath: "pkg/auth/login.go",
		StartLine:  10,
		EndLine:    24,
		Text:       "func Login(user string) error {\n\treturn nil\n}",
		Kind:       ChunkFunction,
	}
	c.ComputeID()
	return c
}

func TestChunkComputeID(t *testing.T) {
	a := validChunk()
	b := validChunk()

	require.NotEmpty(t, a.ID)
	assert.Len(t, a.ID, 16)
	assert.Equal(t, a.ID, b.ID, "identical content must hash identically")

	b.Text += " "
	b.ComputeID()
	assert.NotEqual(t, a.ID, b.ID)

	c := validChunk()
	c.SourcePath = "pkg/auth/logout.go"
	c.ComputeID()
	assert.NotEqual(t, a.ID, c.ID)

	d := validChunk()
	d.StartLine++
	d.ComputeID()
	assert.NotEqual(t, a.ID, d.ID)
}

func TestChunkValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Chunk)
		wantErr bool
	}{
		{"valid", func(c *Chunk) {}, false},
		{"empty text", func(c *Chunk) { c.Text = "" }, true},
		{"zero start line", func(c *Chunk) { c.StartLine = 0 }, true},
		{"start after end", func(c *Chunk) { c.StartLine = 30 }, true},
		{"negative overlap", func(c *Chunk) { c.OverlapLines = -1 }, true},
		{"unknown kind", func(c *Chunk) { c.Kind = "paragraph" }, true},
		{"missing id", func(c *Chunk) { c.ID = "" }, true},
		{"missing source path", func(c *Chunk) { c.SourcePath = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChunk()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunkDerivedSizes(t *testing.T) {
	c := validChunk()
	assert.Equal(t, 15, c.LineCount())
	assert.Equal(t, len(c.Text)/4, c.EstimateTokens())

	tiny := Chunk{Text: "abc"}
	assert.Equal(t, 0, tiny.EstimateTokens())
}

func TestEmbeddingValidate(t *testing.T) {
	e := Embedding{OwnerID: "abc", Dims: 3, Values: []float32{1, 0, 0}}
	require.NoError(t, e.Validate())

	e.Dims = 0
	assert.Error(t, e.Validate())

	e = Embedding{OwnerID: "abc", Dims: 4, Values: []float32{1, 0, 0}}
	err := e.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbeddingCloneIsDeep(t *testing.T) {
	orig := Embedding{OwnerID: "abc", Dims: 2, Values: []float32{0.6, 0.8}}
	clone := orig.Clone()

	clone.Values[0] = -1
	assert.Equal(t, float32(0.6), orig.Values[0])
	assert.Equal(t, orig.OwnerID, clone.OwnerID)
	assert.Equal(t, orig.Dims, clone.Dims)
}

func scoredItem(rank int, score float64) ScoredChunk {
	return ScoredChunk{Chunk: validChunk(), Rank: rank, Similarity: score, Score: score}
}

func TestBundleEmpty(t *testing.T) {
	b := &ContextBundle{Query: "q"}
	assert.True(t, b.Empty())
	require.NoError(t, b.Validate())

	b.Items = append(b.Items, scoredItem(1, 0.9))
	assert.False(t, b.Empty())
	require.NoError(t, b.Validate())
}

func TestBundleValidate(t *testing.T) {
	tests := []struct {
		name    string
		bundle  ContextBundle
		wantErr error
	}{
		{
			name:   "ranks must be contiguous from one",
			bundle: ContextBundle{Query: "q", Items: []ScoredChunk{scoredItem(1, 0.9), scoredItem(3, 0.5)}},
			wantErr: ErrInvalidRank,
		},
		{
			name: "items need chunk ids",
			bundle: ContextBundle{Query: "q", Items: []ScoredChunk{
				{Chunk: Chunk{SourcePath: "a.go"}, Rank: 1},
			}},
			wantErr: ErrMissingChunkID,
		},
		{
			name:    "scores must be finite",
			bundle:  ContextBundle{Query: "q", Items: []ScoredChunk{scoredItem(1, math.NaN())}},
			wantErr: ErrInvalidScore,
		},
		{
			name:    "items require a query",
			bundle:  ContextBundle{Items: []ScoredChunk{scoredItem(1, 0.9)}},
			wantErr: ErrEmptyQueryText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.bundle.Validate(), tt.wantErr)
		})
	}
}
