package vectorstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Metadata keys every indexed record carries. The store treats metadata as
// opaque strings; these keys are the contract between the indexer writing
// records and the selector rebuilding chunks from query hits.
const (
	MetaSourcePath = "source_path"
	MetaKind       = "kind"
	MetaStartLine  = "start_line"
	MetaEndLine    = "end_line"
	MetaText       = "text"
	MetaIndexedAt  = "indexed_at"
)

// Record is one stored (vector, metadata) pair. The owning chunk ID lives on
// the vector; the store never holds two records for the same ID at once.
type Record struct {
	Vector   types.Embedding
	Metadata map[string]string
}

// RecordFromChunk assembles the stored form of an indexed chunk
func RecordFromChunk(chunk types.Chunk, vector types.Embedding, indexedAt time.Time) Record {
	vector.OwnerID = chunk.ID
	return Record{
		Vector: vector,
		Metadata: map[string]string{
			MetaSourcePath: chunk.SourcePath,
			MetaKind:       string(chunk.Kind),
			MetaStartLine:  strconv.Itoa(chunk.StartLine),
			MetaEndLine:    strconv.Itoa(chunk.EndLine),
			MetaText:       chunk.Text,
			MetaIndexedAt:  indexedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// ID returns the owning chunk ID
func (r Record) ID() string {
	return r.Vector.OwnerID
}

// SourcePath returns the source the record was indexed from
func (r Record) SourcePath() string {
	return r.Metadata[MetaSourcePath]
}

// IndexedAt returns when the record was first indexed, or the zero time if
// the metadata does not carry a parseable timestamp.
func (r Record) IndexedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.Metadata[MetaIndexedAt])
	if err != nil {
		return time.Time{}
	}
	return t
}

// Chunk rebuilds the indexed chunk from record metadata. Malformed line
// fields indicate the persisted state was tampered with or truncated.
func (r Record) Chunk() (types.Chunk, error) {
	start, err := strconv.Atoi(r.Metadata[MetaStartLine])
	if err != nil {
		return types.Chunk{}, fmt.Errorf("%w: record %s has malformed start line %q",
			types.ErrStoreCorruption, r.ID(), r.Metadata[MetaStartLine])
	}
	end, err := strconv.Atoi(r.Metadata[MetaEndLine])
	if err != nil {
		return types.Chunk{}, fmt.Errorf("%w: record %s has malformed end line %q",
			types.ErrStoreCorruption, r.ID(), r.Metadata[MetaEndLine])
	}

	return types.Chunk{
		ID:         r.ID(),
		SourcePath: r.SourcePath(),
		StartLine:  start,
		EndLine:    end,
		Text:       r.Metadata[MetaText],
		Kind:       types.ChunkKind(r.Metadata[MetaKind]),
	}, nil
}

// Validate checks the record against the store's configured dimensionality
func (r Record) Validate(dims int) error {
	if r.ID() == "" {
		return fmt.Errorf("record has no owner id")
	}
	if err := r.Vector.Validate(); err != nil {
		return fmt.Errorf("record %s: %w", r.ID(), err)
	}
	if r.Vector.Dims != dims {
		return fmt.Errorf("%w: record %s has %d dims, store configured for %d",
			types.ErrDimensionMismatch, r.ID(), r.Vector.Dims, dims)
	}
	return nil
}

// clone deep-copies the record so callers cannot alias stored state
func (r Record) clone() Record {
	metadata := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		metadata[k] = v
	}
	return Record{Vector: r.Vector.Clone(), Metadata: metadata}
}
