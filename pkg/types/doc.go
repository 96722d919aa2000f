// Package types provides shared type definitions for the ctxrelay MCP server.
//
// This package defines domain types used across multiple components of
// ctxrelay, including chunks, embeddings, context bundles, and the shared
// failure taxonomy.
//
// # Core Types
//
// Chunk represents a semantically bounded slice of source text, typically one
// function, used as the unit of indexing and retrieval:
//
//	chunk := types.Chunk{
//	    SourcePath: "internal/auth/login.go",
//	    StartLine:  42,
//	    EndLine:    78,
//	    Text:       functionBody,
//	    Kind:       types.ChunkFunction,
//	}
//	chunk.ComputeID()
//
// Chunk IDs are content-addressed: the same path, position, and text always
// produce the same ID, which makes re-indexing unchanged sources idempotent.
//
// Embedding is a fixed-length vector representing the semantic content of a
// chunk or query. Vectors are L2-normalized when created, so cosine similarity
// between any two embeddings is their dot product:
//
//	emb := types.Embedding{OwnerID: chunk.ID, Dims: 768, Values: values}
//	if err := emb.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// ContextBundle is the ranked set of retrieved chunks assembled to augment a
// completion request. Bundles are transient and carry per-item similarity,
// recency, and blended scores.
//
// # Failure Taxonomy
//
// The sentinel errors in this package classify every failure the core can
// surface. Callers branch with errors.Is:
//
//	if errors.Is(err, types.ErrBackendUnavailable) {
//	    // circuit open: fail fast, do not retry
//	}
//
// ErrSessionCancelled is part of the taxonomy but is not a failure: it marks
// the normal terminal state of a caller-cancelled stream.
//
// # Validation
//
// Domain types implement validation methods to ensure data integrity:
//
//	if err := chunk.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := bundle.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package types
