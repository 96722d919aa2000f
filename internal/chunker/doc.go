// Package chunker divides source text into semantic chunks for embedding
// and search.
//
// The chunker creates chunks at natural code boundaries (functions, classes)
// to preserve semantic meaning, and falls back to fixed-size sliding windows
// when no structure is detectable. It never fails: malformed or unparseable
// input degrades to naive windowing.
//
// # Basic Usage
//
//	c := chunker.New(chunker.Config{})
//	chunks := c.Chunk(sourceText, "internal/auth/login.go")
//
//	for _, chunk := range chunks {
//	    fmt.Printf("Chunk %s: lines %d-%d (%s)\n",
//	        chunk.ID, chunk.StartLine, chunk.EndLine, chunk.Kind)
//	}
//
// # Boundary Detection
//
// A line opens a new top-level unit when it is unindented, sits at brace
// depth zero outside comments, and its first non-modifier word is a defining
// keyword (func, def, class, fn, type, ...). Detection is a heuristic, not a
// parser: it works across Go, Python, Rust, JavaScript, and similar languages
// without binding the chunker to any grammar. Nested definitions stay inside
// their enclosing unit.
//
// # Window Fallback
//
// Units larger than MaxChunkLines, and files with no detected boundaries,
// are split into WindowLines-high windows sharing OverlapLines lines with
// their predecessor. Each window chunk records its overlap so consumers can
// deduplicate.
//
// # Reconstruction
//
// The chunks of one source partition it exactly, overlap aside:
//
//	chunks := c.Chunk(src, path)
//	chunker.Reconstruct(chunks) // == src, minus trailing newline
//
// # Chunk Identity
//
// Every chunk gets a content-addressed ID derived from its path, position,
// and text, so indexing unchanged content twice yields identical IDs. The
// indexer relies on this to skip re-embedding and to garbage-collect stale
// chunks on re-index.
package chunker
