// Package mcp implements the Model Context Protocol (MCP) server for ctxrelay.
//
// The server exposes five tools to MCP clients:
//   - index_source: Index a file, directory, or inline text for retrieval
//   - remove_source: Delete every chunk belonging to a source
//   - search_context: Retrieve the chunks most relevant to a query
//   - stream_complete: Run a context-augmented completion against the backend
//   - get_status: Report store contents, breaker states, and metrics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout is reserved for protocol messages; anything the server wants to log
// goes to stderr.
//
// # Tool: index_source
//
// Index a directory tree (or one file, or inline text):
//
//	Request:
//	{
//	  "name": "index_source",
//	  "arguments": {"path": "/path/to/project"}
//	}
//
//	Response:
//	{
//	  "root": "/path/to/project",
//	  "sources_indexed": 42,
//	  "sources_skipped": 180,
//	  "chunks_embedded": 310,
//	  "chunks_added": 290,
//	  "chunks_removed": 12,
//	  "duration_ms": 1840
//	}
//
// Re-indexing an unchanged tree skips every source: change detection is per
// source by chunk identity, so only modified content reaches the embedding
// backend. Passing "text" indexes the content under "path" without reading
// the filesystem; empty text clears the source.
//
// # Tool: search_context
//
//	Request:
//	{
//	  "name": "search_context",
//	  "arguments": {"query": "retry with backoff", "k": 5, "recency_weight": 0.3}
//	}
//
//	Response:
//	{
//	  "query": "retry with backoff",
//	  "items": [
//	    {
//	      "rank": 1,
//	      "score": 0.87,
//	      "similarity": 0.91,
//	      "recency": 0.64,
//	      "chunk": {"id": "…", "source_path": "internal/backend/retry.go", "start_line": 18, "end_line": 57, "kind": "function", "text": "…"}
//	    }
//	  ],
//	  "token_estimate": 412,
//	  "candidates": 15
//	}
//
// An empty items list is a valid degraded result, not an error.
//
// # Tool: stream_complete
//
// The handler drives a full streaming session internally and returns the
// assembled completion once the session reaches a terminal state:
//
//	Response:
//	{
//	  "session_id": "6f1d…",
//	  "status": "completed",
//	  "completion": "…",
//	  "tokens": 112,
//	  "context_chunks": 5,
//	  "duration_ms": 2140
//	}
//
// Status is one of completed, cancelled, timed_out, errored, or unavailable.
// "unavailable" means the completion circuit breaker is open: the request was
// rejected without touching the backend and can be retried after the
// cooldown. A timed-out or errored session still returns the tokens that
// arrived before the failure.
//
// # Error Handling
//
// Failures that prevent a tool from producing a result are returned as
// JSON-RPC errors:
//
//	{
//	  "error": {
//	    "code": -32602,
//	    "message": "invalid path",
//	    "data": {"param": "path", "reason": "path does not exist"}
//	  }
//	}
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (store, embedding, filesystem)
//   - -32001: No inference backend configured
//   - -32002: Indexing already in progress
//   - -32004: Query parameter is empty
//
// # Offline Mode
//
// With no backend base URL configured the server still indexes and searches
// using deterministic static embeddings; stream_complete returns error
// -32001. This keeps local development useful without an inference endpoint.
package mcp
