// Package vectorstore provides durable storage and similarity search for
// chunk embeddings.
//
// The store keeps every record in sharded in-memory maps for query speed and
// writes through to a pluggable persistence backend. On startup the full
// persisted state is loaded back into memory, so queries never touch the
// backend.
//
// # Backends
//
// Four backends implement the Backend interface:
//   - Memory: no persistence, used by tests and ephemeral sessions
//   - SQLiteBackend: single-file SQLite database with schema migrations
//   - BoltBackend: embedded bbolt key/value file with msgpack-encoded records
//   - QdrantBackend: remote Qdrant collection over its REST API
//
// # Basic Usage
//
//	backend, err := vectorstore.NewSQLiteBackend("~/.ctxrelay/index.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := vectorstore.Open(ctx, vectorstore.Config{Dims: 768}, backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	rec := vectorstore.RecordFromChunk(chunk, embedding, time.Now())
//	if err := store.Upsert(ctx, rec); err != nil {
//	    log.Fatal(err)
//	}
//
//	hits, err := store.Query(ctx, queryVector, 5, nil)
//
// # Similarity and Ordering
//
// Stored vectors and query vectors are unit-length, so cosine similarity
// reduces to a dot product. Query results are ordered by descending score;
// equal scores are broken by ascending chunk ID, which makes rankings
// deterministic across runs. A query never returns more than k hits and
// returns an empty slice, not an error, when the store is empty.
//
// # Concurrency
//
// Records are spread over shards by FNV hash of their ID. Queries take
// read locks shard by shard while writers lock only the shard that owns the
// record, so reads proceed concurrently with writes to other shards. An
// upsert replaces the whole record atomically; a concurrent query sees the
// old record or the new one, never a blend.
//
// # Corruption Handling
//
// A backend that cannot decode its persisted state fails Open with
// types.ErrStoreCorruption. If a write hits corruption later, the store
// marks itself corrupted: every subsequent write is rejected with
// types.ErrStoreCorruption while reads continue against the last good
// in-memory state. Recovery requires operator intervention, typically
// re-indexing into a fresh backend file.
package vectorstore
