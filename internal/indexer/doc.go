// Package indexer coordinates the end-to-end indexing pipeline: chunk source
// text, embed the chunks, and synchronize the vector store one source at a
// time.
//
// # Basic Usage
//
//	ix, err := indexer.New(chnk, emb, store, indexer.Config{Workers: 8})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	stats, err := ix.IndexDir(ctx, "/path/to/project")
//	fmt.Printf("indexed %d sources in %v\n", stats.SourcesIndexed, stats.Duration)
//
// Single sources index directly, which is what the MCP tool surface uses:
//
//	res, err := ix.IndexSource(ctx, "auth/login.go", sourceText)
//
// # Pipeline
//
// Each source runs the same three stages:
//
//  1. Chunk: split the text into function-level chunks with content-addressed
//     IDs (path, line span, and text feed the hash).
//  2. Embed: batch-embed only the chunks whose IDs are not already stored.
//  3. Replace: atomically swap the source's record set in the vector store,
//     garbage-collecting chunks that no longer exist.
//
// # Incremental Behavior
//
// Chunk IDs are content addressed, so change detection needs no separate
// bookkeeping:
//
//   - An unchanged source produces the exact stored ID set and is skipped
//     without touching the embedder or the store.
//   - A modified source embeds only its new or changed chunks; surviving
//     chunks keep their stored records, including their original indexed-at
//     metadata.
//
// Indexing the same content twice therefore leaves ids, vectors, and
// metadata bit-for-bit identical.
//
// # Concurrency
//
// IndexDir fans files out to an errgroup bounded by Config.Workers. Per-file
// failures land in Statistics.Errors and do not abort the run; only context
// cancellation does. All entry points share a non-blocking single-flight
// lock and return ErrIndexInProgress when another indexing or removal call
// is still running.
package indexer
