// Package embedder generates vector embeddings for chunks and queries.
//
// The embedding Service calls the external backend through the embeddings
// circuit breaker and provides batching, caching, retry, and normalization.
// A Static embedder backs offline development and tests with deterministic
// hash-derived vectors.
//
// # Basic Usage
//
//	svc, err := embedder.NewService(embedder.Config{Dims: 768}, client, cb, recorder)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	emb, err := svc.GenerateEmbedding(ctx, "func ParseFile(path string) error { ... }")
//	fmt.Printf("vector dimension: %d\n", emb.Dims)
//
// # Batch Processing
//
// Batching amortizes network cost. Results are order-preserving and failures
// are isolated per item:
//
//	results, err := svc.GenerateBatch(ctx, texts)
//	for i, res := range results {
//	    if res.Err != nil {
//	        // texts[i] failed; the others are unaffected
//	        continue
//	    }
//	    // res.Embedding belongs to texts[i]
//	}
//
// When a grouped backend call fails transiently, the service degrades the
// group to singleton calls so one poisoned item cannot cascade into a whole
// failed batch.
//
// # Normalization
//
// Every vector is L2-normalized here, at creation time. Consumers assume
// unit vectors and compute cosine similarity as a plain dot product.
//
// # Caching
//
// Embeddings are cached in an LRU keyed by SHA-256 content hash. Cache reads
// return deep copies, so callers may set OwnerID or otherwise mutate their
// embedding without poisoning the cache.
//
// # Failure Behavior
//
// Transient backend failures are retried with exponential backoff, each
// attempt passing through the circuit breaker. Rejections from an open
// breaker and dimension mismatches are never retried: the former must fail
// fast, the latter is fatal misconfiguration.
package embedder
