// Package selector assembles the context bundle for a completion request.
//
// Selection embeds the query, over-fetches raw neighbors from the vector
// store (overFetchFactor times k), blends cosine similarity with an
// exponential recency factor, and keeps the top k by blended score:
//
//	score = similarity*(1-w) + recency*w
//	recency = 0.5^(age/halfLife)
//
// Age is measured against the request's Now, so rankings are reproducible
// under a fixed clock. Selection never fails a request: embedder errors,
// store errors, and empty stores all degrade to an empty bundle, and the
// completion proceeds without context.
package selector
