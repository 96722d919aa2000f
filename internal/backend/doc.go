// Package backend provides the HTTP client for the external AI backend.
//
// The core depends on one narrow contract, not a provider's wire format:
//
//	POST {base}/embed            {"texts": [...]}  -> {"vectors": [[...], ...]}
//	POST {base}/complete/stream  {"prompt": ...}   -> SSE stream of token events
//
// Streaming responses are server-sent events, one "data: " line per token:
//
//	data: {"token": "The"}
//	data: {"token": " quick"}
//	data: {"done": true}
//
// A bare "data: [DONE]" sentinel is accepted as an alternative terminal event,
// and {"error": "..."} terminates the stream with a transient failure.
//
// # Failure Classification
//
// Transport errors, 5xx responses, and malformed bodies are wrapped in
// types.ErrBackendTransient so the circuit breaker counts them. Non-200,
// non-5xx responses surface as plain errors: those are caller mistakes, not
// backend health signals.
//
// # Usage
//
//	client, err := backend.NewHTTPClient(backend.Config{BaseURL: url, APIKey: key})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	vectors, err := client.Embed(ctx, []string{"query text"})
//
//	deltas, err := client.CompleteStream(ctx, backend.CompletionRequest{Prompt: prompt})
//	for d := range deltas {
//	    // d.Token, then a terminal d.Done or d.Err
//	}
package backend
