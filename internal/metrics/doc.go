// Package metrics aggregates performance counters for the server.
//
// Recorder is a passive observer: the circuit breakers report state
// transitions, the embedder reports backend latencies and cache hits, the
// selector reports candidate counts, and the stream orchestrator reports
// dial latencies, session outcomes, and token volume. Nothing in the hot
// path blocks on it beyond a mutex-guarded counter update.
//
// Summary produces the JSON-friendly snapshot served by the get_status tool.
package metrics
