// Package breaker implements circuit breaking around the external AI backend.
//
// One breaker guards one logical backend dependency ("embeddings",
// "completion"); a Registry hands them out by key so the two endpoints
// degrade independently.
//
// # State Machine
//
// Closed (initial): calls pass through. Each outcome lands in a rolling
// window of the last WindowSize calls; once at least MinSamples outcomes are
// recorded and failures/sampled >= FailureThreshold, the breaker opens.
// Meeting the threshold exactly is sufficient.
//
// Open: calls are rejected immediately with types.ErrBackendUnavailable and
// no network attempt is made. After Cooldown elapses the next caller is
// admitted as a probe and the breaker moves to half-open.
//
// Half-open: up to HalfOpenProbes calls are admitted. Each success counts;
// HalfOpenProbes consecutive successes close the breaker and clear the
// window. Any probe failure re-opens it and restarts the cooldown.
//
// # Usage
//
//	registry := breaker.NewRegistry(breaker.Config{
//	    FailureThreshold: 0.5,
//	    WindowSize:       20,
//	    Cooldown:         30 * time.Second,
//	})
//
//	cb := registry.Get(breaker.KeyEmbeddings)
//	err := cb.Execute(func() error {
//	    return client.Embed(ctx, texts) // guarded call
//	})
//	if errors.Is(err, types.ErrBackendUnavailable) {
//	    // circuit open: fail fast, no retry
//	}
//
// Long-lived calls that outlast a single function invocation (streaming
// sessions) pair Allow with Record instead of using Execute.
//
// # Failure Classification
//
// IsFailure decides what counts against the backend: transient transport
// failures, 5xx responses, and idle timeouts do; caller cancellation and
// dimension mismatches do not. The breaker never retries; retry policy, if
// any, belongs to the caller.
package breaker
