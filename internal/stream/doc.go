// Package stream orchestrates streaming completion sessions against an
// inference backend, with circuit breaker protection and strict delivery
// semantics.
//
// # Sessions
//
// StartStream returns a Session whose Events channel carries tokens in
// backend arrival order followed by exactly one terminal event (done, error,
// or cancelled). The channel closes after the terminal event; consumers drain
// until close:
//
//	sess, err := orch.StartStream(ctx, backend.CompletionRequest{Prompt: prompt})
//	if err != nil {
//		return err
//	}
//	for ev := range sess.Events() {
//		switch ev.Kind {
//		case stream.EventToken:
//			sink.Write(ev.Token)
//		case stream.EventError:
//			return ev.Err
//		}
//	}
//
// A session is returned even when the backend is unreachable: breaker
// rejections and dial failures produce a session already carrying its
// terminal error event. Callers react to outcomes by consuming events, so
// the handling path is identical whether the failure happened before or
// during the stream.
//
// # Cancellation
//
// Cancel stops a session and blocks until its producer goroutine has
// stopped. Once Cancel returns, no further token can be delivered; the
// consumer sees a terminal cancelled event and then channel close. Token
// delivery is a rendezvous on an unbuffered channel, so there is no buffer
// that could surface stale tokens after cancellation.
//
// # Timeouts
//
// A session that receives no token within the configured idle window ends
// with a terminal timeout error. Timeouts count as backend failures with the
// circuit breaker; cancellations do not.
//
// # Circuit Breaker
//
// The breaker is consulted before any dial. An open breaker fast-fails the
// session with types.ErrBackendUnavailable and the backend is never touched.
// Each admitted session records its outcome with the breaker exactly once,
// at the terminal event.
package stream
