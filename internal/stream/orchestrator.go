package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kherrera/ctxrelay-mcp/internal/backend"
	"github.com/kherrera/ctxrelay-mcp/internal/breaker"
	"github.com/kherrera/ctxrelay-mcp/internal/metrics"
	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// DefaultIdleTimeout bounds the wait for the next backend token
const DefaultIdleTimeout = 30 * time.Second

var (
	// ErrEmptyPrompt rejects completion requests with no prompt text
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrClosed rejects new sessions after Close
	ErrClosed = errors.New("stream orchestrator is closed")
)

// Config tunes the orchestrator
type Config struct {
	// IdleTimeout is the longest the orchestrator waits for the next token
	// from the backend before it times the session out. Zero selects the
	// default.
	IdleTimeout time.Duration
}

func (c Config) applyDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Orchestrator runs streaming completion sessions against a backend guarded
// by a circuit breaker.
//
// Every admission decision goes through the breaker before any network
// activity: when the breaker is open, StartStream returns a session that is
// already terminal with a single error event and the backend is never
// dialled. Each session's outcome is recorded with the breaker once, when the
// session ends; a cancelled session records as a non-failure sample so that
// caller-initiated teardown never trips the breaker and never strands a
// half-open probe slot.
type Orchestrator struct {
	cfg      Config
	client   backend.Client
	brk      *breaker.Breaker
	recorder *metrics.Recorder

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	// shutdown unblocks terminal-event delivery to consumers that are gone
	shutdown chan struct{}
}

// NewOrchestrator wires a streaming orchestrator. The recorder may be nil.
func NewOrchestrator(cfg Config, client backend.Client, brk *breaker.Breaker, recorder *metrics.Recorder) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("stream: backend client is required")
	}
	if brk == nil {
		return nil, errors.New("stream: circuit breaker is required")
	}
	return &Orchestrator{
		cfg:      cfg.applyDefaults(),
		client:   client,
		brk:      brk,
		recorder: recorder,
		sessions: make(map[string]*Session),
		shutdown: make(chan struct{}),
	}, nil
}

// StartStream begins a streaming completion session.
//
// The returned session is valid even when the backend cannot be reached: a
// rejected or failed-to-dial session is returned with nil error and delivers
// exactly one terminal error event. The caller distinguishes outcomes by
// consuming events, not by inspecting the return value.
//
// Tokens are delivered on the session's Events channel in backend arrival
// order. The channel closes after the terminal event.
func (o *Orchestrator) StartStream(ctx context.Context, req backend.CompletionRequest) (*Session, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		events:    make(chan Event),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	if req.RequestID == "" {
		req.RequestID = sess.ID
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	o.sessions[sess.ID] = sess
	o.mu.Unlock()

	if o.recorder != nil {
		o.recorder.ObserveSessionStart()
	}

	// Admission happens before any dial. A rejected Allow carries no breaker
	// bookkeeping, so nothing is recorded for it.
	if err := o.brk.Allow(); err != nil {
		go o.finish(sess, Event{Kind: EventError, Err: err}, metrics.OutcomeRejected, 0, nil, false)
		return sess, nil
	}

	dialStart := time.Now()
	deltas, err := o.client.CompleteStream(streamCtx, req)
	if o.recorder != nil {
		o.recorder.ObserveBackendCall(metrics.OpComplete, time.Since(dialStart), err)
	}
	if err != nil {
		go o.finish(sess, Event{Kind: EventError, Err: err}, metrics.OutcomeErrored, 0, err, true)
		return sess, nil
	}

	go o.pump(streamCtx, sess, deltas)
	return sess, nil
}

// Cancel terminates a session. It returns types.ErrNotFound when the session
// does not exist or has already ended. When Cancel returns nil, the session's
// producer has stopped: no token will be delivered after this point, only the
// terminal cancelled event followed by channel close.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	sess.cancel()
	<-sess.done
	return nil
}

// Count reports the number of sessions currently in flight
func (o *Orchestrator) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Close cancels every in-flight session and rejects new ones. It returns
// after all session producers have stopped.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	active := make([]*Session, 0, len(o.sessions))
	for _, sess := range o.sessions {
		active = append(active, sess)
	}
	o.mu.Unlock()

	close(o.shutdown)
	for _, sess := range active {
		sess.cancel()
	}
	for _, sess := range active {
		<-sess.done
	}
	return nil
}

// pump is the single producer for one session. It owns every send on the
// session's events channel and calls finish exactly once.
func (o *Orchestrator) pump(ctx context.Context, sess *Session, deltas <-chan backend.Delta) {
	idle := time.NewTimer(o.cfg.IdleTimeout)
	defer idle.Stop()

	var tokens int64
	for {
		select {
		case <-ctx.Done():
			o.finish(sess, Event{Kind: EventCancelled, Err: types.ErrSessionCancelled},
				metrics.OutcomeCancelled, tokens, types.ErrSessionCancelled, true)
			return

		case <-idle.C:
			err := fmt.Errorf("%w: no token within %s", types.ErrSessionTimeout, o.cfg.IdleTimeout)
			o.finish(sess, Event{Kind: EventError, Err: err},
				metrics.OutcomeTimedOut, tokens, err, true)
			return

		case d, ok := <-deltas:
			if !ok {
				err := fmt.Errorf("%w: stream ended without a terminal event", types.ErrBackendTransient)
				o.finish(sess, Event{Kind: EventError, Err: err},
					metrics.OutcomeErrored, tokens, err, true)
				return
			}
			switch {
			case d.Err != nil:
				o.finish(sess, Event{Kind: EventError, Err: d.Err},
					metrics.OutcomeErrored, tokens, d.Err, true)
				return
			case d.Done:
				o.finish(sess, Event{Kind: EventDone},
					metrics.OutcomeCompleted, tokens, nil, true)
				return
			default:
				select {
				case sess.events <- Event{Kind: EventToken, Token: d.Token}:
					tokens++
					idle.Reset(o.cfg.IdleTimeout)
				case <-ctx.Done():
					o.finish(sess, Event{Kind: EventCancelled, Err: types.ErrSessionCancelled},
						metrics.OutcomeCancelled, tokens, types.ErrSessionCancelled, true)
					return
				}
			}
		}
	}
}

// finish ends a session: it stops the producer, removes the session from the
// registry, records the breaker outcome, then delivers the terminal event and
// closes the events channel.
//
// done closes before the terminal event is sent. That ordering is the
// cancellation guarantee: Cancel waits on done, so by the time Cancel returns
// the producer can no longer send tokens, yet a draining consumer still
// receives the terminal event without deadlocking the canceller.
func (o *Orchestrator) finish(sess *Session, ev Event, outcome string, tokens int64, recordErr error, record bool) {
	sess.cancel()
	close(sess.done)

	o.mu.Lock()
	delete(o.sessions, sess.ID)
	o.mu.Unlock()

	if record {
		o.brk.Record(recordErr)
	}
	if o.recorder != nil {
		o.recorder.ObserveSessionEnd(outcome, tokens, time.Since(sess.CreatedAt))
	}

	select {
	case sess.events <- ev:
	case <-o.shutdown:
	}
	close(sess.events)
}
