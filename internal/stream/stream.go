package stream

import (
	"context"
	"time"
)

// EventKind tags a session event
type EventKind int

const (
	// EventToken carries one streamed token
	EventToken EventKind = iota

	// EventDone marks normal completion; the backend finished the response
	EventDone

	// EventError marks an abnormal terminal state for the session
	EventError

	// EventCancelled marks caller-requested termination
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event is one session occurrence. Token events carry Token; Error and
// Cancelled events carry Err. Exactly one terminal event ends each session,
// after which the events channel closes.
type Event struct {
	Kind  EventKind
	Token string
	Err   error
}

// Terminal reports whether the event ends its session
func (e Event) Terminal() bool {
	return e.Kind != EventToken
}

// Session is one streaming completion in flight. The Events channel is
// unbuffered: a token is delivered at the instant the consumer receives it,
// which is what makes the cancellation guarantee exact. Consumers must drain
// Events until it closes.
type Session struct {
	ID        string
	CreatedAt time.Time

	events chan Event

	// done closes when the pump has stopped producing; after that no token
	// can ever be delivered. Cancel waits on it.
	done   chan struct{}
	cancel context.CancelFunc
}

// Events returns the session's event stream
func (s *Session) Events() <-chan Event {
	return s.events
}
