package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Breaker keys for the two backend dependencies
const (
	KeyEmbeddings = "embeddings"
	KeyCompletion = "completion"
)

// Default thresholds
const (
	DefaultFailureThreshold = 0.5
	DefaultWindowSize       = 20
	DefaultMinSamples       = 5
	DefaultCooldown         = 30 * time.Second
	DefaultHalfOpenProbes   = 3
)

// State is the breaker's position in its lifecycle
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker thresholds
type Config struct {
	// FailureThreshold is the failures/sampled ratio that trips the breaker.
	// Meeting the threshold is sufficient: the comparison is >=.
	FailureThreshold float64

	// WindowSize is the number of most recent call outcomes tracked
	WindowSize int

	// MinSamples is the number of recorded outcomes required before the
	// failure ratio is evaluated at all
	MinSamples int

	// Cooldown is how long an open breaker rejects calls before probing
	Cooldown time.Duration

	// HalfOpenProbes is the number of consecutive probe successes required
	// to close the breaker; it also caps concurrent half-open admissions
	HalfOpenProbes int
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.MinSamples > c.WindowSize {
		c.MinSamples = c.WindowSize
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = DefaultHalfOpenProbes
	}
}

// IsFailure reports whether an error counts toward the failure tally.
// Cancellation is a normal terminal state and dimension mismatches are local
// misconfiguration; neither says anything about backend health. A rejection
// from a nested breaker is likewise not a fresh observation.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrSessionCancelled) {
		return false
	}
	if errors.Is(err, types.ErrDimensionMismatch) {
		return false
	}
	if errors.Is(err, types.ErrBackendUnavailable) {
		return false
	}
	return true
}

// Breaker guards calls to one backend dependency with a closed/open/half-open
// state machine. Closed passes calls through while tracking outcomes in a
// rolling window; when the window failure ratio meets the threshold it opens
// and rejects calls without any network attempt. After the cooldown the first
// caller is admitted as a probe (half-open); consecutive probe successes
// close the breaker, any probe failure re-opens it and restarts the cooldown.
//
// All bookkeeping is O(1) per call under the breaker's own mutex; the guarded
// call itself runs outside the lock.
type Breaker struct {
	name   string
	config Config

	mu             sync.Mutex
	state          State
	window         []bool // ring of outcomes, true = failure
	windowPos      int
	windowCount    int
	windowFailures int
	openedAt       time.Time
	probeSuccesses int
	probesInFlight int

	// now is the clock; replaced in tests for deterministic cooldowns
	now func() time.Time

	// onStateChange fires synchronously under the breaker lock. Keep the
	// callback cheap and never call back into the breaker from it.
	onStateChange func(name string, from, to State)
}

// New creates a breaker for the named dependency
func New(name string, cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		name:   name,
		config: cfg,
		state:  StateClosed,
		window: make([]bool, cfg.WindowSize),
		now:    time.Now,
	}
}

// OnStateChange registers a transition observer. Must be set before the
// breaker is shared across goroutines.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.onStateChange = fn
}

// Name returns the dependency key this breaker guards
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn under the breaker's admission control. If the breaker is
// open the call is rejected with types.ErrBackendUnavailable and fn is never
// invoked. The breaker never retries; retry policy belongs to the caller.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// Allow performs admission control without running a call. Callers that
// manage their own call lifecycle pair it with Record.
func (b *Breaker) Allow() error {
	return b.allow()
}

// Record reports the outcome of a call previously admitted by Allow
func (b *Breaker) Record(err error) {
	b.record(err)
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.Cooldown {
			b.transition(StateHalfOpen)
			b.probeSuccesses = 0
			b.probesInFlight = 1 // this caller is the first probe
			return nil
		}
		return fmt.Errorf("%w: %s", types.ErrBackendUnavailable, b.name)

	case StateHalfOpen:
		if b.probesInFlight+b.probeSuccesses >= b.config.HalfOpenProbes {
			return fmt.Errorf("%w: %s: probe budget exhausted", types.ErrBackendUnavailable, b.name)
		}
		b.probesInFlight++
		return nil
	}

	return nil
}

func (b *Breaker) record(err error) {
	failure := IsFailure(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.push(failure)
		if b.shouldTrip() {
			b.openedAt = b.now()
			b.probeSuccesses = 0
			b.probesInFlight = 0
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		if failure {
			// One bad probe re-opens the breaker and restarts the cooldown
			b.openedAt = b.now()
			b.probeSuccesses = 0
			b.probesInFlight = 0
			b.transition(StateOpen)
			return
		}
		b.probeSuccesses++
		if b.probeSuccesses >= b.config.HalfOpenProbes {
			b.resetWindow()
			b.probeSuccesses = 0
			b.transition(StateClosed)
		}

	case StateOpen:
		// A call admitted earlier may complete after a concurrent outcome
		// already moved the breaker to open; its result is stale
	}
}

// push records one outcome in the rolling window, evicting the oldest
func (b *Breaker) push(failure bool) {
	if b.windowCount == len(b.window) {
		if b.window[b.windowPos] {
			b.windowFailures--
		}
	} else {
		b.windowCount++
	}

	b.window[b.windowPos] = failure
	if failure {
		b.windowFailures++
	}
	b.windowPos = (b.windowPos + 1) % len(b.window)
}

func (b *Breaker) shouldTrip() bool {
	if b.windowCount < b.config.MinSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowCount) >= b.config.FailureThreshold
}

func (b *Breaker) resetWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.windowPos = 0
	b.windowCount = 0
	b.windowFailures = 0
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// State returns the current breaker state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of breaker internals for status reporting
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	WindowSamples  int       `json:"window_samples"`
	WindowFailures int       `json:"window_failures"`
	ProbeSuccesses int       `json:"probe_successes"`
	OpenedAt       time.Time `json:"opened_at,omitzero"`
}

// Snapshot captures the breaker's current state for observability
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:           b.name,
		State:          b.state.String(),
		WindowSamples:  b.windowCount,
		WindowFailures: b.windowFailures,
		ProbeSuccesses: b.probeSuccesses,
	}
	if b.state != StateClosed {
		snap.OpenedAt = b.openedAt
	}
	return snap
}
