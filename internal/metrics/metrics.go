package metrics

import (
	"sync"
	"time"
)

// Backend operation names
const (
	OpEmbed    = "embed"
	OpComplete = "complete"
)

// Session outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeTimedOut  = "timed_out"
	OutcomeErrored   = "errored"
	OutcomeRejected  = "rejected"
)

// OpStats aggregates latency and error counts for one backend operation
type OpStats struct {
	Calls      int64         `json:"calls"`
	Errors     int64         `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

type opAggregate struct {
	calls     int64
	errors    int64
	totalTime time.Duration
	maxTime   time.Duration
}

// Summary is a point-in-time aggregation of everything the recorder has seen
type Summary struct {
	Backend map[string]OpStats `json:"backend"`

	SessionsStarted    int64            `json:"sessions_started"`
	SessionsEnded      map[string]int64 `json:"sessions_ended"`
	TokensDelivered    int64            `json:"tokens_delivered"`
	SessionAvgDuration time.Duration    `json:"session_avg_duration"`
	SessionMaxDuration time.Duration    `json:"session_max_duration"`

	Queries             int64         `json:"queries"`
	EmptyBundles        int64         `json:"empty_bundles"`
	CandidatesFetched   int64         `json:"candidates_fetched"`
	SelectionAvgLatency time.Duration `json:"selection_avg_latency"`
	SelectionMaxLatency time.Duration `json:"selection_max_latency"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	BreakerTransitions map[string]int64  `json:"breaker_transitions"`
	BreakerStates      map[string]string `json:"breaker_states"`
}

// Recorder is a passive observer attached to the circuit breakers, the
// embedder, the selector, and the stream orchestrator. It aggregates counts
// and latencies under one mutex; recording is O(1) so observed code paths
// never stall on instrumentation.
type Recorder struct {
	mu sync.Mutex

	backend map[string]*opAggregate

	sessionsStarted int64
	sessionsEnded   map[string]int64
	sessionsEndedN  int64
	tokensDelivered int64
	sessionTotal    time.Duration
	sessionMax      time.Duration

	queries           int64
	emptyBundles      int64
	candidatesFetched int64
	selectTotal       time.Duration
	selectMax         time.Duration

	cacheHits   int64
	cacheMisses int64

	breakerTransitions map[string]int64
	breakerStates      map[string]string
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		backend:            make(map[string]*opAggregate),
		sessionsEnded:      make(map[string]int64),
		breakerTransitions: make(map[string]int64),
		breakerStates:      make(map[string]string),
	}
}

// ObserveBackendCall records one guarded backend round trip
func (r *Recorder) ObserveBackendCall(op string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.backend[op]
	if !ok {
		agg = &opAggregate{}
		r.backend[op] = agg
	}

	agg.calls++
	agg.totalTime += d
	if d > agg.maxTime {
		agg.maxTime = d
	}
	if err != nil {
		agg.errors++
	}
}

// ObserveBreakerTransition records a breaker state change
func (r *Recorder) ObserveBreakerTransition(name, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.breakerTransitions[name+":"+from+">"+to]++
	r.breakerStates[name] = to
}

// ObserveSessionStart records a streaming session admission
func (r *Recorder) ObserveSessionStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionsStarted++
}

// ObserveSessionEnd records a session's terminal outcome, how many tokens it
// delivered, and how long it lived
func (r *Recorder) ObserveSessionEnd(outcome string, tokens int64, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionsEnded[outcome]++
	r.sessionsEndedN++
	r.tokensDelivered += tokens
	r.sessionTotal += d
	if d > r.sessionMax {
		r.sessionMax = d
	}
}

// ObserveSelection records one context selection pass
func (r *Recorder) ObserveSelection(d time.Duration, candidates, selected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	r.candidatesFetched += int64(candidates)
	if selected == 0 {
		r.emptyBundles++
	}
	r.selectTotal += d
	if d > r.selectMax {
		r.selectMax = d
	}
}

// ObserveCache records an embedding cache lookup
func (r *Recorder) ObserveCache(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}

// Summary computes an aggregated snapshot of all recorded activity
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Backend:             make(map[string]OpStats, len(r.backend)),
		SessionsStarted:     r.sessionsStarted,
		SessionsEnded:       make(map[string]int64, len(r.sessionsEnded)),
		TokensDelivered:     r.tokensDelivered,
		SessionMaxDuration:  r.sessionMax,
		Queries:             r.queries,
		EmptyBundles:        r.emptyBundles,
		CandidatesFetched:   r.candidatesFetched,
		SelectionMaxLatency: r.selectMax,
		CacheHits:           r.cacheHits,
		CacheMisses:         r.cacheMisses,
		BreakerTransitions:  make(map[string]int64, len(r.breakerTransitions)),
		BreakerStates:       make(map[string]string, len(r.breakerStates)),
	}
	if r.queries > 0 {
		s.SelectionAvgLatency = r.selectTotal / time.Duration(r.queries)
	}
	if r.sessionsEndedN > 0 {
		s.SessionAvgDuration = r.sessionTotal / time.Duration(r.sessionsEndedN)
	}

	for op, agg := range r.backend {
		stats := OpStats{
			Calls:      agg.calls,
			Errors:     agg.errors,
			MaxLatency: agg.maxTime,
		}
		if agg.calls > 0 {
			stats.AvgLatency = agg.totalTime / time.Duration(agg.calls)
		}
		s.Backend[op] = stats
	}
	for k, v := range r.sessionsEnded {
		s.SessionsEnded[k] = v
	}
	for k, v := range r.breakerTransitions {
		s.BreakerTransitions[k] = v
	}
	for k, v := range r.breakerStates {
		s.BreakerStates[k] = v
	}

	return s
}

// Reset clears all recorded metrics
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backend = make(map[string]*opAggregate)
	r.sessionsStarted = 0
	r.sessionsEnded = make(map[string]int64)
	r.sessionsEndedN = 0
	r.tokensDelivered = 0
	r.sessionTotal = 0
	r.sessionMax = 0
	r.queries = 0
	r.emptyBundles = 0
	r.candidatesFetched = 0
	r.selectTotal = 0
	r.selectMax = 0
	r.cacheHits = 0
	r.cacheMisses = 0
	r.breakerTransitions = make(map[string]int64)
	r.breakerStates = make(map[string]string)
}
