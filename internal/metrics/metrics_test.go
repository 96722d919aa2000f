package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderBackendAggregation(t *testing.T) {
	r := NewRecorder()

	r.ObserveBackendCall(OpEmbed, 100*time.Millisecond, nil)
	r.ObserveBackendCall(OpEmbed, 300*time.Millisecond, errors.New("boom"))
	r.ObserveBackendCall(OpComplete, 2*time.Second, nil)

	s := r.Summary()

	embed := s.Backend[OpEmbed]
	assert.Equal(t, int64(2), embed.Calls)
	assert.Equal(t, int64(1), embed.Errors)
	assert.Equal(t, 200*time.Millisecond, embed.AvgLatency)
	assert.Equal(t, 300*time.Millisecond, embed.MaxLatency)

	complete := s.Backend[OpComplete]
	assert.Equal(t, int64(1), complete.Calls)
	assert.Equal(t, int64(0), complete.Errors)
}

func TestRecorderSessionsAndQueries(t *testing.T) {
	r := NewRecorder()

	r.ObserveSessionStart()
	r.ObserveSessionStart()
	r.ObserveSessionEnd(OutcomeCompleted, 42, 3*time.Second)
	r.ObserveSessionEnd(OutcomeCancelled, 3, time.Second)

	r.ObserveSelection(20*time.Millisecond, 15, 5)
	r.ObserveSelection(40*time.Millisecond, 0, 0)

	r.ObserveCache(true)
	r.ObserveCache(false)
	r.ObserveCache(true)

	s := r.Summary()
	assert.Equal(t, int64(2), s.SessionsStarted)
	assert.Equal(t, int64(1), s.SessionsEnded[OutcomeCompleted])
	assert.Equal(t, int64(1), s.SessionsEnded[OutcomeCancelled])
	assert.Equal(t, int64(45), s.TokensDelivered)
	assert.Equal(t, 2*time.Second, s.SessionAvgDuration)
	assert.Equal(t, 3*time.Second, s.SessionMaxDuration)
	assert.Equal(t, int64(2), s.Queries)
	assert.Equal(t, int64(1), s.EmptyBundles)
	assert.Equal(t, int64(15), s.CandidatesFetched)
	assert.Equal(t, 30*time.Millisecond, s.SelectionAvgLatency)
	assert.Equal(t, 40*time.Millisecond, s.SelectionMaxLatency)
	assert.Equal(t, int64(2), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
}

func TestRecorderBreakerTransitions(t *testing.T) {
	r := NewRecorder()

	r.ObserveBreakerTransition("embeddings", "closed", "open")
	r.ObserveBreakerTransition("embeddings", "open", "half-open")
	r.ObserveBreakerTransition("embeddings", "half-open", "closed")
	r.ObserveBreakerTransition("embeddings", "closed", "open")

	s := r.Summary()
	assert.Equal(t, int64(2), s.BreakerTransitions["embeddings:closed>open"])
	assert.Equal(t, "open", s.BreakerStates["embeddings"])
}

func TestRecorderReset(t *testing.T) {
	r := NewRecorder()
	r.ObserveSessionStart()
	r.ObserveBackendCall(OpEmbed, time.Millisecond, nil)

	r.Reset()

	s := r.Summary()
	assert.Equal(t, int64(0), s.SessionsStarted)
	assert.Empty(t, s.Backend)
}

func TestRecorderConcurrentAccess(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ObserveSessionStart()
			r.ObserveBackendCall(OpEmbed, time.Millisecond, nil)
			r.ObserveCache(true)
			_ = r.Summary()
		}()
	}
	wg.Wait()

	s := r.Summary()
	require.Equal(t, int64(20), s.SessionsStarted)
	require.Equal(t, int64(20), s.Backend[OpEmbed].Calls)
}
