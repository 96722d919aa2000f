package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

var errBoom = errors.New("boom")

// fakeClock makes cooldown transitions deterministic
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New("test", cfg)
	clock := newFakeClock()
	b.now = clock.now
	return b, clock
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
}

func succeedN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(func() error { return nil })
	}
}

func TestBreakerTripsAndRejectsWithoutInvocation(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       20,
		MinSamples:       5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   3,
	})

	failN(b, 10)
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBackendUnavailable))
	assert.False(t, invoked, "open breaker must not invoke the guarded call")
}

func TestBreakerExactThresholdIsSufficient(t *testing.T) {
	// 50% exactly must trip: the comparison is >=, not >
	b, _ := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       10,
		Cooldown:         time.Second,
		HalfOpenProbes:   1,
	})

	failN(b, 5)
	require.Equal(t, StateClosed, b.State(), "below min samples, must stay closed")

	succeedN(b, 5)
	assert.Equal(t, StateOpen, b.State(), "5/10 failures meets the threshold exactly")
}

func TestBreakerMinSamplesGuard(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       20,
		MinSamples:       5,
	})

	failN(b, 4)
	assert.Equal(t, StateClosed, b.State(), "4 samples is below the evaluation floor")

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   3,
	})

	failN(b, 5)
	require.Equal(t, StateOpen, b.State())

	// Still inside the cooldown: rejected
	err := b.Execute(func() error { return nil })
	require.ErrorIs(t, err, types.ErrBackendUnavailable)

	clock.advance(30 * time.Second)

	// Three consecutive probe successes close the breaker
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	require.Equal(t, StateClosed, b.State())

	// Window was reset on close: old failures no longer count
	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerProbeFailureReopensAndRestartsCooldown(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   3,
	})

	failN(b, 5)
	require.Equal(t, StateOpen, b.State())

	clock.advance(30 * time.Second)

	// Two good probes, then one bad one
	require.NoError(t, b.Execute(func() error { return nil }))
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	// The cooldown restarted at the probe failure
	clock.advance(15 * time.Second)
	err := b.Execute(func() error { return nil })
	require.ErrorIs(t, err, types.ErrBackendUnavailable)

	clock.advance(15 * time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       5,
		Cooldown:         time.Second,
		HalfOpenProbes:   2,
	})

	failN(b, 5)
	clock.advance(time.Second)

	// Admit two probes without completing them
	require.NoError(t, b.Allow())
	require.NoError(t, b.Allow())

	// Third concurrent probe exceeds the budget
	err := b.Allow()
	require.ErrorIs(t, err, types.ErrBackendUnavailable)

	b.Record(nil)
	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRollingWindowEvictsOldOutcomes(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 0.9,
		WindowSize:       3,
		MinSamples:       3,
	})

	// Failures keep sliding out of the 3-wide window before the ratio
	// reaches 90%
	failN(b, 1)
	succeedN(b, 1)
	failN(b, 1)
	succeedN(b, 1)
	failN(b, 1)
	succeedN(b, 1)

	assert.Equal(t, StateClosed, b.State())

	failN(b, 3)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		failure bool
	}{
		{"nil is success", nil, false},
		{"generic error counts", errBoom, true},
		{"transient counts", types.ErrBackendTransient, true},
		{"idle timeout counts", types.ErrSessionTimeout, true},
		{"cancellation does not count", types.ErrSessionCancelled, false},
		{"dimension mismatch does not count", types.ErrDimensionMismatch, false},
		{"nested rejection does not count", types.ErrBackendUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.failure, IsFailure(tt.err))
		})
	}
}

func TestBreakerCancellationsNeverTrip(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       5,
	})

	for i := 0; i < 20; i++ {
		_ = b.Execute(func() error { return types.ErrSessionCancelled })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerStateChangeObserver(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	b, clock := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       5,
		Cooldown:         time.Second,
		HalfOpenProbes:   1,
	})
	b.OnStateChange(func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+">"+to.String())
	})

	failN(b, 5)
	clock.advance(time.Second)
	succeedN(b, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreakerConcurrentExecutes(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 0.5,
		WindowSize:       100,
		MinSamples:       100,
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			_ = b.Execute(func() error {
				if fail {
					return errBoom
				}
				return nil
			})
		}(i%2 == 0)
	}
	wg.Wait()

	snap := b.Snapshot()
	assert.Equal(t, 50, snap.WindowSamples)
	assert.Equal(t, 25, snap.WindowFailures)
	assert.Equal(t, StateClosed, b.State())
}

func TestRegistryKeysAreIndependent(t *testing.T) {
	registry := NewRegistry(Config{
		FailureThreshold: 0.5,
		WindowSize:       10,
		MinSamples:       5,
	})

	embeddings := registry.Get(KeyEmbeddings)
	completion := registry.Get(KeyCompletion)
	require.NotSame(t, embeddings, completion)
	assert.Equal(t, KeyEmbeddings, embeddings.Name())

	failN(embeddings, 5)
	require.Equal(t, StateOpen, embeddings.State())

	// Completion admission is unaffected by the embeddings trip
	require.NoError(t, completion.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, completion.State())

	// Get returns the same instance per key
	assert.Same(t, embeddings, registry.Get(KeyEmbeddings))
}

func TestRegistrySnapshots(t *testing.T) {
	registry := NewRegistry(Config{})
	registry.Get(KeyCompletion)
	registry.Get(KeyEmbeddings)

	snaps := registry.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, KeyCompletion, snaps[0].Name)
	assert.Equal(t, KeyEmbeddings, snaps[1].Name)
	assert.Equal(t, "closed", snaps[0].State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
