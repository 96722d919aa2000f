package integration

import (
	"strings"
	"time"

	"github.com/kherrera/ctxrelay-mcp/internal/backend"
	"github.com/kherrera/ctxrelay-mcp/internal/breaker"
	"github.com/kherrera/ctxrelay-mcp/internal/stream"
	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

func (s *PipelineSuite) findSnapshot(name string) breaker.Snapshot {
	for _, snap := range s.registry.Snapshots() {
		if snap.Name == name {
			return snap
		}
	}
	s.Require().FailNow("no breaker snapshot", "name %s", name)
	return breaker.Snapshot{}
}

func (s *PipelineSuite) TestEmbedOutageTripsBreaker() {
	dir := s.writeTree(map[string]string{
		"auth.go":  authSource,
		"store.go": storeSource,
	})

	s.inference.failEmbeds(true)

	stats, err := s.ix.IndexDir(s.ctx, dir)
	s.Require().NoError(err, "per-file failures are reported, not fatal")
	s.Equal(2, stats.SourcesFailed)
	s.Equal(0, stats.SourcesIndexed)
	s.Len(stats.Errors, 2)
	s.Equal(0, s.store.Count(), "failed sources leave no partial records")

	snap := s.findSnapshot("embeddings")
	s.Equal("open", snap.State)

	// While open, another run fails fast without touching the backend.
	calls0, _ := s.inference.embedStats()
	stats, err = s.ix.IndexDir(s.ctx, dir)
	s.Require().NoError(err)
	s.Equal(2, stats.SourcesFailed)
	calls1, _ := s.inference.embedStats()
	s.Equal(calls0, calls1, "open breaker must not reach the backend")

	for _, msg := range stats.Errors {
		s.True(strings.Contains(msg, "backend unavailable"), "got error %q", msg)
	}
}

func (s *PipelineSuite) TestCompletionIdleTimeoutSurfacesPartialTokens() {
	s.inference.setScript(
		step{token: "a"},
		step{token: "b", delay: 500 * time.Millisecond},
	)
	orch, brk := s.newOrchestrator(80*time.Millisecond, breaker.Config{
		FailureThreshold: 0.5,
		WindowSize:       4,
		MinSamples:       1,
		Cooldown:         time.Hour,
		HalfOpenProbes:   1,
	})

	sess, err := orch.StartStream(s.ctx, backend.CompletionRequest{Prompt: "hello"})
	s.Require().NoError(err)

	events := s.drain(sess)
	s.Require().Len(events, 2)
	s.Equal("a", events[0].Token)
	s.Equal(stream.EventError, events[1].Kind)
	s.ErrorIs(events[1].Err, types.ErrSessionTimeout)

	// An idle timeout is a backend failure as far as admission control goes.
	s.Equal(breaker.StateOpen, brk.State())
}

func (s *PipelineSuite) TestCompletionBreakerRecovery() {
	s.inference.failCompletions(true)
	orch, brk := s.newOrchestrator(5*time.Second, breaker.Config{
		FailureThreshold: 0.5,
		WindowSize:       4,
		MinSamples:       1,
		Cooldown:         100 * time.Millisecond,
		HalfOpenProbes:   1,
	})

	// First session dials, gets a 500, and trips the breaker.
	sess, err := orch.StartStream(s.ctx, backend.CompletionRequest{Prompt: "hello"})
	s.Require().NoError(err)
	events := s.drain(sess)
	s.Require().Len(events, 1)
	s.Equal(stream.EventError, events[0].Kind)
	s.Equal(breaker.StateOpen, brk.State())
	dials := s.inference.completionCount()

	// While open, sessions are rejected before any dial.
	sess, err = orch.StartStream(s.ctx, backend.CompletionRequest{Prompt: "hello again"})
	s.Require().NoError(err)
	events = s.drain(sess)
	s.Require().Len(events, 1)
	s.ErrorIs(events[0].Err, types.ErrBackendUnavailable)
	s.Equal(dials, s.inference.completionCount())

	// After the cooldown a healthy probe closes the breaker again.
	s.inference.failCompletions(false)
	s.inference.setScript(step{token: "recovered"})
	time.Sleep(150 * time.Millisecond)

	sess, err = orch.StartStream(s.ctx, backend.CompletionRequest{Prompt: "third time"})
	s.Require().NoError(err)
	events = s.drain(sess)
	s.Require().Len(events, 2)
	s.Equal("recovered", events[0].Token)
	s.Equal(stream.EventDone, events[1].Kind)
	s.Equal(breaker.StateClosed, brk.State())
	s.Equal(dials+1, s.inference.completionCount())
}
