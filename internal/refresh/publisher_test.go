package refresh

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func runningStatus(teamID uuid.UUID, phase string, progress int) *Status {
	return &Status{
		TeamID:          teamID,
		State:           StateRunning,
		Phase:           phase,
		ProgressPercent: progress,
		UpdatedAt:       time.Now(),
	}
}

func TestPublisher_TypedEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := NewPublisher(clock, 10*time.Second)
	defer pub.Close()

	teamID := uuid.New()
	sub := pub.Subscribe(teamID)
	defer sub.Close()

	pub.Publish(teamID, runningStatus(teamID, "collecting_matches", 5))
	ev := recvEvent(t, sub.C)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, StateRunning, ev.State)
	assert.Equal(t, "collecting_matches", ev.Phase)
	assert.Equal(t, 5, ev.ProgressPercent)

	pub.Publish(teamID, &Status{
		TeamID: teamID, State: StateCompleted, ProgressPercent: 100, UpdatedAt: time.Now(),
	})
	ev = recvEvent(t, sub.C)
	assert.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, 100, ev.ProgressPercent)
}

func TestPublisher_FailureBecomesErrorEvent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := NewPublisher(clock, 10*time.Second)
	defer pub.Close()

	teamID := uuid.New()
	sub := pub.Subscribe(teamID)
	defer sub.Close()

	pub.Publish(teamID, &Status{
		TeamID: teamID, State: StateFailed, ErrorMessage: "roster empty", UpdatedAt: time.Now(),
	})
	ev := recvEvent(t, sub.C)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "roster empty", ev.Error)
}

func TestPublisher_PerTeamIsolation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := NewPublisher(clock, 10*time.Second)
	defer pub.Close()

	teamA, teamB := uuid.New(), uuid.New()
	subA := pub.Subscribe(teamA)
	defer subA.Close()

	pub.Publish(teamB, runningStatus(teamB, "fetching_matches", 40))

	select {
	case ev := <-subA.C:
		t.Fatalf("subscriber for team A received team B's event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublisher_HeartbeatsWhileRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := NewPublisher(clock, 10*time.Second)
	defer pub.Close()

	teamID := uuid.New()
	sub := pub.Subscribe(teamID)
	defer sub.Close()

	pub.Publish(teamID, runningStatus(teamID, "fetching_matches", 45))
	_ = recvEvent(t, sub.C)

	// The heartbeat loop's ticker registers on the fake clock.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	ev := recvEvent(t, sub.C)
	assert.Equal(t, EventHeartbeat, ev.Type)
	assert.Equal(t, "fetching_matches", ev.Phase)
	assert.Equal(t, 45, ev.ProgressPercent)
}

func TestPublisher_TerminalEventResent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := NewPublisher(clock, 10*time.Second)
	defer pub.Close()

	teamID := uuid.New()
	sub := pub.Subscribe(teamID)
	defer sub.Close()

	pub.Publish(teamID, runningStatus(teamID, "player_details", 95))
	_ = recvEvent(t, sub.C)

	pub.Publish(teamID, &Status{
		TeamID: teamID, State: StateCompleted, ProgressPercent: 100, UpdatedAt: time.Now(),
	})

	first := recvEvent(t, sub.C)
	second := recvEvent(t, sub.C)
	assert.Equal(t, EventComplete, first.Type)
	assert.Equal(t, EventComplete, second.Type)
}

func TestPublisher_SinksReceiveEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &recordingSink{}
	pub := NewPublisher(clock, 10*time.Second, sink)
	defer pub.Close()

	teamID := uuid.New()
	pub.Publish(teamID, runningStatus(teamID, "linking_data", 60))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublisher_CloseIsSafe(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := NewPublisher(clock, 10*time.Second)

	teamID := uuid.New()
	sub := pub.Subscribe(teamID)

	pub.Close()
	pub.Close() // idempotent

	_, open := <-sub.C
	assert.False(t, open, "subscription channel left open after Close")

	// Publishing after Close is a no-op, not a panic.
	pub.Publish(teamID, runningStatus(teamID, "collecting_matches", 0))
}
