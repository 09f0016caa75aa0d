package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner parks every run until released, counting starts.
type blockingRunner struct {
	mu      sync.Mutex
	starts  int
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, teamID uuid.UUID) error {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

func (r *blockingRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type staticTeams struct {
	ids []uuid.UUID
}

func (s staticTeams) TeamIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.ids, nil
}

func TestTriggerOne_SingleFlightPerTeam(t *testing.T) {
	runner := newBlockingRunner()
	statuses := newMemStatusStore()
	teamID := uuid.New()
	c := NewCoordinator(runner, statuses, staticTeams{}, clockwork.NewFakeClock(), CoordinatorConfig{})

	require.NoError(t, c.TriggerOne(context.Background(), teamID))
	assert.ErrorIs(t, c.TriggerOne(context.Background(), teamID), ErrAlreadyRunning)

	// A different team is unaffected.
	require.NoError(t, c.TriggerOne(context.Background(), uuid.New()))

	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 2, runner.startCount())
}

func TestTriggerOne_AllowedAgainAfterCompletion(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release) // runs finish immediately
	statuses := newMemStatusStore()
	teamID := uuid.New()
	c := NewCoordinator(runner, statuses, staticTeams{}, clockwork.NewFakeClock(), CoordinatorConfig{})

	require.NoError(t, c.TriggerOne(context.Background(), teamID))

	// Once the first run finishes, the team can be triggered again.
	require.Eventually(t, func() bool {
		return c.TriggerOne(context.Background(), teamID) == nil
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}

func TestTriggerOne_RespectsDurableRunningRow(t *testing.T) {
	runner := newBlockingRunner()
	statuses := newMemStatusStore()
	teamID := uuid.New()

	// Another process owns this run, visible only through the status row.
	_, err := statuses.Update(context.Background(), teamID, StatusUpdate{State: statePtr(StateRunning)})
	require.NoError(t, err)

	c := NewCoordinator(runner, statuses, staticTeams{}, clockwork.NewFakeClock(), CoordinatorConfig{})
	assert.ErrorIs(t, c.TriggerOne(context.Background(), teamID), ErrAlreadyRunning)
	assert.Equal(t, 0, runner.startCount())
}

func TestTriggerAll_SkipsRunningTeams(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	statuses := newMemStatusStore()

	teams := staticTeams{ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}}
	_, err := statuses.Update(context.Background(), teams.ids[1], StatusUpdate{State: statePtr(StateRunning)})
	require.NoError(t, err)

	c := NewCoordinator(runner, statuses, teams, clockwork.NewFakeClock(), CoordinatorConfig{})
	scheduled, err := c.TriggerAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, scheduled)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 2, runner.startCount())
}

func TestStart_ResetsStaleRunningRows(t *testing.T) {
	statuses := newMemStatusStore()
	teamID := uuid.New()
	statuses.statuses[teamID] = &Status{
		TeamID:          teamID,
		State:           StateRunning,
		Phase:           "fetching_matches",
		ProgressPercent: 40,
		UpdatedAt:       time.Now().Add(-10 * time.Minute),
	}

	c := NewCoordinator(newBlockingRunner(), statuses, staticTeams{}, clockwork.NewFakeClock(), CoordinatorConfig{
		StaleRunningAfter: 5 * time.Minute,
	})
	require.NoError(t, c.Start(context.Background()))

	st := statuses.current(teamID)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 0, st.ProgressPercent)
	assert.Empty(t, st.Phase)
}

func TestNightlyLoop_TriggersAtConfiguredHour(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	statuses := newMemStatusStore()
	teams := staticTeams{ids: []uuid.UUID{uuid.New(), uuid.New()}}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))
	c := NewCoordinator(runner, statuses, teams, clock, CoordinatorConfig{
		NightlyHour:   4,
		EnableNightly: true,
	})
	require.NoError(t, c.Start(context.Background()))

	// The loop sleeps until 04:00 UTC.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Hour)

	require.Eventually(t, func() bool {
		return runner.startCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}

func TestUntilNextHour(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	assert.Equal(t, 90*time.Minute, untilNextHour(now, 4))

	// At or past the hour rolls to tomorrow.
	at := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, 24*time.Hour, untilNextHour(at, 4))
}
