package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning is returned when a refresh is requested for a team whose
// previous run has not finished.
var ErrAlreadyRunning = errors.New("refresh already in progress")

// Runner executes a single team's refresh. Satisfied by *Pipeline.
type Runner interface {
	Run(ctx context.Context, teamID uuid.UUID) error
}

// CoordinatorConfig tunes the Coordinator.
type CoordinatorConfig struct {
	// StaleRunningAfter bounds how long a running status row may sit without
	// an update before startup recovery resets it to idle.
	StaleRunningAfter time.Duration
	// NightlyHour is the UTC hour at which all teams are refreshed.
	NightlyHour int
	// EnableNightly turns the nightly sweep on.
	EnableNightly bool
}

// Coordinator owns run scheduling: it enforces one active refresh per team,
// recovers stale rows left behind by crashed processes, and drives the
// nightly sweep. The per-team guard is an in-process map backed by a
// best-effort read of the durable status row, which keeps a second process
// from piling on without requiring a distributed lock.
type Coordinator struct {
	runner   Runner
	statuses StatusStore
	teams    TeamSource
	clock    clockwork.Clock
	cfg      CoordinatorConfig

	mu     sync.Mutex
	active map[uuid.UUID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires a Coordinator. Start must be called before triggers.
func NewCoordinator(runner Runner, statuses StatusStore, teams TeamSource, clock clockwork.Clock, cfg CoordinatorConfig) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.StaleRunningAfter <= 0 {
		cfg.StaleRunningAfter = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		runner:   runner,
		statuses: statuses,
		teams:    teams,
		clock:    clock,
		cfg:      cfg,
		active:   make(map[uuid.UUID]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start performs startup recovery and, when enabled, launches the nightly
// sweep loop.
func (c *Coordinator) Start(ctx context.Context) error {
	reset, err := c.statuses.ResetStale(ctx, c.cfg.StaleRunningAfter)
	if err != nil {
		return fmt.Errorf("reset stale refresh rows: %w", err)
	}
	if reset > 0 {
		log.Warn().Str("component", "coordinator").Int("count", reset).
			Msg("reset stale running refresh rows to idle")
	}

	if c.cfg.EnableNightly {
		c.wg.Add(1)
		go c.nightlyLoop()
		log.Info().Str("component", "coordinator").Int("hour_utc", c.cfg.NightlyHour).
			Msg("nightly refresh sweep enabled")
	}
	return nil
}

// TriggerOne schedules a refresh for one team. It returns ErrAlreadyRunning
// when a run for the team is already active, either in this process or
// according to the durable status row.
func (c *Coordinator) TriggerOne(ctx context.Context, teamID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[teamID]; ok {
		return ErrAlreadyRunning
	}
	status, err := c.statuses.Get(ctx, teamID)
	if err != nil {
		return fmt.Errorf("read refresh status: %w", err)
	}
	if status.State == StateRunning {
		return ErrAlreadyRunning
	}

	c.active[teamID] = struct{}{}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.active, teamID)
			c.mu.Unlock()
		}()
		if err := c.runner.Run(c.ctx, teamID); err != nil {
			log.Error().Str("component", "coordinator").Str("team_id", teamID.String()).
				Err(err).Msg("scheduled refresh failed")
		}
	}()
	return nil
}

// TriggerAll schedules a refresh for every known team and returns how many
// were scheduled. Teams already running are skipped, not errors.
func (c *Coordinator) TriggerAll(ctx context.Context) (int, error) {
	teamIDs, err := c.teams.TeamIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list teams: %w", err)
	}

	scheduled := 0
	for _, teamID := range teamIDs {
		switch err := c.TriggerOne(ctx, teamID); {
		case err == nil:
			scheduled++
		case errors.Is(err, ErrAlreadyRunning):
			log.Debug().Str("component", "coordinator").Str("team_id", teamID.String()).
				Msg("skipping team, refresh already running")
		default:
			log.Error().Str("component", "coordinator").Str("team_id", teamID.String()).
				Err(err).Msg("failed to schedule refresh")
		}
	}
	log.Info().Str("component", "coordinator").Int("scheduled", scheduled).
		Int("teams", len(teamIDs)).Msg("bulk refresh triggered")
	return scheduled, nil
}

// Shutdown cancels active runs and waits for them, bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) nightlyLoop() {
	defer c.wg.Done()
	for {
		wait := untilNextHour(c.clock.Now().UTC(), c.cfg.NightlyHour)
		select {
		case <-c.ctx.Done():
			return
		case <-c.clock.After(wait):
		}
		if _, err := c.TriggerAll(c.ctx); err != nil {
			log.Error().Str("component", "coordinator").Err(err).
				Msg("nightly refresh sweep failed")
		}
	}
}

// untilNextHour returns the duration until the next occurrence of the given
// UTC hour, always strictly in the future.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
