// Package refresh is the team refresh core: the seven-phase pipeline, the
// single-flight coordinator, the durable per-team status row and the progress
// publisher that fans status changes out to observers.
package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a team's refresh.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is the observable snapshot of one team's refresh. Exactly one row
// exists per team once first referenced; it is created lazily as idle/0%.
type Status struct {
	TeamID          uuid.UUID
	State           State
	Phase           string // marker string, empty while idle
	ProgressPercent int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ErrorMessage    string
	UpdatedAt       time.Time
}

// Terminal reports whether the state is final for the current run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Terminal reports whether the status is a final state for the current run.
func (s *Status) Terminal() bool {
	return s.State.Terminal()
}

// StatusUpdate is a partial update applied to a team's status row. Nil fields
// are left untouched. Transition rules are enforced by the store:
// entering running sets started_at and clears completed_at/error_message;
// entering completed or failed sets completed_at.
type StatusUpdate struct {
	State    *State
	Phase    *Marker
	Progress *int
	Error    string
}

// StatusStore persists the per-team refresh status rows. Implementations must
// tolerate concurrent readers with a single writer per team; cross-team
// writes are independent.
type StatusStore interface {
	// Get returns the team's status, creating an idle row on first reference.
	Get(ctx context.Context, teamID uuid.UUID) (*Status, error)
	// Update applies a partial update and returns the resulting snapshot.
	Update(ctx context.Context, teamID uuid.UUID, upd StatusUpdate) (*Status, error)
	// ResetStale forces rows stuck in running longer than olderThan back to
	// idle/0%/no error. Called once at process start; it is the only crash
	// recovery mechanism.
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)
}

func statePtr(s State) *State    { return &s }
func intPtr(n int) *int          { return &n }
func markerPtr(m Marker) *Marker { return &m }
