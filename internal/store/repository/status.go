package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lolevel/thunderclap/internal/refresh"
	"github.com/Lolevel/thunderclap/internal/store"
)

// StatusRepository persists the per-team refresh status rows. It satisfies
// refresh.StatusStore and enforces the lifecycle transition rules in SQL, so
// every writer path hits the same behavior.
type StatusRepository struct {
	db *store.Database
}

// NewStatusRepository creates a new status repository.
func NewStatusRepository(db *store.Database) *StatusRepository {
	return &StatusRepository{db: db}
}

var _ refresh.StatusStore = (*StatusRepository)(nil)

const statusColumns = `team_id, status, phase, progress_percent, started_at, completed_at, error_message, updated_at`

// Get returns the team's status, creating an idle row on first reference.
func (r *StatusRepository) Get(ctx context.Context, teamID uuid.UUID) (*refresh.Status, error) {
	if err := r.ensureRow(ctx, teamID); err != nil {
		return nil, err
	}

	row := r.db.DB().QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM team_refresh_status WHERE team_id = $1`,
		teamID,
	)
	return scanStatus(row)
}

// Update applies a partial update and returns the resulting snapshot: state
// transitions adjust the timestamp columns, a running transition clears the
// previous run's outcome.
func (r *StatusRepository) Update(ctx context.Context, teamID uuid.UUID, upd refresh.StatusUpdate) (*refresh.Status, error) {
	if err := r.ensureRow(ctx, teamID); err != nil {
		return nil, err
	}

	set := "updated_at = NOW()"
	args := []interface{}{teamID}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.State != nil {
		set += ", status = " + next(string(*upd.State))
		switch *upd.State {
		case refresh.StateRunning:
			set += ", started_at = NOW(), completed_at = NULL, error_message = NULL"
		case refresh.StateCompleted, refresh.StateFailed:
			set += ", completed_at = NOW()"
		}
	}
	if upd.Phase != nil {
		set += ", phase = " + next(upd.Phase.String())
	}
	if upd.Progress != nil {
		set += ", progress_percent = " + next(*upd.Progress)
	}
	if upd.Error != "" {
		set += ", error_message = " + next(upd.Error)
	}

	row := r.db.DB().QueryRowContext(ctx,
		`UPDATE team_refresh_status SET `+set+` WHERE team_id = $1 RETURNING `+statusColumns,
		args...,
	)
	return scanStatus(row)
}

// ResetStale forces rows stuck in running back to idle. It is the startup
// recovery path for runs orphaned by a crashed process.
func (r *StatusRepository) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := r.db.DB().ExecContext(ctx, `
		UPDATE team_refresh_status
		SET status = 'idle', phase = NULL, progress_percent = 0,
			error_message = NULL, updated_at = NOW()
		WHERE status = 'running'
			AND updated_at < NOW() - ($1 * INTERVAL '1 second')
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("resetting stale statuses: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting reset statuses: %w", err)
	}
	return int(n), nil
}

func (r *StatusRepository) ensureRow(ctx context.Context, teamID uuid.UUID) error {
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO team_refresh_status (team_id)
		VALUES ($1)
		ON CONFLICT (team_id) DO NOTHING
	`, teamID)
	if err != nil {
		return fmt.Errorf("ensuring status row: %w", err)
	}
	return nil
}

func scanStatus(row *sql.Row) (*refresh.Status, error) {
	status := &refresh.Status{}
	var state string
	var phase, errMsg sql.NullString
	var started, completed sql.NullTime

	err := row.Scan(&status.TeamID, &state, &phase, &status.ProgressPercent,
		&started, &completed, &errMsg, &status.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("status row missing")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning status: %w", err)
	}

	status.State = refresh.State(state)
	status.Phase = phase.String
	status.ErrorMessage = errMsg.String
	if started.Valid {
		t := started.Time
		status.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		status.CompletedAt = &t
	}
	return status, nil
}
