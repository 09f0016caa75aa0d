package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lolevel/thunderclap/internal/store"
)

// TeamRepository handles team and roster data access.
type TeamRepository struct {
	db *store.Database
}

// NewTeamRepository creates a new team repository.
func NewTeamRepository(db *store.Database) *TeamRepository {
	return &TeamRepository{db: db}
}

// RosterPlayer is one roster slot joined with the player's identity and
// current solo-queue standing, for the read API.
type RosterPlayer struct {
	PlayerID      uuid.UUID
	PUUID         string
	SummonerName  sql.NullString
	RiotGameName  sql.NullString
	RiotTagline   sql.NullString
	Role          sql.NullString
	SoloqTier     sql.NullString
	SoloqDivision sql.NullString
	SoloqLP       sql.NullInt32
	SoloqWins     sql.NullInt32
	SoloqLosses   sql.NullInt32
	RankUpdatedAt sql.NullTime
}

// TeamIDs returns the identifiers of every team, for bulk refresh scheduling.
func (r *TeamRepository) TeamIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.DB().QueryContext(ctx, `SELECT id FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying team ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning team id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByID finds a team by its identifier.
func (r *TeamRepository) GetByID(ctx context.Context, teamID uuid.UUID) (*store.Team, error) {
	query := `
		SELECT id, name, tag, division, logo_url, created_at, updated_at
		FROM teams
		WHERE id = $1
	`

	team := &store.Team{}
	err := r.db.DB().QueryRowContext(ctx, query, teamID).Scan(
		&team.ID, &team.Name, &team.Tag, &team.Division, &team.LogoURL,
		&team.CreatedAt, &team.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("team not found: %s", teamID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying team: %w", err)
	}

	return team, nil
}

// List returns all teams ordered by name.
func (r *TeamRepository) List(ctx context.Context) ([]*store.Team, error) {
	query := `
		SELECT id, name, tag, division, logo_url, created_at, updated_at
		FROM teams
		ORDER BY name
	`

	rows, err := r.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying teams: %w", err)
	}
	defer rows.Close()

	var teams []*store.Team
	for rows.Next() {
		team := &store.Team{}
		err := rows.Scan(
			&team.ID, &team.Name, &team.Tag, &team.Division, &team.LogoURL,
			&team.CreatedAt, &team.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning team: %w", err)
		}
		teams = append(teams, team)
	}

	return teams, rows.Err()
}

// Roster returns the team's active roster joined with player identities and
// ranks. Slots with a left_at date are excluded.
func (r *TeamRepository) Roster(ctx context.Context, teamID uuid.UUID) ([]*RosterPlayer, error) {
	query := `
		SELECT p.id, p.puuid, p.summoner_name, p.riot_game_name, p.riot_tagline,
			tr.role, p.soloq_tier, p.soloq_division, p.soloq_lp,
			p.soloq_wins, p.soloq_losses, p.rank_updated_at
		FROM team_rosters tr
		JOIN players p ON p.id = tr.player_id
		WHERE tr.team_id = $1 AND tr.left_at IS NULL
		ORDER BY tr.role, p.summoner_name
	`

	rows, err := r.db.DB().QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("querying roster: %w", err)
	}
	defer rows.Close()

	var roster []*RosterPlayer
	for rows.Next() {
		rp := &RosterPlayer{}
		err := rows.Scan(
			&rp.PlayerID, &rp.PUUID, &rp.SummonerName, &rp.RiotGameName, &rp.RiotTagline,
			&rp.Role, &rp.SoloqTier, &rp.SoloqDivision, &rp.SoloqLP,
			&rp.SoloqWins, &rp.SoloqLosses, &rp.RankUpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning roster player: %w", err)
		}
		roster = append(roster, rp)
	}

	return roster, rows.Err()
}
