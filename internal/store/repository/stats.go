package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Lolevel/thunderclap/internal/store"
)

// StatsRepository serves the read side of the computed aggregates.
type StatsRepository struct {
	db *store.Database
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *store.Database) *StatsRepository {
	return &StatsRepository{db: db}
}

// TeamStats returns the team's aggregate row, or nil when no refresh has
// computed one yet.
func (r *StatsRepository) TeamStats(ctx context.Context, teamID uuid.UUID) (*store.TeamStats, error) {
	query := `
		SELECT id, team_id, games_played, wins, losses,
			first_blood_rate, first_tower_rate, first_dragon_rate, first_baron_rate,
			avg_game_duration, avg_dragons_per_game, avg_barons_per_game,
			avg_towers_per_game, updated_at
		FROM team_stats
		WHERE team_id = $1
	`

	stats := &store.TeamStats{}
	err := r.db.DB().QueryRowContext(ctx, query, teamID).Scan(
		&stats.ID, &stats.TeamID, &stats.GamesPlayed, &stats.Wins, &stats.Losses,
		&stats.FirstBloodRate, &stats.FirstTowerRate, &stats.FirstDragonRate,
		&stats.FirstBaronRate, &stats.AvgGameDuration, &stats.AvgDragonsPerGame,
		&stats.AvgBaronsPerGame, &stats.AvgTowersPerGame, &stats.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying team stats: %w", err)
	}

	return stats, nil
}

// PlayerChampions returns the player's per-champion aggregates ordered by
// games played.
func (r *StatsRepository) PlayerChampions(ctx context.Context, playerID uuid.UUID) ([]*store.PlayerChampionStats, error) {
	query := `
		SELECT id, player_id, champion_id, champion_name, games_played, wins,
			avg_kills, avg_deaths, avg_assists, updated_at
		FROM player_champion_stats
		WHERE player_id = $1
		ORDER BY games_played DESC, champion_name
	`

	rows, err := r.db.DB().QueryContext(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("querying champion stats: %w", err)
	}
	defer rows.Close()

	var stats []*store.PlayerChampionStats
	for rows.Next() {
		cs := &store.PlayerChampionStats{}
		err := rows.Scan(
			&cs.ID, &cs.PlayerID, &cs.ChampionID, &cs.ChampionName,
			&cs.GamesPlayed, &cs.Wins, &cs.AvgKills, &cs.AvgDeaths,
			&cs.AvgAssists, &cs.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning champion stats: %w", err)
		}
		stats = append(stats, cs)
	}

	return stats, rows.Err()
}
