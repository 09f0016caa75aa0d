package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Lolevel/thunderclap/internal/refresh"
	"github.com/Lolevel/thunderclap/internal/riot"
	"github.com/Lolevel/thunderclap/internal/store"
)

// RefreshRepository is the pipeline's storage backend. It satisfies
// refresh.Storage on top of the shared connection pool; each method is one
// durable step, with multi-row writes wrapped in a transaction.
type RefreshRepository struct {
	db *store.Database
}

// NewRefreshRepository creates a new refresh repository.
func NewRefreshRepository(db *store.Database) *RefreshRepository {
	return &RefreshRepository{db: db}
}

var _ refresh.Storage = (*RefreshRepository)(nil)

// Roster returns the team's active roster slots with upstream identities.
func (r *RefreshRepository) Roster(ctx context.Context, teamID uuid.UUID) ([]refresh.RosterMember, error) {
	query := `
		SELECT p.id, p.puuid, COALESCE(p.summoner_name, p.riot_game_name, '')
		FROM team_rosters tr
		JOIN players p ON p.id = tr.player_id
		WHERE tr.team_id = $1 AND tr.left_at IS NULL
		ORDER BY p.puuid
	`

	rows, err := r.db.DB().QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("querying roster: %w", err)
	}
	defer rows.Close()

	var members []refresh.RosterMember
	for rows.Next() {
		var m refresh.RosterMember
		if err := rows.Scan(&m.PlayerID, &m.PUUID, &m.SummonerName); err != nil {
			return nil, fmt.Errorf("scanning roster member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// FilterExisting returns the subset of external identifiers already stored.
func (r *RefreshRepository) FilterExisting(ctx context.Context, externalIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(externalIDs) == 0 {
		return existing, nil
	}

	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT match_id FROM matches WHERE match_id = ANY($1)`,
		pq.Array(externalIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("querying existing matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning match id: %w", err)
		}
		existing[id] = struct{}{}
	}

	return existing, rows.Err()
}

// StoreMatch persists a match, its participants and both side-stat rows in
// one transaction. The first write of an external identifier wins; a repeat
// observation is a no-op returning false.
func (r *RefreshRepository) StoreMatch(ctx context.Context, payload *riot.MatchPayload, isTournament bool) (bool, error) {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var matchID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO matches (match_id, game_creation, game_duration, game_version, queue_id, is_tournament)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id) DO NOTHING
		RETURNING id
	`,
		payload.Metadata.MatchID, payload.Info.GameCreation, payload.Info.GameDuration,
		payload.Info.GameVersion, payload.Info.QueueID, isTournament,
	).Scan(&matchID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting match: %w", err)
	}

	for _, p := range payload.Info.Participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO match_participants (match_id, puuid, summoner_name, champion_id,
				champion_name, team_position, riot_team_id, kills, deaths, assists,
				cs_total, gold_earned, damage_dealt, damage_taken, vision_score,
				wards_placed, control_wards_placed, first_blood, first_tower, win)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`,
			matchID, p.PUUID, displayName(p), p.ChampionID,
			p.ChampionName, p.TeamPosition, p.TeamID, p.Kills, p.Deaths, p.Assists,
			p.TotalMinionsKilled+p.NeutralMinionsKilled, p.GoldEarned,
			p.TotalDamageDealtToChampions, p.TotalDamageTaken, p.VisionScore,
			p.WardsPlaced, p.ControlWardsPlaced, p.FirstBloodKill, p.FirstTowerKill, p.Win,
		)
		if err != nil {
			return false, fmt.Errorf("inserting participant: %w", err)
		}
	}

	for _, side := range payload.Info.Teams {
		bans, err := json.Marshal(side.Bans)
		if err != nil {
			return false, fmt.Errorf("encoding bans: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_team_stats (match_id, riot_team_id, win, baron_kills,
				dragon_kills, herald_kills, tower_kills, inhibitor_kills, champion_kills,
				first_blood, first_baron, first_dragon, first_herald, first_tower, bans)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			matchID, side.TeamID, side.Win, side.Objectives.Baron.Kills,
			side.Objectives.Dragon.Kills, side.Objectives.RiftHerald.Kills,
			side.Objectives.Tower.Kills, side.Objectives.Inhibitor.Kills,
			side.Objectives.ChampKills.Kills, side.Objectives.ChampKills.First,
			side.Objectives.Baron.First, side.Objectives.Dragon.First,
			side.Objectives.RiftHerald.First, side.Objectives.Tower.First, bans,
		)
		if err != nil {
			return false, fmt.Errorf("inserting side stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing match: %w", err)
	}
	return true, nil
}

// CandidateMatches returns the stored tournament matches touching any of the
// given identities, with all their participants.
func (r *RefreshRepository) CandidateMatches(ctx context.Context, members []refresh.RosterMember) ([]*refresh.MatchRecord, error) {
	if len(members) == 0 {
		return nil, nil
	}

	puuids := make([]string, 0, len(members))
	names := make([]string, 0, len(members))
	for _, m := range members {
		puuids = append(puuids, m.PUUID)
		if m.SummonerName != "" {
			names = append(names, strings.ToLower(m.SummonerName))
		}
	}

	rows, err := r.db.DB().QueryContext(ctx, `
		SELECT DISTINCT m.id, m.match_id, m.is_tournament, m.winning_team_id, m.losing_team_id
		FROM matches m
		JOIN match_participants mp ON mp.match_id = m.id
		WHERE m.is_tournament
			AND (mp.puuid = ANY($1) OR LOWER(mp.summoner_name) = ANY($2))
	`, pq.Array(puuids), pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("querying candidate matches: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*refresh.MatchRecord)
	var matches []*refresh.MatchRecord
	var matchIDs []uuid.UUID
	for rows.Next() {
		rec := &refresh.MatchRecord{}
		var winning, losing uuid.NullUUID
		if err := rows.Scan(&rec.ID, &rec.ExternalID, &rec.IsTournament, &winning, &losing); err != nil {
			return nil, fmt.Errorf("scanning candidate match: %w", err)
		}
		rec.WinningTeamID = nullableUUID(winning)
		rec.LosingTeamID = nullableUUID(losing)
		byID[rec.ID] = rec
		matches = append(matches, rec)
		matchIDs = append(matchIDs, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	// Second pass: attach every participant of the selected matches, not
	// just the matching ones, so the linking phase sees full lineups.
	prows, err := r.db.DB().QueryContext(ctx, `
		SELECT id, match_id, COALESCE(puuid, ''), COALESCE(summoner_name, ''),
			player_id, team_id, COALESCE(riot_team_id, 0), COALESCE(win, FALSE)
		FROM match_participants
		WHERE match_id = ANY($1)
	`, pq.Array(matchIDs))
	if err != nil {
		return nil, fmt.Errorf("querying candidate participants: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var part refresh.ParticipantRecord
		var matchID uuid.UUID
		var playerID, teamID uuid.NullUUID
		err := prows.Scan(&part.ID, &matchID, &part.PUUID, &part.SummonerName,
			&playerID, &teamID, &part.RiotTeamID, &part.Win)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate participant: %w", err)
		}
		part.PlayerID = nullableUUID(playerID)
		part.TeamID = nullableUUID(teamID)
		if rec, ok := byID[matchID]; ok {
			rec.Participants = append(rec.Participants, part)
		}
	}

	return matches, prows.Err()
}

// LinkParticipantPlayer sets a participant's player reference.
func (r *RefreshRepository) LinkParticipantPlayer(ctx context.Context, participantID, playerID uuid.UUID) error {
	_, err := r.db.DB().ExecContext(ctx,
		`UPDATE match_participants SET player_id = $2 WHERE id = $1`,
		participantID, playerID,
	)
	if err != nil {
		return fmt.Errorf("linking participant: %w", err)
	}
	return nil
}

// ApplyMatchLinks rewrites one match's team linkage in a transaction. A nil
// winner and loser clear the team's slot only where the match currently
// points at it, so links held by other teams survive.
func (r *RefreshRepository) ApplyMatchLinks(ctx context.Context, upd refresh.MatchLinkUpdate) error {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE matches SET
			winning_team_id = CASE
				WHEN $2::uuid IS NOT NULL THEN $2
				WHEN winning_team_id = $4 THEN NULL
				ELSE winning_team_id END,
			losing_team_id = CASE
				WHEN $3::uuid IS NOT NULL THEN $3
				WHEN losing_team_id = $4 THEN NULL
				ELSE losing_team_id END
		WHERE id = $1
	`, upd.MatchID, toNullUUID(upd.WinningTeamID), toNullUUID(upd.LosingTeamID), upd.TeamID)
	if err != nil {
		return fmt.Errorf("updating match link: %w", err)
	}

	for partID, teamID := range upd.ParticipantTeams {
		_, err := tx.ExecContext(ctx,
			`UPDATE match_participants SET team_id = $2 WHERE id = $1`,
			partID, toNullUUID(teamID),
		)
		if err != nil {
			return fmt.Errorf("updating participant link: %w", err)
		}
	}

	// Re-tag the side-stat rows: clear this team's tag, then set it on the
	// side it played when known.
	_, err = tx.ExecContext(ctx,
		`UPDATE match_team_stats SET team_id = NULL WHERE match_id = $1 AND team_id = $2`,
		upd.MatchID, upd.TeamID,
	)
	if err != nil {
		return fmt.Errorf("clearing side link: %w", err)
	}
	if upd.RiotSide != 0 && (upd.WinningTeamID != nil || upd.LosingTeamID != nil) {
		_, err = tx.ExecContext(ctx,
			`UPDATE match_team_stats SET team_id = $3 WHERE match_id = $1 AND riot_team_id = $2`,
			upd.MatchID, upd.RiotSide, upd.TeamID,
		)
		if err != nil {
			return fmt.Errorf("setting side link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing match links: %w", err)
	}
	return nil
}

// LinkedMatches returns every match linked to the team, joined with the
// team's side stats where tagged.
func (r *RefreshRepository) LinkedMatches(ctx context.Context, teamID uuid.UUID) ([]*refresh.LinkedMatch, error) {
	query := `
		SELECT m.match_id, COALESCE(m.game_duration, 0),
			COALESCE(m.winning_team_id = $1, FALSE),
			COALESCE(mts.baron_kills, 0), COALESCE(mts.dragon_kills, 0),
			COALESCE(mts.herald_kills, 0), COALESCE(mts.tower_kills, 0),
			COALESCE(mts.inhibitor_kills, 0),
			COALESCE(mts.first_blood, FALSE), COALESCE(mts.first_tower, FALSE),
			COALESCE(mts.first_dragon, FALSE), COALESCE(mts.first_baron, FALSE)
		FROM matches m
		LEFT JOIN match_team_stats mts ON mts.match_id = m.id AND mts.team_id = $1
		WHERE m.winning_team_id = $1 OR m.losing_team_id = $1
		ORDER BY m.game_creation
	`

	rows, err := r.db.DB().QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("querying linked matches: %w", err)
	}
	defer rows.Close()

	var linked []*refresh.LinkedMatch
	for rows.Next() {
		lm := &refresh.LinkedMatch{}
		err := rows.Scan(
			&lm.ExternalID, &lm.Duration, &lm.Won,
			&lm.Side.BaronKills, &lm.Side.DragonKills,
			&lm.Side.HeraldKills, &lm.Side.TowerKills,
			&lm.Side.InhibitorKills,
			&lm.Side.FirstBlood, &lm.Side.FirstTower,
			&lm.Side.FirstDragon, &lm.Side.FirstBaron,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning linked match: %w", err)
		}
		linked = append(linked, lm)
	}

	return linked, rows.Err()
}

// UpsertTeamStats replaces the team's single aggregate row.
func (r *RefreshRepository) UpsertTeamStats(ctx context.Context, teamID uuid.UUID, agg *refresh.TeamAggregates) error {
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO team_stats (team_id, games_played, wins, losses,
			first_blood_rate, first_tower_rate, first_dragon_rate, first_baron_rate,
			avg_game_duration, avg_dragons_per_game, avg_barons_per_game, avg_towers_per_game)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (team_id) DO UPDATE SET
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			first_blood_rate = EXCLUDED.first_blood_rate,
			first_tower_rate = EXCLUDED.first_tower_rate,
			first_dragon_rate = EXCLUDED.first_dragon_rate,
			first_baron_rate = EXCLUDED.first_baron_rate,
			avg_game_duration = EXCLUDED.avg_game_duration,
			avg_dragons_per_game = EXCLUDED.avg_dragons_per_game,
			avg_barons_per_game = EXCLUDED.avg_barons_per_game,
			avg_towers_per_game = EXCLUDED.avg_towers_per_game,
			updated_at = NOW()
	`,
		teamID, agg.GamesPlayed, agg.Wins, agg.Losses,
		agg.FirstBloodRate, agg.FirstTowerRate, agg.FirstDragonRate, agg.FirstBaronRate,
		agg.AvgGameDuration, agg.AvgDragons, agg.AvgBarons, agg.AvgTowers,
	)
	if err != nil {
		return fmt.Errorf("upserting team stats: %w", err)
	}
	return nil
}

// UpdatePlayerRank overwrites the player's stored solo-queue standing. A nil
// entry marks the player unranked.
func (r *RefreshRepository) UpdatePlayerRank(ctx context.Context, playerID uuid.UUID, entry *riot.LeagueEntry) error {
	var err error
	if entry == nil {
		_, err = r.db.DB().ExecContext(ctx, `
			UPDATE players SET soloq_tier = NULL, soloq_division = NULL, soloq_lp = NULL,
				soloq_wins = NULL, soloq_losses = NULL, rank_updated_at = NOW()
			WHERE id = $1
		`, playerID)
	} else {
		_, err = r.db.DB().ExecContext(ctx, `
			UPDATE players SET soloq_tier = $2, soloq_division = $3, soloq_lp = $4,
				soloq_wins = $5, soloq_losses = $6, rank_updated_at = NOW()
			WHERE id = $1
		`, playerID, entry.Tier, entry.Rank, entry.LeaguePoints, entry.Wins, entry.Losses)
	}
	if err != nil {
		return fmt.Errorf("updating player rank: %w", err)
	}
	return nil
}

// RecomputePlayerChampionStats rebuilds the player's per-champion aggregates
// from all stored tournament participations. Matching is by upstream
// identity, so games stored before the participant was linked still count.
func (r *RefreshRepository) RecomputePlayerChampionStats(ctx context.Context, playerID uuid.UUID) error {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM player_champion_stats WHERE player_id = $1`, playerID,
	); err != nil {
		return fmt.Errorf("clearing champion stats: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO player_champion_stats (player_id, champion_id, champion_name,
			games_played, wins, avg_kills, avg_deaths, avg_assists)
		SELECT $1, mp.champion_id, MAX(mp.champion_name),
			COUNT(*), COUNT(*) FILTER (WHERE mp.win),
			AVG(mp.kills), AVG(mp.deaths), AVG(mp.assists)
		FROM match_participants mp
		JOIN matches m ON m.id = mp.match_id
		WHERE m.is_tournament
			AND mp.puuid = (SELECT puuid FROM players WHERE id = $1)
		GROUP BY mp.champion_id
	`, playerID)
	if err != nil {
		return fmt.Errorf("rebuilding champion stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing champion stats: %w", err)
	}
	return nil
}

// displayName prefers the riot ID handle over the legacy summoner name.
func displayName(p riot.Participant) string {
	if p.RiotIDGameName != "" {
		return p.RiotIDGameName
	}
	return p.SummonerName
}

func nullableUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
