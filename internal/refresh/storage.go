package refresh

import (
	"context"

	"github.com/google/uuid"

	"github.com/Lolevel/thunderclap/internal/riot"
)

// Upstream is the pipeline's view of the match-data API client.
type Upstream interface {
	ListMatchIDs(ctx context.Context, puuid, matchType string, count int) ([]string, error)
	GetMatch(ctx context.Context, matchID string) (*riot.MatchPayload, error)
	GetLeagueEntries(ctx context.Context, puuid string) ([]riot.LeagueEntry, error)
}

// RosterMember is one roster slot as the pipeline sees it.
type RosterMember struct {
	PlayerID     uuid.UUID
	PUUID        string
	SummonerName string
}

// ParticipantRecord is one stored participant row, loaded for linking.
type ParticipantRecord struct {
	ID           uuid.UUID
	PUUID        string
	SummonerName string
	PlayerID     *uuid.UUID
	TeamID       *uuid.UUID
	RiotTeamID   int
	Win          bool
}

// MatchRecord is one stored match with its participants, loaded for linking.
type MatchRecord struct {
	ID            uuid.UUID
	ExternalID    string
	IsTournament  bool
	WinningTeamID *uuid.UUID
	LosingTeamID  *uuid.UUID
	Participants  []ParticipantRecord
}

// MatchLinkUpdate rewrites one match's team linkage. Nil winner and loser
// clear the match's link to the team; ParticipantTeams maps participant rows
// to their new team reference (nil clears). RiotSide carries the side the
// team played on so the per-side stats row can be tagged, zero when unknown.
type MatchLinkUpdate struct {
	MatchID          uuid.UUID
	TeamID           uuid.UUID
	WinningTeamID    *uuid.UUID
	LosingTeamID     *uuid.UUID
	RiotSide         int
	ParticipantTeams map[uuid.UUID]*uuid.UUID
}

// LinkedMatch is one match currently linked to the team, reduced to what the
// stats recomputation needs.
type LinkedMatch struct {
	ExternalID string
	Duration   int // seconds
	Won        bool
	Side       SideStats
}

// SideStats is the team's side of a linked match.
type SideStats struct {
	BaronKills     int
	DragonKills    int
	HeraldKills    int
	TowerKills     int
	InhibitorKills int
	FirstBlood     bool
	FirstTower     bool
	FirstDragon    bool
	FirstBaron     bool
}

// TeamAggregates is the full recomputed statistics row for a team.
type TeamAggregates struct {
	GamesPlayed     int
	Wins            int
	Losses          int
	FirstBloodRate  float64 // percentages, 0-100
	FirstTowerRate  float64
	FirstDragonRate float64
	FirstBaronRate  float64
	AvgGameDuration int // seconds
	AvgDragons      float64
	AvgBarons       float64
	AvgTowers       float64
}

// Storage is the pipeline's view of primary storage. Every method is a
// single durable step: earlier phases' writes survive a later phase's
// failure.
type Storage interface {
	// Roster returns the team's active roster.
	Roster(ctx context.Context, teamID uuid.UUID) ([]RosterMember, error)

	// FilterExisting returns the subset of externalIDs already stored.
	FilterExisting(ctx context.Context, externalIDs []string) (map[string]struct{}, error)

	// StoreMatch persists a match payload with its participants and side
	// stats. The external identifier is unique; storing an already-stored
	// match is a no-op and returns false.
	StoreMatch(ctx context.Context, payload *riot.MatchPayload, isTournament bool) (bool, error)

	// CandidateMatches returns stored tournament matches touching any of the
	// given identities (by puuid or display name), with participants, for
	// the linking phase's full re-evaluation.
	CandidateMatches(ctx context.Context, members []RosterMember) ([]*MatchRecord, error)

	// LinkParticipantPlayer sets a participant's player reference.
	LinkParticipantPlayer(ctx context.Context, participantID, playerID uuid.UUID) error

	// ApplyMatchLinks rewrites one match's team linkage.
	ApplyMatchLinks(ctx context.Context, upd MatchLinkUpdate) error

	// LinkedMatches returns all matches currently linked to the team.
	LinkedMatches(ctx context.Context, teamID uuid.UUID) ([]*LinkedMatch, error)

	// UpsertTeamStats replaces the team's aggregate row.
	UpsertTeamStats(ctx context.Context, teamID uuid.UUID, agg *TeamAggregates) error

	// UpdatePlayerRank overwrites the player's stored ranked standing.
	// A nil entry marks the player unranked.
	UpdatePlayerRank(ctx context.Context, playerID uuid.UUID, entry *riot.LeagueEntry) error

	// RecomputePlayerChampionStats rebuilds the player's per-champion
	// aggregates from all stored participations.
	RecomputePlayerChampionStats(ctx context.Context, playerID uuid.UUID) error
}

// TeamSource enumerates the teams eligible for refresh.
type TeamSource interface {
	TeamIDs(ctx context.Context) ([]uuid.UUID, error)
}
