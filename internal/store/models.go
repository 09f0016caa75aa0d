package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Team is a tracked roster of players.
type Team struct {
	ID        uuid.UUID
	Name      string
	Tag       sql.NullString
	Division  sql.NullString
	LogoURL   sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Player is a tracked player identity. PUUID is the upstream identity key;
// rank columns hold the most recently fetched solo-queue standing.
type Player struct {
	ID            uuid.UUID
	PUUID         string
	SummonerName  sql.NullString
	RiotGameName  sql.NullString
	RiotTagline   sql.NullString
	SoloqTier     sql.NullString
	SoloqDivision sql.NullString
	SoloqLP       sql.NullInt32
	SoloqWins     sql.NullInt32
	SoloqLosses   sql.NullInt32
	RankUpdatedAt sql.NullTime
	CreatedAt     time.Time
}

// RosterEntry links a player to a team.
type RosterEntry struct {
	ID       uuid.UUID
	TeamID   uuid.UUID
	PlayerID uuid.UUID
	Role     sql.NullString
	JoinedAt sql.NullTime
	LeftAt   sql.NullTime
}

// Match is one stored game. MatchID is the upstream natural identifier and is
// globally unique: the first write wins, later observations are no-ops.
type Match struct {
	ID            uuid.UUID
	MatchID       string
	GameCreation  sql.NullInt64
	GameDuration  sql.NullInt32
	GameVersion   sql.NullString
	QueueID       sql.NullInt32
	IsTournament  bool
	WinningTeamID uuid.NullUUID
	LosingTeamID  uuid.NullUUID
	CreatedAt     time.Time
}

// MatchParticipant is one player's line in a stored match. PlayerID and
// TeamID are nullable: they are filled in by the linking phase after the
// fact.
type MatchParticipant struct {
	ID                 uuid.UUID
	MatchID            uuid.UUID
	PlayerID           uuid.NullUUID
	TeamID             uuid.NullUUID
	PUUID              sql.NullString
	SummonerName       sql.NullString
	ChampionID         int
	ChampionName       sql.NullString
	TeamPosition       sql.NullString
	RiotTeamID         sql.NullInt32
	Kills              sql.NullInt32
	Deaths             sql.NullInt32
	Assists            sql.NullInt32
	CSTotal            sql.NullInt32
	GoldEarned         sql.NullInt32
	DamageDealt        sql.NullInt32
	DamageTaken        sql.NullInt32
	VisionScore        sql.NullInt32
	WardsPlaced        sql.NullInt32
	ControlWardsPlaced sql.NullInt32
	FirstBlood         sql.NullBool
	FirstTower         sql.NullBool
	Win                sql.NullBool
}

// MatchTeamStats is the per-side objective summary of a stored match.
type MatchTeamStats struct {
	ID             uuid.UUID
	MatchID        uuid.UUID
	RiotTeamID     int
	TeamID         uuid.NullUUID
	Win            sql.NullBool
	BaronKills     int
	DragonKills    int
	HeraldKills    int
	TowerKills     int
	InhibitorKills int
	ChampionKills  int
	FirstBlood     bool
	FirstBaron     bool
	FirstDragon    bool
	FirstHerald    bool
	FirstTower     bool
	Bans           []byte // raw JSONB ban list
}

// TeamStats is the single aggregate row per team, fully recomputed by the
// calculating_stats phase.
type TeamStats struct {
	ID                uuid.UUID
	TeamID            uuid.UUID
	GamesPlayed       int
	Wins              int
	Losses            int
	FirstBloodRate    sql.NullFloat64
	FirstTowerRate    sql.NullFloat64
	FirstDragonRate   sql.NullFloat64
	FirstBaronRate    sql.NullFloat64
	AvgGameDuration   sql.NullInt32
	AvgDragonsPerGame sql.NullFloat64
	AvgBaronsPerGame  sql.NullFloat64
	AvgTowersPerGame  sql.NullFloat64
	UpdatedAt         time.Time
}

// PlayerChampionStats is one player's aggregate on one champion.
type PlayerChampionStats struct {
	ID           uuid.UUID
	PlayerID     uuid.UUID
	ChampionID   int
	ChampionName sql.NullString
	GamesPlayed  int
	Wins         int
	AvgKills     sql.NullFloat64
	AvgDeaths    sql.NullFloat64
	AvgAssists   sql.NullFloat64
	UpdatedAt    time.Time
}
