package store

// migration is one ordered schema change. Migrations are embedded in the
// binary and tracked in schema_migrations by name.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_create_teams",
		sql: `
			CREATE TABLE IF NOT EXISTS teams (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				name VARCHAR(100) NOT NULL,
				tag VARCHAR(10),
				division VARCHAR(50),
				logo_url TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
	{
		name: "002_create_players",
		sql: `
			CREATE TABLE IF NOT EXISTS players (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				puuid VARCHAR(100) UNIQUE NOT NULL,
				summoner_name VARCHAR(100),
				riot_game_name VARCHAR(100),
				riot_tagline VARCHAR(10),
				soloq_tier VARCHAR(20),
				soloq_division VARCHAR(5),
				soloq_lp INTEGER,
				soloq_wins INTEGER,
				soloq_losses INTEGER,
				rank_updated_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
	{
		name: "003_create_team_rosters",
		sql: `
			CREATE TABLE IF NOT EXISTS team_rosters (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
				player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
				role VARCHAR(20),
				joined_at DATE,
				left_at DATE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (team_id, player_id)
			)
		`,
	},
	{
		name: "004_create_matches",
		sql: `
			CREATE TABLE IF NOT EXISTS matches (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				match_id VARCHAR(50) UNIQUE NOT NULL,
				game_creation BIGINT,
				game_duration INTEGER,
				game_version VARCHAR(30),
				queue_id INTEGER,
				is_tournament BOOLEAN NOT NULL DEFAULT FALSE,
				winning_team_id UUID REFERENCES teams(id),
				losing_team_id UUID REFERENCES teams(id),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_matches_winning_team ON matches(winning_team_id);
			CREATE INDEX IF NOT EXISTS idx_matches_losing_team ON matches(losing_team_id)
		`,
	},
	{
		name: "005_create_match_participants",
		sql: `
			CREATE TABLE IF NOT EXISTS match_participants (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				match_id UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
				player_id UUID REFERENCES players(id),
				team_id UUID REFERENCES teams(id),
				puuid VARCHAR(100),
				summoner_name VARCHAR(100),
				champion_id INTEGER NOT NULL,
				champion_name VARCHAR(50),
				team_position VARCHAR(20),
				riot_team_id INTEGER,
				kills INTEGER,
				deaths INTEGER,
				assists INTEGER,
				cs_total INTEGER,
				gold_earned INTEGER,
				damage_dealt INTEGER,
				damage_taken INTEGER,
				vision_score INTEGER,
				wards_placed INTEGER,
				control_wards_placed INTEGER,
				first_blood BOOLEAN,
				first_tower BOOLEAN,
				win BOOLEAN,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_participants_match ON match_participants(match_id);
			CREATE INDEX IF NOT EXISTS idx_participants_puuid ON match_participants(puuid);
			CREATE INDEX IF NOT EXISTS idx_participants_player ON match_participants(player_id)
		`,
	},
	{
		name: "006_create_match_team_stats",
		sql: `
			CREATE TABLE IF NOT EXISTS match_team_stats (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				match_id UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
				riot_team_id INTEGER NOT NULL,
				team_id UUID REFERENCES teams(id),
				win BOOLEAN,
				baron_kills INTEGER NOT NULL DEFAULT 0,
				dragon_kills INTEGER NOT NULL DEFAULT 0,
				herald_kills INTEGER NOT NULL DEFAULT 0,
				tower_kills INTEGER NOT NULL DEFAULT 0,
				inhibitor_kills INTEGER NOT NULL DEFAULT 0,
				champion_kills INTEGER NOT NULL DEFAULT 0,
				first_blood BOOLEAN NOT NULL DEFAULT FALSE,
				first_baron BOOLEAN NOT NULL DEFAULT FALSE,
				first_dragon BOOLEAN NOT NULL DEFAULT FALSE,
				first_herald BOOLEAN NOT NULL DEFAULT FALSE,
				first_tower BOOLEAN NOT NULL DEFAULT FALSE,
				bans JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (match_id, riot_team_id)
			)
		`,
	},
	{
		name: "007_create_team_stats",
		sql: `
			CREATE TABLE IF NOT EXISTS team_stats (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				team_id UUID UNIQUE NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
				games_played INTEGER NOT NULL DEFAULT 0,
				wins INTEGER NOT NULL DEFAULT 0,
				losses INTEGER NOT NULL DEFAULT 0,
				first_blood_rate NUMERIC(5,2),
				first_tower_rate NUMERIC(5,2),
				first_dragon_rate NUMERIC(5,2),
				first_baron_rate NUMERIC(5,2),
				avg_game_duration INTEGER,
				avg_dragons_per_game NUMERIC(4,2),
				avg_barons_per_game NUMERIC(4,2),
				avg_towers_per_game NUMERIC(4,2),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
	{
		name: "008_create_player_champion_stats",
		sql: `
			CREATE TABLE IF NOT EXISTS player_champion_stats (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
				champion_id INTEGER NOT NULL,
				champion_name VARCHAR(50),
				games_played INTEGER NOT NULL DEFAULT 0,
				wins INTEGER NOT NULL DEFAULT 0,
				avg_kills NUMERIC(4,1),
				avg_deaths NUMERIC(4,1),
				avg_assists NUMERIC(4,1),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (player_id, champion_id)
			)
		`,
	},
	{
		name: "009_create_team_refresh_status",
		sql: `
			CREATE TABLE IF NOT EXISTS team_refresh_status (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				team_id UUID UNIQUE NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
				status VARCHAR(20) NOT NULL DEFAULT 'idle',
				phase VARCHAR(50),
				progress_percent INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				error_message TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
}
