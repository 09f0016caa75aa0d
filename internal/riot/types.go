package riot

// MatchPayload is the full match document returned by the upstream match API.
type MatchPayload struct {
	Metadata MatchMetadata `json:"metadata"`
	Info     MatchInfo     `json:"info"`
}

// MatchMetadata carries the natural match identifier and participant handles.
type MatchMetadata struct {
	MatchID      string   `json:"matchId"`
	Participants []string `json:"participants"`
}

// MatchInfo is the body of a match document.
type MatchInfo struct {
	GameCreation int64         `json:"gameCreation"` // unix millis
	GameDuration int           `json:"gameDuration"` // seconds
	GameVersion  string        `json:"gameVersion"`
	MapID        int           `json:"mapId"`
	QueueID      int           `json:"queueId"`
	Participants []Participant `json:"participants"`
	Teams        []TeamSide    `json:"teams"`
}

// Participant is one player's line in a match document.
type Participant struct {
	PUUID          string `json:"puuid"`
	SummonerName   string `json:"summonerName"`
	RiotIDGameName string `json:"riotIdGameName"`
	RiotIDTagline  string `json:"riotIdTagline"`

	ChampionID   int    `json:"championId"`
	ChampionName string `json:"championName"`
	TeamPosition string `json:"teamPosition"`
	TeamID       int    `json:"teamId"` // 100 blue, 200 red

	Kills   int `json:"kills"`
	Deaths  int `json:"deaths"`
	Assists int `json:"assists"`

	TotalMinionsKilled   int `json:"totalMinionsKilled"`
	NeutralMinionsKilled int `json:"neutralMinionsKilled"`
	GoldEarned           int `json:"goldEarned"`

	TotalDamageDealtToChampions int `json:"totalDamageDealtToChampions"`
	TotalDamageTaken            int `json:"totalDamageTaken"`

	VisionScore        int `json:"visionScore"`
	WardsPlaced        int `json:"wardsPlaced"`
	WardsKilled        int `json:"wardsKilled"`
	ControlWardsPlaced int `json:"visionWardsBoughtInGame"`

	FirstBloodKill bool `json:"firstBloodKill"`
	FirstTowerKill bool `json:"firstTowerKill"`

	Win bool `json:"win"`
}

// TeamSide is the per-side summary (objectives and bans) of a match.
type TeamSide struct {
	TeamID     int        `json:"teamId"`
	Win        bool       `json:"win"`
	Objectives Objectives `json:"objectives"`
	Bans       []Ban      `json:"bans"`
}

// Objectives groups the per-side objective counters.
type Objectives struct {
	Baron      Objective `json:"baron"`
	Dragon     Objective `json:"dragon"`
	RiftHerald Objective `json:"riftHerald"`
	Tower      Objective `json:"tower"`
	Inhibitor  Objective `json:"inhibitor"`
	ChampKills Objective `json:"champion"`
}

// Objective is a single objective counter.
type Objective struct {
	First bool `json:"first"`
	Kills int  `json:"kills"`
}

// Ban is one champion ban with its pick turn.
type Ban struct {
	ChampionID int `json:"championId"`
	PickTurn   int `json:"pickTurn"`
}

// LeagueEntry is one ranked-queue standing for a player.
type LeagueEntry struct {
	QueueType    string `json:"queueType"`
	Tier         string `json:"tier"`
	Rank         string `json:"rank"`
	LeaguePoints int    `json:"leaguePoints"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
}

// CountRosterOverlap reports how many of the given puuids appear among the
// match participants.
func (p *MatchPayload) CountRosterOverlap(puuids map[string]struct{}) int {
	n := 0
	for _, part := range p.Info.Participants {
		if _, ok := puuids[part.PUUID]; ok {
			n++
		}
	}
	return n
}
