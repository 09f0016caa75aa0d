package rest

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Lolevel/thunderclap/internal/cache"
	"github.com/Lolevel/thunderclap/internal/store"
	"github.com/Lolevel/thunderclap/internal/store/repository"
)

const teamStatsCacheTTL = 60 * time.Second

// Handler contains dependencies for the read-side HTTP handlers.
type Handler struct {
	db    *store.Database
	cache *cache.RedisCache
	teams *repository.TeamRepository
	stats *repository.StatsRepository
}

// NewHandler creates a new handler. cache may be nil.
func NewHandler(db *store.Database, rc *cache.RedisCache) *Handler {
	return &Handler{
		db:    db,
		cache: rc,
		teams: repository.NewTeamRepository(db),
		stats: repository.NewStatsRepository(db),
	}
}

// HealthCheck reports the service and its dependencies.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "healthy"}
	status := http.StatusOK

	if err := h.db.HealthCheck(); err != nil {
		checks["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		checks["redis"] = "healthy"
		if err := h.cache.HealthCheck(r.Context()); err != nil {
			checks["redis"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, status, map[string]interface{}{
		"status":  statusWord(status),
		"service": "thunderclap",
		"checks":  checks,
	})
}

// GetTeams returns the team directory.
func (h *Handler) GetTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch teams", err)
		return
	}

	out := make([]map[string]interface{}, 0, len(teams))
	for _, t := range teams {
		out = append(out, teamJSON(t))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"teams": out,
		"count": len(out),
	})
}

// GetTeam returns one team.
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathUUID(w, r, "teamID")
	if !ok {
		return
	}

	team, err := h.teams.GetByID(r.Context(), teamID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Team not found", err)
		return
	}
	respondJSON(w, http.StatusOK, teamJSON(team))
}

// GetTeamRoster returns the team's active roster with player ranks.
func (h *Handler) GetTeamRoster(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathUUID(w, r, "teamID")
	if !ok {
		return
	}

	roster, err := h.teams.Roster(r.Context(), teamID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch roster", err)
		return
	}

	out := make([]map[string]interface{}, 0, len(roster))
	for _, rp := range roster {
		out = append(out, map[string]interface{}{
			"player_id":       rp.PlayerID,
			"puuid":           rp.PUUID,
			"summoner_name":   nullString(rp.SummonerName),
			"riot_game_name":  nullString(rp.RiotGameName),
			"riot_tagline":    nullString(rp.RiotTagline),
			"role":            nullString(rp.Role),
			"soloq_tier":      nullString(rp.SoloqTier),
			"soloq_division":  nullString(rp.SoloqDivision),
			"soloq_lp":        nullInt(rp.SoloqLP),
			"soloq_wins":      nullInt(rp.SoloqWins),
			"soloq_losses":    nullInt(rp.SoloqLosses),
			"rank_updated_at": nullTime(rp.RankUpdatedAt),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"team_id": teamID,
		"roster":  out,
	})
}

// GetTeamStats returns the team's computed aggregates. Served from the Redis
// cache when fresh.
func (h *Handler) GetTeamStats(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathUUID(w, r, "teamID")
	if !ok {
		return
	}

	cacheKey := "teamstats." + teamID.String()
	if h.cache != nil {
		var cached map[string]interface{}
		if err := h.cache.GetJSON(r.Context(), cacheKey, &cached); err == nil {
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	stats, err := h.stats.TeamStats(r.Context(), teamID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch team stats", err)
		return
	}
	if stats == nil {
		respondError(w, http.StatusNotFound, "No stats computed for team", nil)
		return
	}

	out := map[string]interface{}{
		"team_id":              stats.TeamID,
		"games_played":         stats.GamesPlayed,
		"wins":                 stats.Wins,
		"losses":               stats.Losses,
		"first_blood_rate":     nullFloat(stats.FirstBloodRate),
		"first_tower_rate":     nullFloat(stats.FirstTowerRate),
		"first_dragon_rate":    nullFloat(stats.FirstDragonRate),
		"first_baron_rate":     nullFloat(stats.FirstBaronRate),
		"avg_game_duration":    nullInt(stats.AvgGameDuration),
		"avg_dragons_per_game": nullFloat(stats.AvgDragonsPerGame),
		"avg_barons_per_game":  nullFloat(stats.AvgBaronsPerGame),
		"avg_towers_per_game":  nullFloat(stats.AvgTowersPerGame),
		"updated_at":           stats.UpdatedAt.UTC().Format(time.RFC3339),
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(r.Context(), cacheKey, out, teamStatsCacheTTL); err != nil {
			log.Debug().Str("component", "rest").Err(err).Msg("failed to cache team stats")
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// GetPlayerChampions returns the player's per-champion aggregates.
func (h *Handler) GetPlayerChampions(w http.ResponseWriter, r *http.Request) {
	playerID, ok := pathUUID(w, r, "playerID")
	if !ok {
		return
	}

	champs, err := h.stats.PlayerChampions(r.Context(), playerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch champion stats", err)
		return
	}

	out := make([]map[string]interface{}, 0, len(champs))
	for _, cs := range champs {
		out = append(out, map[string]interface{}{
			"champion_id":   cs.ChampionID,
			"champion_name": nullString(cs.ChampionName),
			"games_played":  cs.GamesPlayed,
			"wins":          cs.Wins,
			"avg_kills":     nullFloat(cs.AvgKills),
			"avg_deaths":    nullFloat(cs.AvgDeaths),
			"avg_assists":   nullFloat(cs.AvgAssists),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"player_id": playerID,
		"champions": out,
	})
}

func teamJSON(t *store.Team) map[string]interface{} {
	return map[string]interface{}{
		"id":       t.ID,
		"name":     t.Name,
		"tag":      nullString(t.Tag),
		"division": nullString(t.Division),
		"logo_url": nullString(t.LogoURL),
	}
}

// pathUUID parses a UUID path variable, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "unhealthy"
}

func nullString(v sql.NullString) interface{} {
	if !v.Valid {
		return nil
	}
	return v.String
}

func nullInt(v sql.NullInt32) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int32
}

func nullFloat(v sql.NullFloat64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func nullTime(v sql.NullTime) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Time.UTC().Format(time.RFC3339)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}
