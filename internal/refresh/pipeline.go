package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Lolevel/thunderclap/internal/riot"
)

// Notifier receives every persisted status change. Publishing must not block
// the pipeline; the concrete Publisher guarantees that.
type Notifier interface {
	Publish(teamID uuid.UUID, status *Status)
}

// Config tunes a Pipeline.
type Config struct {
	// MinRosterOverlap is the minimum number of distinct roster members that
	// must appear in a match for it to count as a team game. Used both for
	// the pre-filter on listed identifiers and for the authoritative check
	// against fetched payloads and stored links.
	MinRosterOverlap int
	// MatchHistoryCount caps how many identifiers are listed per player.
	MatchHistoryCount int
	// MatchType filters listed identifiers to the tracked competitive
	// category.
	MatchType string
}

// DefaultConfig returns the production pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MinRosterOverlap:  3,
		MatchHistoryCount: 100,
		MatchType:         "tourney",
	}
}

// Pipeline drives one team's refresh end to end through the ordered phases.
// A Pipeline value is stateless across runs and safe for concurrent Run calls
// on different teams; the coordinator prevents concurrent runs per team.
type Pipeline struct {
	storage  Storage
	statuses StatusStore
	upstream Upstream
	notifier Notifier
	clock    clockwork.Clock
	cfg      Config
}

// NewPipeline wires a Pipeline. notifier may be nil.
func NewPipeline(storage Storage, statuses StatusStore, upstream Upstream, notifier Notifier, clock clockwork.Clock, cfg Config) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MinRosterOverlap < 1 {
		cfg.MinRosterOverlap = DefaultConfig().MinRosterOverlap
	}
	if cfg.MatchHistoryCount <= 0 {
		cfg.MatchHistoryCount = DefaultConfig().MatchHistoryCount
	}
	if cfg.MatchType == "" {
		cfg.MatchType = DefaultConfig().MatchType
	}
	return &Pipeline{
		storage:  storage,
		statuses: statuses,
		upstream: upstream,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
	}
}

// Run executes all phases for one team. Any propagated error marks the run
// failed with the error text; writes committed by earlier phases are kept.
func (p *Pipeline) Run(ctx context.Context, teamID uuid.UUID) error {
	if err := p.setState(ctx, teamID, StateRunning, PhaseCollectingMatches); err != nil {
		return err
	}

	if err := p.runPhases(ctx, teamID); err != nil {
		if _, uerr := p.update(ctx, teamID, StatusUpdate{
			State: statePtr(StateFailed),
			Error: err.Error(),
		}); uerr != nil {
			log.Error().Str("component", "refresh").Str("team_id", teamID.String()).
				Err(uerr).Msg("failed to record run failure")
		}
		log.Error().Str("component", "refresh").Str("team_id", teamID.String()).
			Err(err).Msg("refresh run failed")
		return err
	}

	if _, err := p.update(ctx, teamID, StatusUpdate{
		State:    statePtr(StateCompleted),
		Progress: intPtr(100),
	}); err != nil {
		return err
	}
	log.Info().Str("component", "refresh").Str("team_id", teamID.String()).
		Msg("refresh run completed")
	return nil
}

func (p *Pipeline) runPhases(ctx context.Context, teamID uuid.UUID) error {
	roster, err := p.storage.Roster(ctx, teamID)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	if len(roster) == 0 {
		return fmt.Errorf("team %s has no roster members", teamID)
	}

	// Phase 1: collect candidate identifiers across the roster.
	candidates, err := p.collectMatchIDs(ctx, teamID, roster)
	if err != nil {
		return fmt.Errorf("collecting matches: %w", err)
	}

	// Phase 2: drop identifiers already in storage.
	if err := p.enterPhase(ctx, teamID, PhaseFilteringMatches); err != nil {
		return err
	}
	existing, err := p.storage.FilterExisting(ctx, candidates)
	if err != nil {
		return fmt.Errorf("filtering matches: %w", err)
	}
	var missing []string
	for _, id := range candidates {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	log.Info().Str("component", "refresh").Str("team_id", teamID.String()).
		Int("existing", len(existing)).Int("missing", len(missing)).
		Msg("filtered candidate matches")

	// Phase 3: fetch and store the missing matches.
	if err := p.fetchMatches(ctx, teamID, roster, missing); err != nil {
		return fmt.Errorf("fetching matches: %w", err)
	}

	// Phase 4: link participants to players and matches to the team.
	if err := p.enterPhase(ctx, teamID, PhaseLinkingData); err != nil {
		return err
	}
	if err := p.linkData(ctx, teamID, roster); err != nil {
		return fmt.Errorf("linking data: %w", err)
	}

	// Phase 5: full recomputation of team aggregates.
	if err := p.enterPhase(ctx, teamID, PhaseCalculatingStats); err != nil {
		return err
	}
	linked, err := p.storage.LinkedMatches(ctx, teamID)
	if err != nil {
		return fmt.Errorf("calculating stats: %w", err)
	}
	agg := ComputeTeamAggregates(linked)
	if err := p.storage.UpsertTeamStats(ctx, teamID, &agg); err != nil {
		return fmt.Errorf("calculating stats: %w", err)
	}

	// Phase 6: refresh every roster member's ranked standing.
	if err := p.updateRanks(ctx, teamID, roster); err != nil {
		return fmt.Errorf("updating ranks: %w", err)
	}

	// Phase 7: individual tournament history per member.
	if err := p.playerDetails(ctx, teamID, roster); err != nil {
		return fmt.Errorf("player details: %w", err)
	}

	return nil
}

// collectMatchIDs lists tournament identifiers for every roster member and
// pre-filters to identifiers referenced by at least MinRosterOverlap distinct
// members. The pre-filter works on per-player history lists, so it is only an
// estimate; the authoritative overlap check happens again per fetched
// payload. Per-member listing failures are isolated.
func (p *Pipeline) collectMatchIDs(ctx context.Context, teamID uuid.UUID, roster []RosterMember) ([]string, error) {
	refs := make(map[string]int)

	for i, member := range roster {
		var ids []string
		err := p.callUpstream(ctx, teamID, PhaseCollectingMatches, PhaseCollectingMatches.Progress(i, len(roster)), func() error {
			var lerr error
			ids, lerr = p.upstream.ListMatchIDs(ctx, member.PUUID, p.cfg.MatchType, p.cfg.MatchHistoryCount)
			return lerr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Str("component", "refresh").Str("team_id", teamID.String()).
				Str("puuid", member.PUUID).Err(err).
				Msg("failed to list match history, skipping member")
			continue
		}
		for _, id := range ids {
			refs[id]++
		}
		p.reportProgress(ctx, teamID, PhaseCollectingMatches, i+1, len(roster))
	}

	var kept []string
	for id, n := range refs {
		if n >= p.cfg.MinRosterOverlap {
			kept = append(kept, id)
		}
	}
	sort.Strings(kept)
	log.Info().Str("component", "refresh").Str("team_id", teamID.String()).
		Int("candidates", len(refs)).Int("kept", len(kept)).
		Msg("collected tournament match identifiers")
	return kept, nil
}

// fetchMatches fetches each missing match and stores those whose payload
// still satisfies the roster-overlap threshold. Rate-limit signals become a
// visible wait and a resume at the same identifier; other per-match failures
// are isolated.
func (p *Pipeline) fetchMatches(ctx context.Context, teamID uuid.UUID, roster []RosterMember, missing []string) error {
	if err := p.enterPhase(ctx, teamID, PhaseFetchingMatches); err != nil {
		return err
	}

	puuids := make(map[string]struct{}, len(roster))
	for _, m := range roster {
		puuids[m.PUUID] = struct{}{}
	}

	for i, matchID := range missing {
		var payload *riot.MatchPayload
		err := p.callUpstream(ctx, teamID, PhaseFetchingMatches, PhaseFetchingMatches.Progress(i, len(missing)), func() error {
			var ferr error
			payload, ferr = p.upstream.GetMatch(ctx, matchID)
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Str("component", "refresh").Str("team_id", teamID.String()).
				Str("match_id", matchID).Err(err).Msg("failed to fetch match, skipping")
			continue
		}
		if payload == nil {
			log.Debug().Str("component", "refresh").Str("match_id", matchID).
				Msg("match absent upstream, skipping")
			continue
		}

		// The pre-filter counted partial per-player lists; re-check the
		// overlap against the actual payload before spending a write.
		if payload.CountRosterOverlap(puuids) < p.cfg.MinRosterOverlap {
			log.Debug().Str("component", "refresh").Str("match_id", matchID).
				Msg("match below roster overlap threshold, discarding")
			p.reportProgress(ctx, teamID, PhaseFetchingMatches, i+1, len(missing))
			continue
		}

		stored, err := p.storage.StoreMatch(ctx, payload, true)
		if err != nil {
			log.Warn().Str("component", "refresh").Str("team_id", teamID.String()).
				Str("match_id", matchID).Err(err).Msg("failed to store match, skipping")
			continue
		}
		if stored {
			log.Debug().Str("component", "refresh").Str("match_id", matchID).Msg("stored match")
		}
		p.reportProgress(ctx, teamID, PhaseFetchingMatches, i+1, len(missing))
	}

	return nil
}

// linkData re-evaluates all cross-entity links for the team in full: player
// references on participants, then team references on matches. Running it
// again without new data is a no-op.
func (p *Pipeline) linkData(ctx context.Context, teamID uuid.UUID, roster []RosterMember) error {
	byPUUID := make(map[string]RosterMember, len(roster))
	byName := make(map[string]RosterMember, len(roster))
	rosterPlayers := make(map[uuid.UUID]struct{}, len(roster))
	for _, m := range roster {
		byPUUID[m.PUUID] = m
		if m.SummonerName != "" {
			byName[strings.ToLower(m.SummonerName)] = m
		}
		rosterPlayers[m.PlayerID] = struct{}{}
	}

	matches, err := p.storage.CandidateMatches(ctx, roster)
	if err != nil {
		return err
	}

	// (a) resolve player references: exact identity first, display name as
	// fallback. Linking is monotone; already-linked participants are left
	// alone.
	linkedParts := 0
	for _, match := range matches {
		for i := range match.Participants {
			part := &match.Participants[i]
			if part.PlayerID != nil {
				continue
			}
			member, ok := byPUUID[part.PUUID]
			if !ok && part.SummonerName != "" {
				member, ok = byName[strings.ToLower(part.SummonerName)]
			}
			if !ok {
				continue
			}
			if err := p.storage.LinkParticipantPlayer(ctx, part.ID, member.PlayerID); err != nil {
				return fmt.Errorf("link participant %s: %w", part.ID, err)
			}
			pid := member.PlayerID
			part.PlayerID = &pid
			linkedParts++
		}
	}

	// (b) re-evaluate team linkage per match against the current roster.
	linkedMatches, clearedMatches := 0, 0
	for _, match := range matches {
		var teamParts []*ParticipantRecord
		for i := range match.Participants {
			part := &match.Participants[i]
			if part.PlayerID == nil {
				continue
			}
			if _, ok := rosterPlayers[*part.PlayerID]; ok {
				teamParts = append(teamParts, part)
			}
		}

		if len(teamParts) >= p.cfg.MinRosterOverlap {
			won, ok := consistentOutcome(teamParts)
			if !ok {
				log.Warn().Str("component", "refresh").Str("team_id", teamID.String()).
					Str("match_id", match.ExternalID).
					Msg("conflicting win signals among team participants, skipping link")
				continue
			}
			upd := linkUpdate(teamID, match, teamParts, won)
			if err := p.storage.ApplyMatchLinks(ctx, upd); err != nil {
				return fmt.Errorf("link match %s: %w", match.ExternalID, err)
			}
			linkedMatches++
			continue
		}

		// Below the threshold: clear any stale link this team holds.
		if matchLinkedTo(match, teamID) {
			upd := MatchLinkUpdate{
				MatchID:          match.ID,
				TeamID:           teamID,
				ParticipantTeams: clearParticipantTeams(match, teamID),
			}
			if err := p.storage.ApplyMatchLinks(ctx, upd); err != nil {
				return fmt.Errorf("unlink match %s: %w", match.ExternalID, err)
			}
			clearedMatches++
		}
	}

	log.Info().Str("component", "refresh").Str("team_id", teamID.String()).
		Int("participants_linked", linkedParts).
		Int("matches_linked", linkedMatches).
		Int("matches_cleared", clearedMatches).
		Msg("linking pass complete")
	return nil
}

// updateRanks overwrites every roster member's stored ranked standing.
// Rate-limit signals are handled like fetching_matches; other errors
// propagate.
func (p *Pipeline) updateRanks(ctx context.Context, teamID uuid.UUID, roster []RosterMember) error {
	if err := p.enterPhase(ctx, teamID, PhaseUpdatingRanks); err != nil {
		return err
	}

	for i, member := range roster {
		var entries []riot.LeagueEntry
		err := p.callUpstream(ctx, teamID, PhaseUpdatingRanks, PhaseUpdatingRanks.Progress(i, len(roster)), func() error {
			var rerr error
			entries, rerr = p.upstream.GetLeagueEntries(ctx, member.PUUID)
			return rerr
		})
		if err != nil {
			return fmt.Errorf("fetch ranked standing for %s: %w", member.PUUID, err)
		}

		entry := soloQueueEntry(entries)
		if err := p.storage.UpdatePlayerRank(ctx, member.PlayerID, entry); err != nil {
			return fmt.Errorf("store ranked standing for %s: %w", member.PUUID, err)
		}
		p.reportProgress(ctx, teamID, PhaseUpdatingRanks, i+1, len(roster))
	}
	return nil
}

// playerDetails fetches each member's complete individual tournament history,
// independent of team linkage, and recomputes per-champion aggregates when
// new games appear.
func (p *Pipeline) playerDetails(ctx context.Context, teamID uuid.UUID, roster []RosterMember) error {
	if err := p.enterPhase(ctx, teamID, PhasePlayerDetails); err != nil {
		return err
	}

	for i, member := range roster {
		newGames, err := p.fetchPlayerHistory(ctx, teamID, member, PhasePlayerDetails.Progress(i, len(roster)))
		if err != nil {
			return fmt.Errorf("history for %s: %w", member.PUUID, err)
		}
		if newGames > 0 {
			if err := p.storage.RecomputePlayerChampionStats(ctx, member.PlayerID); err != nil {
				return fmt.Errorf("champion stats for %s: %w", member.PUUID, err)
			}
		}
		p.reportProgress(ctx, teamID, PhasePlayerDetails, i+1, len(roster))
	}
	return nil
}

func (p *Pipeline) fetchPlayerHistory(ctx context.Context, teamID uuid.UUID, member RosterMember, progress int) (int, error) {
	var ids []string
	err := p.callUpstream(ctx, teamID, PhasePlayerDetails, progress, func() error {
		var lerr error
		ids, lerr = p.upstream.ListMatchIDs(ctx, member.PUUID, p.cfg.MatchType, p.cfg.MatchHistoryCount)
		return lerr
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	existing, err := p.storage.FilterExisting(ctx, ids)
	if err != nil {
		return 0, err
	}

	newGames := 0
	for _, matchID := range ids {
		if _, ok := existing[matchID]; ok {
			continue
		}

		var payload *riot.MatchPayload
		err := p.callUpstream(ctx, teamID, PhasePlayerDetails, progress, func() error {
			var ferr error
			payload, ferr = p.upstream.GetMatch(ctx, matchID)
			return ferr
		})
		if err != nil {
			return newGames, err
		}
		if payload == nil {
			continue
		}

		stored, err := p.storage.StoreMatch(ctx, payload, true)
		if err != nil {
			return newGames, err
		}
		if stored {
			newGames++
		}
	}
	return newGames, nil
}

// callUpstream invokes fn, turning rate-limit signals into a visible wait
// state followed by a retry of the same call. All other outcomes pass
// through.
func (p *Pipeline) callUpstream(ctx context.Context, teamID uuid.UUID, phase Phase, progress int, fn func() error) error {
	for {
		err := fn()
		var rle *riot.RateLimitError
		if !errors.As(err, &rle) {
			return err
		}

		log.Info().Str("component", "refresh").Str("team_id", teamID.String()).
			Dur("retry_after", rle.RetryAfter).Str("phase", phase.String()).
			Msg("upstream rate limited, backing off")

		// Make the wait observable before sleeping, then restore the phase
		// marker and retry the same item.
		p.setMarker(ctx, teamID, WaitingMarker(phase, rle.RetryAfter), progress)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(rle.RetryAfter):
		}
		p.setMarker(ctx, teamID, MarkerFor(phase), progress)
	}
}

// enterPhase records the transition before any phase work happens, so
// observers always see "about to do X".
func (p *Pipeline) enterPhase(ctx context.Context, teamID uuid.UUID, phase Phase) error {
	lo, _ := phase.Band()
	_, err := p.update(ctx, teamID, StatusUpdate{
		Phase:    markerPtr(MarkerFor(phase)),
		Progress: intPtr(lo),
	})
	if err != nil {
		return fmt.Errorf("enter phase %s: %w", phase, err)
	}
	return nil
}

func (p *Pipeline) reportProgress(ctx context.Context, teamID uuid.UUID, phase Phase, done, total int) {
	if _, err := p.update(ctx, teamID, StatusUpdate{
		Phase:    markerPtr(MarkerFor(phase)),
		Progress: intPtr(phase.Progress(done, total)),
	}); err != nil {
		log.Warn().Str("component", "refresh").Str("team_id", teamID.String()).
			Err(err).Msg("failed to report progress")
	}
}

func (p *Pipeline) setMarker(ctx context.Context, teamID uuid.UUID, m Marker, progress int) {
	if _, err := p.update(ctx, teamID, StatusUpdate{
		Phase:    markerPtr(m),
		Progress: intPtr(progress),
	}); err != nil {
		log.Warn().Str("component", "refresh").Str("team_id", teamID.String()).
			Err(err).Msg("failed to update phase marker")
	}
}

func (p *Pipeline) setState(ctx context.Context, teamID uuid.UUID, state State, phase Phase) error {
	lo, _ := phase.Band()
	_, err := p.update(ctx, teamID, StatusUpdate{
		State:    statePtr(state),
		Phase:    markerPtr(MarkerFor(phase)),
		Progress: intPtr(lo),
	})
	return err
}

// update persists the change, then publishes the resulting snapshot.
// Publishing is fire-and-forget relative to the write.
func (p *Pipeline) update(ctx context.Context, teamID uuid.UUID, upd StatusUpdate) (*Status, error) {
	status, err := p.statuses.Update(ctx, teamID, upd)
	if err != nil {
		return nil, err
	}
	if p.notifier != nil {
		p.notifier.Publish(teamID, status)
	}
	return status, nil
}

// consistentOutcome returns the shared win flag of the team's participants,
// or ok=false when their signals conflict.
func consistentOutcome(parts []*ParticipantRecord) (won, ok bool) {
	won = parts[0].Win
	for _, part := range parts[1:] {
		if part.Win != won {
			return false, false
		}
	}
	return won, true
}

func linkUpdate(teamID uuid.UUID, match *MatchRecord, teamParts []*ParticipantRecord, won bool) MatchLinkUpdate {
	upd := MatchLinkUpdate{
		MatchID:          match.ID,
		TeamID:           teamID,
		RiotSide:         teamParts[0].RiotTeamID,
		ParticipantTeams: clearParticipantTeams(match, teamID),
	}
	tid := teamID
	if won {
		upd.WinningTeamID = &tid
	} else {
		upd.LosingTeamID = &tid
	}
	for _, part := range teamParts {
		upd.ParticipantTeams[part.ID] = &tid
	}
	return upd
}

// clearParticipantTeams seeds a participant-team map that clears this team's
// reference on every participant currently carrying it, so the full
// re-evaluation never leaves stale links behind.
func clearParticipantTeams(match *MatchRecord, teamID uuid.UUID) map[uuid.UUID]*uuid.UUID {
	out := make(map[uuid.UUID]*uuid.UUID)
	for i := range match.Participants {
		part := &match.Participants[i]
		if part.TeamID != nil && *part.TeamID == teamID {
			out[part.ID] = nil
		}
	}
	return out
}

func matchLinkedTo(match *MatchRecord, teamID uuid.UUID) bool {
	if match.WinningTeamID != nil && *match.WinningTeamID == teamID {
		return true
	}
	if match.LosingTeamID != nil && *match.LosingTeamID == teamID {
		return true
	}
	for i := range match.Participants {
		part := &match.Participants[i]
		if part.TeamID != nil && *part.TeamID == teamID {
			return true
		}
	}
	return false
}

func soloQueueEntry(entries []riot.LeagueEntry) *riot.LeagueEntry {
	for i := range entries {
		if entries[i].QueueType == "RANKED_SOLO_5x5" {
			return &entries[i]
		}
	}
	return nil
}
