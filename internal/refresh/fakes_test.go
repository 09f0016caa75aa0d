package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lolevel/thunderclap/internal/riot"
)

// memStatusStore is an in-memory StatusStore mirroring the SQL transition
// rules, recording every snapshot for ordering assertions.
type memStatusStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]*Status
	history  []Status
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{statuses: make(map[uuid.UUID]*Status)}
}

func (s *memStatusStore) Get(ctx context.Context, teamID uuid.UUID) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[teamID]
	if !ok {
		st = &Status{TeamID: teamID, State: StateIdle, UpdatedAt: time.Now()}
		s.statuses[teamID] = st
	}
	snapshot := *st
	return &snapshot, nil
}

func (s *memStatusStore) Update(ctx context.Context, teamID uuid.UUID, upd StatusUpdate) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[teamID]
	if !ok {
		st = &Status{TeamID: teamID, State: StateIdle}
		s.statuses[teamID] = st
	}

	now := time.Now()
	if upd.State != nil {
		st.State = *upd.State
		switch *upd.State {
		case StateRunning:
			t := now
			st.StartedAt = &t
			st.CompletedAt = nil
			st.ErrorMessage = ""
		case StateCompleted, StateFailed:
			t := now
			st.CompletedAt = &t
		}
	}
	if upd.Phase != nil {
		st.Phase = upd.Phase.String()
	}
	if upd.Progress != nil {
		st.ProgressPercent = *upd.Progress
	}
	if upd.Error != "" {
		st.ErrorMessage = upd.Error
	}
	st.UpdatedAt = now

	snapshot := *st
	s.history = append(s.history, snapshot)
	return &snapshot, nil
}

func (s *memStatusStore) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	cutoff := time.Now().Add(-olderThan)
	for _, st := range s.statuses {
		if st.State == StateRunning && st.UpdatedAt.Before(cutoff) {
			st.State = StateIdle
			st.Phase = ""
			st.ProgressPercent = 0
			st.ErrorMessage = ""
			st.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *memStatusStore) snapshots() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, len(s.history))
	copy(out, s.history)
	return out
}

func (s *memStatusStore) current(teamID uuid.UUID) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.statuses[teamID]
}

// storedMatch is memStorage's row for one match.
type storedMatch struct {
	id           uuid.UUID
	externalID   string
	duration     int
	isTournament bool
	winning      *uuid.UUID
	losing       *uuid.UUID
	participants []*ParticipantRecord
	sides        map[int]SideStats
	linkedSide   map[uuid.UUID]int
}

// memStorage is an in-memory Storage mirroring the repository semantics.
type memStorage struct {
	mu sync.Mutex

	rosters     map[uuid.UUID][]RosterMember
	byExternal  map[string]*storedMatch
	byID        map[uuid.UUID]*storedMatch
	parts       map[uuid.UUID]*ParticipantRecord
	teamStats   map[uuid.UUID]TeamAggregates
	ranks       map[uuid.UUID]*riot.LeagueEntry
	rankUpdates []uuid.UUID
	recomputes  map[uuid.UUID]int
	storeCount  int
}

func newMemStorage() *memStorage {
	return &memStorage{
		rosters:    make(map[uuid.UUID][]RosterMember),
		byExternal: make(map[string]*storedMatch),
		byID:       make(map[uuid.UUID]*storedMatch),
		parts:      make(map[uuid.UUID]*ParticipantRecord),
		teamStats:  make(map[uuid.UUID]TeamAggregates),
		ranks:      make(map[uuid.UUID]*riot.LeagueEntry),
		recomputes: make(map[uuid.UUID]int),
	}
}

func (s *memStorage) Roster(ctx context.Context, teamID uuid.UUID) ([]RosterMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RosterMember(nil), s.rosters[teamID]...), nil
}

func (s *memStorage) FilterExisting(ctx context.Context, externalIDs []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := make(map[string]struct{})
	for _, id := range externalIDs {
		if _, ok := s.byExternal[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (s *memStorage) StoreMatch(ctx context.Context, payload *riot.MatchPayload, isTournament bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExternal[payload.Metadata.MatchID]; ok {
		return false, nil
	}

	m := &storedMatch{
		id:           uuid.New(),
		externalID:   payload.Metadata.MatchID,
		duration:     payload.Info.GameDuration,
		isTournament: isTournament,
		sides:        make(map[int]SideStats),
		linkedSide:   make(map[uuid.UUID]int),
	}
	for _, p := range payload.Info.Participants {
		part := &ParticipantRecord{
			ID:           uuid.New(),
			PUUID:        p.PUUID,
			SummonerName: p.SummonerName,
			RiotTeamID:   p.TeamID,
			Win:          p.Win,
		}
		m.participants = append(m.participants, part)
		s.parts[part.ID] = part
	}
	for _, side := range payload.Info.Teams {
		m.sides[side.TeamID] = SideStats{
			BaronKills:     side.Objectives.Baron.Kills,
			DragonKills:    side.Objectives.Dragon.Kills,
			HeraldKills:    side.Objectives.RiftHerald.Kills,
			TowerKills:     side.Objectives.Tower.Kills,
			InhibitorKills: side.Objectives.Inhibitor.Kills,
			FirstBlood:     side.Objectives.ChampKills.First,
			FirstTower:     side.Objectives.Tower.First,
			FirstDragon:    side.Objectives.Dragon.First,
			FirstBaron:     side.Objectives.Baron.First,
		}
	}

	s.byExternal[m.externalID] = m
	s.byID[m.id] = m
	s.storeCount++
	return true, nil
}

func (s *memStorage) CandidateMatches(ctx context.Context, members []RosterMember) ([]*MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	puuids := make(map[string]struct{})
	for _, m := range members {
		puuids[m.PUUID] = struct{}{}
	}

	var out []*MatchRecord
	for _, m := range s.byExternal {
		if !m.isTournament {
			continue
		}
		touched := false
		for _, p := range m.participants {
			if _, ok := puuids[p.PUUID]; ok {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		rec := &MatchRecord{
			ID:            m.id,
			ExternalID:    m.externalID,
			IsTournament:  m.isTournament,
			WinningTeamID: copyUUID(m.winning),
			LosingTeamID:  copyUUID(m.losing),
		}
		for _, p := range m.participants {
			rec.Participants = append(rec.Participants, ParticipantRecord{
				ID:           p.ID,
				PUUID:        p.PUUID,
				SummonerName: p.SummonerName,
				PlayerID:     copyUUID(p.PlayerID),
				TeamID:       copyUUID(p.TeamID),
				RiotTeamID:   p.RiotTeamID,
				Win:          p.Win,
			})
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStorage) LinkParticipantPlayer(ctx context.Context, participantID, playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.parts[participantID]
	if !ok {
		return fmt.Errorf("unknown participant %s", participantID)
	}
	id := playerID
	part.PlayerID = &id
	return nil
}

func (s *memStorage) ApplyMatchLinks(ctx context.Context, upd MatchLinkUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[upd.MatchID]
	if !ok {
		return fmt.Errorf("unknown match %s", upd.MatchID)
	}

	if upd.WinningTeamID != nil {
		m.winning = copyUUID(upd.WinningTeamID)
	} else if m.winning != nil && *m.winning == upd.TeamID {
		m.winning = nil
	}
	if upd.LosingTeamID != nil {
		m.losing = copyUUID(upd.LosingTeamID)
	} else if m.losing != nil && *m.losing == upd.TeamID {
		m.losing = nil
	}

	for partID, teamID := range upd.ParticipantTeams {
		if part, ok := s.parts[partID]; ok {
			part.TeamID = copyUUID(teamID)
		}
	}

	if upd.RiotSide != 0 && (upd.WinningTeamID != nil || upd.LosingTeamID != nil) {
		m.linkedSide[upd.TeamID] = upd.RiotSide
	} else {
		delete(m.linkedSide, upd.TeamID)
	}
	return nil
}

func (s *memStorage) LinkedMatches(ctx context.Context, teamID uuid.UUID) ([]*LinkedMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*LinkedMatch
	for _, m := range s.byExternal {
		won := m.winning != nil && *m.winning == teamID
		lost := m.losing != nil && *m.losing == teamID
		if !won && !lost {
			continue
		}
		lm := &LinkedMatch{
			ExternalID: m.externalID,
			Duration:   m.duration,
			Won:        won,
		}
		if side, ok := m.linkedSide[teamID]; ok {
			lm.Side = m.sides[side]
		}
		out = append(out, lm)
	}
	return out, nil
}

func (s *memStorage) UpsertTeamStats(ctx context.Context, teamID uuid.UUID, agg *TeamAggregates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teamStats[teamID] = *agg
	return nil
}

func (s *memStorage) UpdatePlayerRank(ctx context.Context, playerID uuid.UUID, entry *riot.LeagueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks[playerID] = entry
	s.rankUpdates = append(s.rankUpdates, playerID)
	return nil
}

func (s *memStorage) RecomputePlayerChampionStats(ctx context.Context, playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputes[playerID]++
	return nil
}

func (s *memStorage) match(externalID string) *storedMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byExternal[externalID]
}

func (s *memStorage) stats(teamID uuid.UUID) TeamAggregates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teamStats[teamID]
}

func (s *memStorage) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeCount
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// scriptedUpstream is an Upstream fake with per-call scripting: fixed
// histories, payloads and league entries, plus one-shot rate-limit and error
// injections keyed by call.
type scriptedUpstream struct {
	mu sync.Mutex

	histories map[string][]string
	payloads  map[string]*riot.MatchPayload
	leagues   map[string][]riot.LeagueEntry

	rateLimitOnce map[string]time.Duration
	failOnce      map[string]error

	matchCalls  []string
	listCalls   []string
	leagueCalls []string
}

func newScriptedUpstream() *scriptedUpstream {
	return &scriptedUpstream{
		histories:     make(map[string][]string),
		payloads:      make(map[string]*riot.MatchPayload),
		leagues:       make(map[string][]riot.LeagueEntry),
		rateLimitOnce: make(map[string]time.Duration),
		failOnce:      make(map[string]error),
	}
}

func (u *scriptedUpstream) injected(key string) error {
	if wait, ok := u.rateLimitOnce[key]; ok {
		delete(u.rateLimitOnce, key)
		return &riot.RateLimitError{RetryAfter: wait}
	}
	if err, ok := u.failOnce[key]; ok {
		delete(u.failOnce, key)
		return err
	}
	return nil
}

func (u *scriptedUpstream) ListMatchIDs(ctx context.Context, puuid, matchType string, count int) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listCalls = append(u.listCalls, puuid)
	if err := u.injected("list:" + puuid); err != nil {
		return nil, err
	}
	return append([]string(nil), u.histories[puuid]...), nil
}

func (u *scriptedUpstream) GetMatch(ctx context.Context, matchID string) (*riot.MatchPayload, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.matchCalls = append(u.matchCalls, matchID)
	if err := u.injected("match:" + matchID); err != nil {
		return nil, err
	}
	return u.payloads[matchID], nil
}

func (u *scriptedUpstream) GetLeagueEntries(ctx context.Context, puuid string) ([]riot.LeagueEntry, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.leagueCalls = append(u.leagueCalls, puuid)
	if err := u.injected("league:" + puuid); err != nil {
		return nil, err
	}
	return u.leagues[puuid], nil
}

func (u *scriptedUpstream) matchCallLog() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.matchCalls...)
}

// recordingNotifier captures published snapshots synchronously.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Status
}

func (n *recordingNotifier) Publish(teamID uuid.UUID, status *Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, *status)
}

func (n *recordingNotifier) all() []Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Status(nil), n.events...)
}

// tourneyPayload builds a match document with the given roster puuids on side
// 100 and synthetic opponents on side 200.
func tourneyPayload(matchID string, rosterPUUIDs []string, rosterWins bool) *riot.MatchPayload {
	payload := &riot.MatchPayload{}
	payload.Metadata.MatchID = matchID
	payload.Info.GameDuration = 1800
	payload.Info.QueueID = 0

	for i, puuid := range rosterPUUIDs {
		payload.Info.Participants = append(payload.Info.Participants, riot.Participant{
			PUUID:        puuid,
			SummonerName: fmt.Sprintf("Roster%d", i+1),
			TeamID:       100,
			Win:          rosterWins,
		})
	}
	for i := len(rosterPUUIDs); i < 10; i++ {
		payload.Info.Participants = append(payload.Info.Participants, riot.Participant{
			PUUID:        fmt.Sprintf("opp-%s-%d", matchID, i),
			SummonerName: fmt.Sprintf("Opp%d", i),
			TeamID:       200,
			Win:          !rosterWins,
		})
	}

	payload.Info.Teams = []riot.TeamSide{
		{
			TeamID: 100,
			Win:    rosterWins,
			Objectives: riot.Objectives{
				Baron:      riot.Objective{First: rosterWins, Kills: 1},
				Dragon:     riot.Objective{First: true, Kills: 3},
				Tower:      riot.Objective{First: true, Kills: 8},
				ChampKills: riot.Objective{First: true, Kills: 20},
			},
		},
		{
			TeamID: 200,
			Win:    !rosterWins,
			Objectives: riot.Objectives{
				Dragon: riot.Objective{Kills: 1},
				Tower:  riot.Objective{Kills: 3},
			},
		},
	}
	return payload
}
