package refresh

import (
	"fmt"
	"time"
)

// Phase is one ordered stage of the refresh pipeline. Phases execute strictly
// in declaration order within a run; there is no skipping or re-entry.
type Phase int

const (
	PhaseCollectingMatches Phase = iota
	PhaseFilteringMatches
	PhaseFetchingMatches
	PhaseLinkingData
	PhaseCalculatingStats
	PhaseUpdatingRanks
	PhasePlayerDetails
)

var phaseNames = [...]string{
	PhaseCollectingMatches: "collecting_matches",
	PhaseFilteringMatches:  "filtering_matches",
	PhaseFetchingMatches:   "fetching_matches",
	PhaseLinkingData:       "linking_data",
	PhaseCalculatingStats:  "calculating_stats",
	PhaseUpdatingRanks:     "updating_ranks",
	PhasePlayerDetails:     "player_details",
}

// phaseBands maps each phase to its fixed progress range. A run enters a
// phase at the band floor and may report incremental progress up to the
// ceiling, so progress_percent is non-decreasing across a run by
// construction.
var phaseBands = [...]struct{ lo, hi int }{
	PhaseCollectingMatches: {0, 20},
	PhaseFilteringMatches:  {20, 30},
	PhaseFetchingMatches:   {30, 60},
	PhaseLinkingData:       {60, 75},
	PhaseCalculatingStats:  {75, 85},
	PhaseUpdatingRanks:     {85, 90},
	PhasePlayerDetails:     {90, 100},
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Band returns the progress percentage range assigned to the phase.
func (p Phase) Band() (lo, hi int) {
	b := phaseBands[p]
	return b.lo, b.hi
}

// Progress maps done/total within the phase's band. total <= 0 reports the
// band floor.
func (p Phase) Progress(done, total int) int {
	lo, hi := p.Band()
	if total <= 0 {
		return lo
	}
	if done > total {
		done = total
	}
	return lo + (hi-lo)*done/total
}

// Marker names what the status row's phase column shows: either a pipeline
// phase, or a tagged rate-limit wait while the run is backing off. The wait
// marker is a distinct variant, not a string to parse.
type Marker struct {
	Phase   Phase
	Waiting bool
	Wait    time.Duration
}

// MarkerFor wraps a plain phase.
func MarkerFor(p Phase) Marker {
	return Marker{Phase: p}
}

// WaitingMarker tags a rate-limit backoff of the given duration.
func WaitingMarker(p Phase, wait time.Duration) Marker {
	return Marker{Phase: p, Waiting: true, Wait: wait}
}

// String renders the marker the way it is persisted and served:
// "fetching_matches", or "rate_limited_5s" while backing off.
func (m Marker) String() string {
	if m.Waiting {
		return fmt.Sprintf("rate_limited_%ds", int(m.Wait/time.Second))
	}
	return m.Phase.String()
}
