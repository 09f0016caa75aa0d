package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Lolevel/thunderclap/internal/refresh"
)

// Trigger schedules refresh runs. Satisfied by *refresh.Coordinator.
type Trigger interface {
	TriggerOne(ctx context.Context, teamID uuid.UUID) error
	TriggerAll(ctx context.Context) (int, error)
}

// Subscriber attaches progress-stream consumers. Satisfied by
// *refresh.Publisher.
type Subscriber interface {
	Subscribe(teamID uuid.UUID) *refresh.Subscription
}

// RefreshHandler serves the refresh trigger, status and progress endpoints.
type RefreshHandler struct {
	trigger    Trigger
	statuses   refresh.StatusStore
	subscriber Subscriber
}

// NewRefreshHandler creates a new refresh handler.
func NewRefreshHandler(trigger Trigger, statuses refresh.StatusStore, subscriber Subscriber) *RefreshHandler {
	return &RefreshHandler{
		trigger:    trigger,
		statuses:   statuses,
		subscriber: subscriber,
	}
}

// TriggerRefresh schedules a refresh for one team. Always 202 when the team
// exists: a fresh run starts, or the in-flight one is reported.
func (h *RefreshHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathUUID(w, r, "teamID")
	if !ok {
		return
	}

	err := h.trigger.TriggerOne(r.Context(), teamID)
	if errors.Is(err, refresh.ErrAlreadyRunning) {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":  "running",
			"message": "already in progress",
		})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to start refresh", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "running",
	})
}

// GetRefreshStatus returns the team's status snapshot.
func (h *RefreshHandler) GetRefreshStatus(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathUUID(w, r, "teamID")
	if !ok {
		return
	}

	status, err := h.statuses.Get(r.Context(), teamID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch refresh status", err)
		return
	}
	respondJSON(w, http.StatusOK, statusJSON(status))
}

// ProgressStream serves the team's refresh events over SSE. The current
// snapshot is sent first, then live events until the client disconnects.
func (h *RefreshHandler) ProgressStream(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathUUID(w, r, "teamID")
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		respondError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	status, err := h.statuses.Get(r.Context(), teamID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch refresh status", err)
		return
	}

	// Subscribe before writing the snapshot so no event falls between.
	sub := h.subscriber.Subscribe(teamID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, snapshotEventType(status.State), statusJSON(status))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// TriggerNightlyRefresh runs the bulk trigger on demand.
func (h *RefreshHandler) TriggerNightlyRefresh(w http.ResponseWriter, r *http.Request) {
	scheduled, err := h.trigger.TriggerAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to trigger refreshes", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"teams_scheduled": scheduled,
	})
}

// snapshotEventType maps the stored state onto the event types clients
// already handle, so the opening snapshot needs no type of its own.
func snapshotEventType(state refresh.State) string {
	switch state {
	case refresh.StateCompleted:
		return string(refresh.EventComplete)
	case refresh.StateFailed:
		return string(refresh.EventError)
	default:
		return string(refresh.EventProgress)
	}
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

func statusJSON(status *refresh.Status) map[string]interface{} {
	out := map[string]interface{}{
		"team_id":          status.TeamID,
		"status":           string(status.State),
		"phase":            nil,
		"progress_percent": status.ProgressPercent,
		"started_at":       nil,
		"completed_at":     nil,
		"error_message":    nil,
		"updated_at":       status.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if status.Phase != "" {
		out["phase"] = status.Phase
	}
	if status.StartedAt != nil {
		out["started_at"] = status.StartedAt.UTC().Format(time.RFC3339)
	}
	if status.CompletedAt != nil {
		out["completed_at"] = status.CompletedAt.UTC().Format(time.RFC3339)
	}
	if status.ErrorMessage != "" {
		out["error_message"] = status.ErrorMessage
	}
	return out
}
