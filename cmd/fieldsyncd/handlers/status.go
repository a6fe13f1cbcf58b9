// Package handlers provides the local REST surface over the sync engine:
// status, queue inspection, manual sync, and actor context management.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldops/fieldsync/internal/actor"
	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/network"
	"github.com/fieldops/fieldsync/internal/sync/queue"
	"github.com/fieldops/fieldsync/internal/sync/scheduler"
)

// StatusHandler serves the engine's HTTP surface.
type StatusHandler struct {
	scheduler *scheduler.Scheduler
	queue     *queue.Manager
	monitor   *network.Monitor
	actors    *actor.ContextStore
}

// NewStatusHandler creates the handler set.
func NewStatusHandler(sch *scheduler.Scheduler, q *queue.Manager, mon *network.Monitor, actors *actor.ContextStore) *StatusHandler {
	return &StatusHandler{scheduler: sch, queue: q, monitor: mon, actors: actors}
}

// Register wires every route onto the mux.
func (h *StatusHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", h.GetStatus)
	mux.HandleFunc("GET /queue", h.GetQueue)
	mux.HandleFunc("GET /queue/stats", h.GetQueueStats)
	mux.HandleFunc("POST /sync", h.TriggerSync)
	mux.HandleFunc("POST /queue/{id}/retry", h.RetryOperation)
	mux.HandleFunc("POST /queue/retry-failed", h.RetryAllFailed)
	mux.HandleFunc("DELETE /queue/synced", h.ClearSynced)
	mux.HandleFunc("GET /actor", h.GetActor)
	mux.HandleFunc("PUT /actor", h.SetActor)
	mux.HandleFunc("DELETE /actor", h.ClearActor)
	mux.HandleFunc("GET /health", h.Health)
}

// GetStatus handles GET /status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.scheduler.GetStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"running":       st.Running,
		"online":        st.Online,
		"is_syncing":    st.Syncing,
		"pending_count": st.Pending,
		"quality":       h.monitor.MeasureQuality(r.Context(), 3*time.Second),
	}
	if st.LastSyncTime != nil {
		response["last_sync_time"] = st.LastSyncTime.Unix()
	}
	if st.LastResult != nil {
		response["last_result"] = st.LastResult
		if len(st.LastResult.Errors) > 0 {
			response["last_error"] = st.LastResult.Errors[len(st.LastResult.Errors)-1].Message
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// GetQueue handles GET /queue: every entry, exhausted failures included.
func (h *StatusHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops, "count": len(ops)})
}

// GetQueueStats handles GET /queue/stats.
func (h *StatusHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// TriggerSync handles POST /sync: an immediate blocking replay.
func (h *StatusHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RetryOperation handles POST /queue/{id}/retry.
func (h *StatusHandler) RetryOperation(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Retry(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	h.scheduler.TriggerSync()
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued"})
}

// RetryAllFailed handles POST /queue/retry-failed.
func (h *StatusHandler) RetryAllFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.RetryAllFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if count > 0 {
		h.scheduler.TriggerSync()
	}
	writeJSON(w, http.StatusOK, map[string]any{"retried": count})
}

// ClearSynced handles DELETE /queue/synced.
func (h *StatusHandler) ClearSynced(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.ClearSynced(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": count})
}

// GetActor handles GET /actor.
func (h *StatusHandler) GetActor(w http.ResponseWriter, r *http.Request) {
	act, err := h.actors.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if act == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configured": true, "actor": act})
}

// SetActor handles PUT /actor.
func (h *StatusHandler) SetActor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Email  string `json:"email"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if err := h.actors.Set(r.Context(), req.UserID, req.Name, req.Email, req.Role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ClearActor handles DELETE /actor.
func (h *StatusHandler) ClearActor(w http.ResponseWriter, r *http.Request) {
	if err := h.actors.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Health handles GET /health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "fieldsyncd"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("write response", err, nil)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrInvalid), apperrors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrOffline):
		status = http.StatusServiceUnavailable
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
