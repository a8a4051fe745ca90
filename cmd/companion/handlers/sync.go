package handlers

import (
	"context"
	"net/http"
	"time"

	syncpkg "github.com/kimhsiao/scriberr-companion/internal/sync"
)

// RemoteStatus is the slice of the remote client the status endpoints
// need.
type RemoteStatus interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// SyncHandler serves the sync trigger and status endpoints.
type SyncHandler struct {
	engine    *syncpkg.Engine
	remote    RemoteStatus
	startedAt time.Time
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine *syncpkg.Engine, remote RemoteStatus) *SyncHandler {
	return &SyncHandler{
		engine:    engine,
		remote:    remote,
		startedAt: time.Now(),
	}
}

// TriggerSync handles POST /api/sync/now. The pass runs to completion
// before the response is written.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SyncNow(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// GetStatus handles GET /api/sync/status. Reachability is probed on
// request; the handler holds no ambient "online" flag.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	configured := h.remote.Configured()
	response := map[string]interface{}{
		"configured": configured,
	}
	if configured {
		response["reachable"] = h.remote.Ping(r.Context()) == nil
	}
	if last := h.engine.LastSync(); last != nil {
		response["last_sync"] = last.Unix()
	}
	if err := h.engine.LastError(); err != nil {
		response["last_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// Health handles GET /api/health.
func (h *SyncHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"service":        "scriberr-companion",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
