package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/common"
	"github.com/ternarybob/calldeck/internal/interfaces"
	"github.com/ternarybob/calldeck/internal/reprocess"
)

// StatusHandler reports application status for the dashboard header.
type StatusHandler struct {
	tracker   *reprocess.Tracker
	handles   interfaces.HandleStorage
	ws        *WebSocketHandler
	logger    arbor.ILogger
	startedAt time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(tracker *reprocess.Tracker, handles interfaces.HandleStorage, ws *WebSocketHandler, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		tracker:   tracker,
		handles:   handles,
		ws:        ws,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// GetStatusHandler returns application status.
// GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	handleCount := 0
	if handles, err := h.handles.List(r.Context()); err == nil {
		handleCount = len(handles)
	} else {
		h.logger.Warn().Err(err).Msg("Failed to count job handles")
	}

	wsClients := 0
	if h.ws != nil {
		wsClients = h.ws.ClientCount()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":            common.GetVersion(),
		"uptime_seconds":     int(time.Since(h.startedAt).Seconds()),
		"active_pollers":     h.tracker.ActivePollers(),
		"stored_handles":     handleCount,
		"websocket_clients":  wsClients,
		"tracked_goroutines": common.GetGoroutineCount(),
	})
}

// VersionHandler returns version information.
// GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// HealthHandler returns service health.
// GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
