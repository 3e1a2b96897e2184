package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live reprocess progress
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Bulk reprocess tracking
	mux.HandleFunc("/api/reprocess/estimate", s.app.ReprocessHandler.EstimateHandler)   // GET - affected-record count
	mux.HandleFunc("/api/reprocess/status", s.app.ReprocessHandler.StatusHandler)       // GET - tracker state for a scope
	mux.HandleFunc("/api/reprocess/reconcile", s.app.ReprocessHandler.ReconcileHandler) // POST - resolve stale handle
	mux.HandleFunc("/api/reprocess/reset", s.app.ReprocessHandler.ResetHandler)         // POST - discard terminal snapshot
	mux.HandleFunc("/api/reprocess", s.app.ReprocessHandler.SubmitHandler)              // POST - start bulk analysis

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)

	return mux
}
