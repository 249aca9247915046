package api

import (
	"context"
	"net/http"
	"time"
)

// pingTimeout bounds the engine liveness probe.
const pingTimeout = 2 * time.Second

type healthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
	Error  string `json:"error,omitempty"`
}

// handleHealthz answers 200 only when the engine process is alive and its
// HTTP API responds.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := string(s.deps.Engine.State())
	if !s.deps.Engine.IsRunning() {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unavailable",
			Engine: state,
			Error:  "engine process is not running",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := s.deps.Client.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unavailable",
			Engine: state,
			Error:  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Engine: state})
}

// handleQueueStatus proxies the engine's pending and running counts.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	qs, err := s.deps.Client.QueueStatus(r.Context())
	if err != nil {
		s.logger.Warn("engine queue status", "error", err)
		s.writeError(w, http.StatusBadGateway, "engine unreachable: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, qs)
}
