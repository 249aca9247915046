package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fluxd/internal/dispatch"
	"github.com/seantiz/fluxd/internal/generation"
	"github.com/seantiz/fluxd/internal/model"
	"github.com/seantiz/fluxd/internal/workflow"
)

const (
	headerGenerationID  = "X-Generation-Id"
	headerGenerationIDs = "X-Generation-Ids"
)

// handleGenerate submits one request. Accepted submissions answer 204 with
// the generation id in a header; every rejection answers 400 with the
// engine's text.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req workflow.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Serialized submissions queue for the engine slot, so the wait can
	// exceed the server's write timeout.
	s.clearWriteDeadline(w, "generate")

	variant := chi.URLParam(r, "variant")
	defer s.trackGenerate(variant)()

	g, err := s.deps.Generations.Generate(r.Context(), variant, req)
	if g != nil {
		w.Header().Set(headerGenerationID, g.ID)
	}
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateBulk submits a JSON array of requests in order.
func (s *Server) handleGenerateBulk(w http.ResponseWriter, r *http.Request) {
	var reqs []workflow.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: expected an array of requests")
		return
	}

	// Each item may wait out a full correlation window.
	s.clearWriteDeadline(w, "bulk")

	variant := chi.URLParam(r, "variant")
	defer s.trackGenerate(variant)()

	gens, err := s.deps.Generations.GenerateBulk(r.Context(), variant, reqs)
	if len(gens) > 0 {
		w.Header().Set(headerGenerationIDs, joinIDs(gens))
	}
	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearWriteDeadline(w http.ResponseWriter, route string) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "route", route, "error", err)
	}
}

// writeGenerationError maps generation failures onto HTTP statuses.
func (s *Server) writeGenerationError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var item *generation.ItemError
	if errors.As(err, &item) {
		idx := item.Index
		resp.Index = &idx
	}

	var ve *workflow.ValidationError
	var rej *dispatch.RejectedError
	switch {
	case errors.Is(err, workflow.ErrUnknownVariant):
		s.writeJSON(w, http.StatusNotFound, resp)
	case errors.As(err, &ve), errors.Is(err, generation.ErrEmptyBulk):
		s.writeJSON(w, http.StatusBadRequest, resp)
	case errors.As(err, &rej):
		resp.Error = rej.Reason
		s.writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled before the engine outcome was known", Index: resp.Index})
	default:
		s.logger.Error("generate", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to submit generation", Index: resp.Index})
	}
}

func joinIDs(gens []*model.Generation) string {
	ids := make([]string, len(gens))
	for i, g := range gens {
		ids[i] = g.ID
	}
	return strings.Join(ids, ",")
}
