package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fluxd/internal/model"
	"github.com/seantiz/fluxd/internal/store"
)

// listGenerationsResponse wraps the paginated list response.
type listGenerationsResponse struct {
	Generations []*model.Generation `json:"generations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	g, err := s.deps.Store.GetGeneration(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	if err != nil {
		s.logger.Error("get generation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get generation")
		return
	}

	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	gens, total, err := s.deps.Store.ListGenerations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list generations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list generations")
		return
	}

	if gens == nil {
		gens = []*model.Generation{}
	}

	s.writeJSON(w, http.StatusOK, listGenerationsResponse{
		Generations: gens,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}
