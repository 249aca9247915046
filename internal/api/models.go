package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fluxd/internal/assets"
)

type listModelsResponse struct {
	Models []assets.Status `json:"models"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if !s.assetsEnabled(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, listModelsResponse{Models: s.deps.Assets.List()})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	if !s.assetsEnabled(w) {
		return
	}
	st, err := s.deps.Assets.Status(chi.URLParam(r, "name"))
	if err != nil {
		s.writeAssetError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleDownloadModel starts a background download and answers 202 with
// the asset's state. Repeating the call while it runs is harmless.
func (s *Server) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	if !s.assetsEnabled(w) {
		return
	}
	st, err := s.deps.Assets.StartDownload(chi.URLParam(r, "name"))
	if err != nil {
		s.writeAssetError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if !s.assetsEnabled(w) {
		return
	}
	if err := s.deps.Assets.Delete(chi.URLParam(r, "name")); err != nil {
		s.writeAssetError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assetsEnabled(w http.ResponseWriter) bool {
	if s.deps.Assets == nil {
		s.writeError(w, http.StatusNotFound, "model assets are not configured")
		return false
	}
	return true
}

func (s *Server) writeAssetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assets.ErrUnknownAsset):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, assets.ErrAssetBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("model asset", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to manage model asset")
	}
}
