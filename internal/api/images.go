package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fluxd/internal/outputs"
)

type listImagesResponse struct {
	Images []outputs.Image `json:"images"`
}

type deleteImagesResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	if !s.outputsEnabled(w) {
		return
	}
	images, err := s.deps.Outputs.List()
	if err != nil {
		s.logger.Error("list images", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	s.writeJSON(w, http.StatusOK, listImagesResponse{Images: images})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	if !s.outputsEnabled(w) {
		return
	}
	f, img, err := s.deps.Outputs.Open(chi.URLParam(r, "name"))
	if err != nil {
		s.writeImageError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, img.Name, img.ModTime, f)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if !s.outputsEnabled(w) {
		return
	}
	if err := s.deps.Outputs.Delete(chi.URLParam(r, "name")); err != nil {
		s.writeImageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllImages(w http.ResponseWriter, r *http.Request) {
	if !s.outputsEnabled(w) {
		return
	}
	n, err := s.deps.Outputs.DeleteAll()
	if err != nil {
		s.logger.Error("delete images", "error", err, "deleted", n)
		s.writeError(w, http.StatusInternalServerError, "failed to delete images")
		return
	}
	s.writeJSON(w, http.StatusOK, deleteImagesResponse{Deleted: n})
}

// handleImageArchive streams every image as one zip file.
func (s *Server) handleImageArchive(w http.ResponseWriter, r *http.Request) {
	if !s.outputsEnabled(w) {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for archive", "error", err)
	}

	name := fmt.Sprintf("images-%s.zip", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	n, err := s.deps.Outputs.WriteZip(w)
	if err != nil {
		// Headers are already sent; the client sees a truncated archive.
		s.logger.Error("write image archive", "error", err, "written", n)
	}
}

func (s *Server) outputsEnabled(w http.ResponseWriter) bool {
	if s.deps.Outputs == nil {
		s.writeError(w, http.StatusNotFound, "output images are not configured")
		return false
	}
	return true
}

func (s *Server) writeImageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, outputs.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, outputs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "image not found")
	default:
		s.logger.Error("image", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to access image")
	}
}
