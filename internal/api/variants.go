package api

import (
	"net/http"

	"github.com/seantiz/fluxd/internal/workflow"
)

// variantResponse adds model readiness to a variant's description.
type variantResponse struct {
	workflow.VariantInfo
	MissingModels []string `json:"missing_models"`
}

func (s *Server) handleListVariants(w http.ResponseWriter, _ *http.Request) {
	infos := s.deps.Variants.List()
	out := make([]variantResponse, 0, len(infos))
	for _, info := range infos {
		missing := []string{}
		if s.deps.Assets != nil {
			if m := s.deps.Assets.Missing(info.RequiredModels); m != nil {
				missing = m
			}
		}
		out = append(out, variantResponse{VariantInfo: info, MissingModels: missing})
	}
	s.writeJSON(w, http.StatusOK, out)
}
