package httpserver

import (
	"encoding/json"
	"net/http"
	"os"
)

// handleMetadata serves the deployment metadata file verbatim. A missing or
// malformed file is an explicit 500, never a silent hardcoded default.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.cfg.MetadataPath)
	if err != nil {
		s.log.Error("read metadata file", "path", s.cfg.MetadataPath, "err", err)
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: apiError{
			Type:    "InternalError",
			Code:    "METADATA_UNAVAILABLE",
			Message: "deployment metadata is unavailable",
		}})
		return
	}
	if !json.Valid(data) {
		s.log.Error("metadata file is not valid JSON", "path", s.cfg.MetadataPath)
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: apiError{
			Type:    "InternalError",
			Code:    "METADATA_UNAVAILABLE",
			Message: "deployment metadata is unavailable",
		}})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
