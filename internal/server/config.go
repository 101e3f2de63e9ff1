package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/wesm/ctxview/internal/config"
	"github.com/wesm/ctxview/internal/source"
)

type workspaceResponse struct {
	config.WorkspaceSettings
	Layout     source.Layout `json:"layout"`
	Configured bool          `json:"configured"`
}

func (s *Server) workspaceSnapshot() workspaceResponse {
	s.mu.RLock()
	settings := s.cfg.Settings()
	s.mu.RUnlock()
	layout := s.sources.Layout()
	return workspaceResponse{
		WorkspaceSettings: settings,
		Layout:            layout,
		Configured:        layout.Configured(),
	}
}

func (s *Server) handleGetWorkspace(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.workspaceSnapshot())
}

// handleSetWorkspace saves new workspace settings and points the
// sources at the new layout. An empty workspace unconfigures them.
func (s *Server) handleSetWorkspace(
	w http.ResponseWriter, r *http.Request,
) {
	var req config.WorkspaceSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	err := s.cfg.SaveWorkspace(req)
	layout := s.cfg.Layout()
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.sources.Configure(layout)
	s.onWorkspace(layout)
	log.Printf("workspace set to %q", layout.Root)
	writeJSON(w, http.StatusOK, s.workspaceSnapshot())
}
