package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"gatecam/internal/config"
)

// handleConfigGet returns the redacted settings snapshot plus the list of
// keys that require a restart, so an operator UI can grey those out.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings":  snap.Redacted(),
		"cold_keys": config.ColdKeys(),
	})
}

// handleConfigUpdate applies a hot-settings patch, rejecting any cold key
// with 422 rather than silently ignoring it.
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if err := s.cfg.Update(patch); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrColdKey) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfigReload re-reads the .env file from disk, picking up manual
// edits made outside the API without requiring a process restart.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := s.cfg.Reload(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
