package httpapi

import (
	"net/http"
	"strings"
)

// handleManualCapture serves POST /api/capture/<source>, the synchronous
// manual-override path of spec.md §6 alongside the GPIO path.
func (s *Server) handleManualCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	source := strings.TrimPrefix(r.URL.Path, "/api/capture/")
	if source == "" || strings.Contains(source, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source required"})
		return
	}

	img, err := s.capturer.CaptureBlocking(r.Context(), source)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, img)
}
