package httpapi

import "net/http"

// handleCleanupRun triggers an on-demand Cleanup Worker pass, reusing the
// same Run the background ticker calls.
func (s *Server) handleCleanupRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	stats, err := s.cleaner.Run(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
