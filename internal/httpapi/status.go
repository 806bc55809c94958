package httpapi

import (
	"net/http"
)

type statusResponse struct {
	Cameras        map[string]cameraStatus `json:"cameras"`
	TriggerEnabled bool                    `json:"trigger_enabled"`
	UploadEnabled  bool                    `json:"upload_enabled"`
}

type cameraStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// handleStatus reports the effective settings-derived camera roster, the
// lightweight companion to /api/health's liveness data.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Current()
	out := statusResponse{
		Cameras:        make(map[string]cameraStatus, len(snap.CameraTags())),
		TriggerEnabled: snap.TriggerEnabled,
		UploadEnabled:  snap.UploadEnabled,
	}
	for _, tag := range snap.CameraTags() {
		cam, _ := snap.Camera(tag)
		out.Cameras[tag] = cameraStatus{Name: cam.Name, Enabled: cam.Enabled}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStats reports Image Store queue depth and per-source counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.images.Stats()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	captureStats := s.capturer.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"store":   stats,
		"capture": captureStats,
	})
}

// handleHealth reports the Health Monitor's last published snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

// handleGPIOStatus reports pin levels, counters, and recent trigger events.
func (s *Server) handleGPIOStatus(w http.ResponseWriter, r *http.Request) {
	if s.gpioLoop == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.gpioLoop.Status())
}
