package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// handleListImages serves /api/images?source=&limit=&offset=, the
// paginated metadata listing of spec.md §6.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("source")
	limit := parseIntDefault(q.Get("limit"), 50)
	offset := parseIntDefault(q.Get("offset"), 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	images, err := s.images.List(source, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// handleGetImage serves /api/images/{filename}: metadata as JSON, or the
// raw JPEG bytes when ?raw=1 is set.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimPrefix(r.URL.Path, "/api/images/")
	if filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filename required"})
		return
	}

	img, err := s.images.GetByFilename(filename)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if img == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, img.Path)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// handleListImagesByDate serves /api/images/by-date?date=YYYY-MM-DD&source=,
// wiring store.ListByDay for callers that want a single day's captures
// without paging through the whole history by offset.
func (s *Server) handleListImagesByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dateStr := q.Get("date")
	if dateStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date required (YYYY-MM-DD)"})
		return
	}
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	dayStart := day.Unix()
	dayEnd := day.AddDate(0, 0, 1).Unix()
	images, err := s.images.ListByDay(dayStart, dayEnd, q.Get("source"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
