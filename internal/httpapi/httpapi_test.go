package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gatecam/internal/capture"
	"gatecam/internal/cleanup"
	"gatecam/internal/config"
	"gatecam/internal/grabber"
	"gatecam/internal/health"
	"gatecam/internal/hub"
	"gatecam/internal/logging"
	"gatecam/internal/metrics"
	"gatecam/internal/store"
)

func newFakeFFmpeg(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")
	body := "#!/bin/bash\n" +
		"out=\"${@: -1}\"\n" +
		"printf '\\xFF\\xD8rest' > \"$out\"\n" +
		"exit 0\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	old := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+old)
	t.Cleanup(func() { os.Setenv("PATH", old) })
}

func newTestServer(t *testing.T, authEnabled bool) *Server {
	t.Helper()
	newFakeFFmpeg(t)
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("CAMERA_1_IP=10.0.0.5\n"), 0o644)
	cfg, err := config.NewStore(envPath)
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}

	images, err := store.Open(filepath.Join(dir, "gatecam.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { images.Close() })

	grab, err := grabber.New()
	if err != nil {
		t.Fatalf("grabber.New: %v", err)
	}
	log, err := logging.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	capturer := capture.New(cfg, grab, images, log, 2*time.Second, 2, 2)
	capturer.SetStorageDir(filepath.Join(dir, "images"))

	monitor := health.New(cfg, log, time.Hour, 200*time.Millisecond, dir, nil)
	cleaner := cleanup.New(cfg, images, log)
	live := hub.New(log)
	reg := metrics.New()

	return New(cfg, images, capturer, nil, monitor, cleaner, live, reg, log, authEnabled)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Cameras["r1"]; !ok {
		t.Fatalf("expected camera r1 in status, got %+v", body.Cameras)
	}
}

func TestHandleManualCaptureAndListImages(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/capture/r1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/images?source=r1", nil)
	listRec := httptest.NewRecorder()
	s.Router().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var images []store.Image
	if err := json.Unmarshal(listRec.Body.Bytes(), &images); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
}

func TestUnauthorizedWithoutSession(t *testing.T) {
	s := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestConfigGetAndUpdate(t *testing.T) {
	s := newTestServer(t, false)

	getReq := httptest.NewRequest(http.MethodGet, "/api/config/get", nil)
	getRec := httptest.NewRecorder()
	s.Router().ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	patch, _ := json.Marshal(map[string]string{"UPLOAD_ENABLED": "false"})
	updReq := httptest.NewRequest(http.MethodPost, "/api/config/update", bytes.NewReader(patch))
	updRec := httptest.NewRecorder()
	s.Router().ServeHTTP(updRec, updReq)
	if updRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", updRec.Code, updRec.Body.String())
	}

	coldPatch, _ := json.Marshal(map[string]string{"BIND_PORT": "1"})
	coldReq := httptest.NewRequest(http.MethodPost, "/api/config/update", bytes.NewReader(coldPatch))
	coldRec := httptest.NewRecorder()
	s.Router().ServeHTTP(coldRec, coldReq)
	if coldRec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for cold key, got %d", coldRec.Code)
	}
}

func TestCleanupRun(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/cleanup/run", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
