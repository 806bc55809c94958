package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeEnv(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestNewStoreCreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected settings file to be created: %v", err)
	}
	if s.Current() == nil {
		t.Fatal("expected an initial snapshot")
	}
}

func TestCameraDefaultsAndOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeEnv(t, dir, "CAMERA_1_IP=10.0.0.5\nCAMERA_2_RTSP=rtsp://override/stream\n")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snap := s.Current()

	cam, ok := snap.Camera("r1")
	if !ok {
		t.Fatal("expected camera r1 to exist")
	}
	if cam.IP != "10.0.0.5" {
		t.Fatalf("expected IP 10.0.0.5, got %q", cam.IP)
	}
	if !cam.Enabled {
		t.Fatal("expected camera to default enabled")
	}

	cam2, _ := snap.Camera("r2")
	if cam2.RTSPURL() != "rtsp://override/stream" {
		t.Fatalf("expected override RTSP URL, got %q", cam2.RTSPURL())
	}
}

func TestUpdateRejectsColdKey(t *testing.T) {
	dir := t.TempDir()
	path := writeEnv(t, dir, "")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	err = s.Update(map[string]string{"BIND_PORT": "1234"})
	if !errors.Is(err, ErrColdKey) {
		t.Fatalf("expected ErrColdKey, got %v", err)
	}
}

func TestUpdateHotKeyPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeEnv(t, dir, "")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Update(map[string]string{"UPLOAD_ENABLED": "false"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.Current().UploadEnabled {
		t.Fatal("expected UploadEnabled to be false after update")
	}

	// A fresh store reading the same file sees the persisted value.
	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore (reload): %v", err)
	}
	if s2.Current().UploadEnabled {
		t.Fatal("expected persisted UploadEnabled=false on reload")
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeEnv(t, dir, "CAMERA_PASSWORD=hunter2\nUPLOAD_AUTH_BEARER=topsecret\n")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	red := s.Current().Redacted()
	if red["CAMERA_PASSWORD"] == "hunter2" {
		t.Fatal("expected CAMERA_PASSWORD to be masked")
	}
	if red["UPLOAD_AUTH_BEARER"] == "topsecret" {
		t.Fatal("expected UPLOAD_AUTH_BEARER to be masked")
	}
}

func TestColdKeysSorted(t *testing.T) {
	keys := ColdKeys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("expected sorted cold keys, got %v", keys)
		}
	}
}
