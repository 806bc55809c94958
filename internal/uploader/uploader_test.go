package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gatecam/internal/config"
	"gatecam/internal/logging"
	"gatecam/internal/store"
)

func newTestUploader(t *testing.T, envExtra string, probe Prober) (*Uploader, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	contents := "UPLOAD_ENABLED=true\nUPLOAD_FIELD_NAME=image\nMAX_RETRIES=2\nRETRY_DELAY=0\n" + envExtra
	if err := os.WriteFile(envPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	cfg, err := config.NewStore(envPath)
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}

	images, err := store.Open(filepath.Join(dir, "gatecam.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { images.Close() })

	log, err := logging.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	u := New(cfg, images, log, 10, probe)
	return u, images, dir
}

func alwaysOnline(ctx context.Context) bool { return true }

func TestUploadItemSuccess(t *testing.T) {
	var gotField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if _, ok := r.MultipartForm.File["image"]; ok {
			gotField = "image"
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, images, dir := newTestUploader(t, "UPLOAD_ENDPOINT="+srv.URL+"\n", alwaysOnline)

	imgPath := filepath.Join(dir, "shot.jpg")
	if err := os.WriteFile(imgPath, []byte{0xFF, 0xD8, 0, 1, 2}, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	id, err := images.Insert(store.Image{Source: "r1", Filename: "shot.jpg", Path: imgPath, CapturedAt: 1})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	item, _ := images.GetByFilename("shot.jpg")
	if err := u.uploadItem(context.Background(), *item, u.cfg.Current()); err != nil {
		t.Fatalf("uploadItem: %v", err)
	}
	if gotField != "image" {
		t.Fatal("expected multipart field named 'image'")
	}

	got, err := images.GetByFilename("shot.jpg")
	if err != nil {
		t.Fatalf("GetByFilename: %v", err)
	}
	if !got.Uploaded {
		t.Fatal("expected row marked uploaded")
	}
	_ = id
}

func TestUploadItemMissingFileAbandons(t *testing.T) {
	u, images, dir := newTestUploader(t, "UPLOAD_ENDPOINT=http://example.invalid\n", alwaysOnline)

	missingPath := filepath.Join(dir, "gone.jpg")
	images.Insert(store.Image{Source: "r1", Filename: "gone.jpg", Path: missingPath, CapturedAt: 1})
	item, _ := images.GetByFilename("gone.jpg")

	if err := u.uploadItem(context.Background(), *item, u.cfg.Current()); err != nil {
		t.Fatalf("uploadItem: %v", err)
	}

	got, _ := images.GetByFilename("gone.jpg")
	if !got.Uploaded {
		t.Fatal("expected missing-file row to be marked resolved (abandoned)")
	}
	if got.LastError == nil || *got.LastError != "file_missing" {
		t.Fatalf("expected last_error=file_missing, got %v", got.LastError)
	}
}

func TestUploadItemOversizeAbandons(t *testing.T) {
	u, images, dir := newTestUploader(t, "UPLOAD_ENDPOINT=http://example.invalid\n", alwaysOnline)

	bigPath := filepath.Join(dir, "big.jpg")
	big := make([]byte, MaxItemBytes+1)
	os.WriteFile(bigPath, big, 0o644)
	images.Insert(store.Image{Source: "r1", Filename: "big.jpg", Path: bigPath, CapturedAt: 1})
	item, _ := images.GetByFilename("big.jpg")

	if err := u.uploadItem(context.Background(), *item, u.cfg.Current()); err != nil {
		t.Fatalf("uploadItem: %v", err)
	}
	got, _ := images.GetByFilename("big.jpg")
	if got.LastError == nil || *got.LastError != "oversize" {
		t.Fatalf("expected last_error=oversize, got %v", got.LastError)
	}
}

func TestReachableCachesUntilInterval(t *testing.T) {
	var calls int32
	probe := func(ctx context.Context) bool {
		atomic.AddInt32(&calls, 1)
		return true
	}
	u, _, _ := newTestUploader(t, "CONNECTIVITY_CHECK_INTERVAL=3600\n", probe)

	if !u.reachable(context.Background()) {
		t.Fatal("expected reachable")
	}
	if !u.reachable(context.Background()) {
		t.Fatal("expected reachable (cached)")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected probe to be called once within the interval, got %d", calls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	u, _, _ := newTestUploader(t, "UPLOAD_ENDPOINT=http://example.invalid\n", alwaysOnline)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}
