package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gatecam/internal/config"
	"gatecam/internal/logging"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	cfg, err := config.NewStore(envPath)
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	log, err := logging.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	return New(cfg, log, time.Hour, 200*time.Millisecond, dir, nil)
}

func TestReadCPUTempHasSomeAnswerOrReportsUnavailable(t *testing.T) {
	temp, ok := readCPUTemp()
	if ok && temp <= 0 {
		t.Fatalf("expected a positive temperature when ok=true, got %v", temp)
	}
}

func TestSnapshotBeforeTickIsEmpty(t *testing.T) {
	m := newTestMonitor(t)
	snap := m.Snapshot()
	if snap.Cameras == nil {
		t.Fatal("expected a non-nil (possibly empty) camera map before the first tick")
	}
}

func TestTickPublishesCameraStatuses(t *testing.T) {
	m := newTestMonitor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.tick()

	snap := m.Snapshot()
	if len(snap.Cameras) == 0 {
		t.Fatal("expected camera statuses after a tick")
	}
	for tag, cs := range snap.Cameras {
		if cs.Source != tag {
			t.Fatalf("expected status source to match tag, got %+v", cs)
		}
	}
	_ = ctx
}
