package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "gatecam.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetByFilename(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Insert(Image{Source: "r1", Filename: "r1_1000.jpg", Path: "/tmp/r1_1000.jpg", CapturedAt: 1000, SizeBytes: 2048})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	img, err := s.GetByFilename("r1_1000.jpg")
	if err != nil {
		t.Fatalf("GetByFilename: %v", err)
	}
	if img == nil {
		t.Fatal("expected a row")
	}
	if img.Uploaded {
		t.Fatal("expected freshly inserted row to be pending")
	}
}

func TestGetPendingOrdersByID(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.Insert(Image{Source: "r1", Filename: filenameFor(i), Path: "/tmp/x", CapturedAt: int64(i)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	pending, err := s.GetPending(10)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending rows, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i-1].ID > pending[i].ID {
			t.Fatal("expected ascending id order")
		}
	}
}

func TestMarkUploadedRemovesFromPending(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.Insert(Image{Source: "r1", Filename: "a.jpg", Path: "/tmp/a.jpg", CapturedAt: 1})

	if err := s.MarkUploaded(id); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	pending, err := s.GetPending(10)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows, got %d", len(pending))
	}
}

func TestMarkAbandonedDropsFromQueue(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.Insert(Image{Source: "r1", Filename: "b.jpg", Path: "/tmp/b.jpg", CapturedAt: 1})

	if err := s.MarkAbandoned(id, "file_missing"); err != nil {
		t.Fatalf("MarkAbandoned: %v", err)
	}

	pending, _ := s.GetPending(10)
	if len(pending) != 0 {
		t.Fatal("expected abandoned row to leave the pending queue")
	}

	img, err := s.GetByFilename("b.jpg")
	if err != nil {
		t.Fatalf("GetByFilename: %v", err)
	}
	if img.LastError == nil || *img.LastError != "file_missing" {
		t.Fatalf("expected last_error to record the reason, got %v", img.LastError)
	}
}

func TestStatsAggregatesPerSource(t *testing.T) {
	s := openTestStore(t)
	s.Insert(Image{Source: "r1", Filename: "c1.jpg", Path: "/tmp/c1.jpg", CapturedAt: 1})
	s.Insert(Image{Source: "r2", Filename: "c2.jpg", Path: "/tmp/c2.jpg", CapturedAt: 2})

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalImages != 2 {
		t.Fatalf("expected 2 total images, got %d", stats.TotalImages)
	}
	if stats.PerSource["r1"] != 1 || stats.PerSource["r2"] != 1 {
		t.Fatalf("unexpected per-source counts: %+v", stats.PerSource)
	}
}

func TestSelectOlderThanAndDelete(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.Insert(Image{Source: "r1", Filename: "old.jpg", Path: "/tmp/old.jpg", CapturedAt: 100})

	old, err := s.SelectOlderThan(200)
	if err != nil {
		t.Fatalf("SelectOlderThan: %v", err)
	}
	if len(old) != 1 {
		t.Fatalf("expected 1 old row, got %d", len(old))
	}

	if err := s.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	img, err := s.GetByFilename("old.jpg")
	if err != nil {
		t.Fatalf("GetByFilename: %v", err)
	}
	if img != nil {
		t.Fatal("expected row to be gone after Delete")
	}
}

func filenameFor(i int) string {
	return "f" + string(rune('a'+i)) + ".jpg"
}
