// Package cleanup implements the Cleanup Worker of spec.md §4.6: reclaims
// disk space from images older than the configured retention window. The
// same Run is driven by a ticker in the daemon and by /api/cleanup/run for
// an on-demand pass, grounded in original_source/cleanup_service.py's
// CleanupService.run_cleanup, reused the same way by its ticker thread and
// an on-demand trigger.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"time"

	"gatecam/internal/config"
	"gatecam/internal/logging"
	"gatecam/internal/store"
)

// Stats summarizes a single cleanup pass.
type Stats struct {
	Scanned      int
	Deleted      int
	BytesFreed   int64
	Errors       int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Worker runs periodic or on-demand cleanup passes.
type Worker struct {
	cfg    *config.Store
	images *store.Store
	log    *logging.Logger
}

// New builds a Worker.
func New(cfg *config.Store, images *store.Store, log *logging.Logger) *Worker {
	return &Worker{cfg: cfg, images: images, log: log}
}

// RunLoop ticks Run on the configured interval until ctx is canceled.
func (w *Worker) RunLoop(ctx context.Context) {
	snap := w.cfg.Current()
	interval := time.Duration(snap.CleanupIntervalHours) * time.Hour
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats, err := w.Run(ctx)
			if err != nil {
				w.log.Error("cleanup: %v", err)
				continue
			}
			w.log.Info("cleanup: deleted %d images, freed %d bytes", stats.Deleted, stats.BytesFreed)
		}
	}
}

// Run performs one cleanup pass: images captured before the retention
// cutoff are unlinked from disk, then their row is deleted. The file is
// always removed before the row, so a crash mid-pass leaves an orphan row
// (re-collected next pass) rather than an orphan file nobody will ever
// revisit.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	stats := Stats{StartedAt: time.Now()}
	snap := w.cfg.Current()
	retention := snap.RetentionDays
	if retention <= 0 {
		stats.FinishedAt = time.Now()
		return stats, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retention).Unix()

	images, err := w.images.SelectOlderThan(cutoff)
	if err != nil {
		return stats, fmt.Errorf("cleanup: select candidates: %w", err)
	}
	stats.Scanned = len(images)

	for _, img := range images {
		if ctx.Err() != nil {
			break
		}

		size := img.SizeBytes
		if err := os.Remove(img.Path); err != nil && !os.IsNotExist(err) {
			stats.Errors++
			w.log.Warning("cleanup: remove %s: %v", img.Path, err)
			continue
		}
		if err := w.images.Delete(img.ID); err != nil {
			stats.Errors++
			w.log.Warning("cleanup: delete row %d: %v", img.ID, err)
			continue
		}
		stats.Deleted++
		stats.BytesFreed += size
	}

	stats.FinishedAt = time.Now()
	return stats, nil
}
