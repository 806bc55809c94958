// Package capture implements the Capture Service of spec.md §4.2: it
// drives a Frame Grabber invocation for a source, writes the file and the
// Image Store row, and exposes non-blocking and blocking entry points.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gatecam/internal/config"
	"gatecam/internal/grabber"
	"gatecam/internal/logging"
	"gatecam/internal/store"
)

// ErrDisabled is returned when the target camera is disabled in settings.
var ErrDisabled = errors.New("capture: camera disabled")

// ErrUnknownSource is returned for a tag with no camera descriptor.
var ErrUnknownSource = errors.New("capture: unknown source")

// SourceStats are the per-camera counters of spec.md §4.2 step 5.
type SourceStats struct {
	Successes int
	Failures  int
	LastAt    time.Time
	LastError string
}

// Service wraps the Frame Grabber with the filename convention, a pool of
// capture slots, and per-source statistics. The pool counts in-flight
// asynchronous captures but does not cap them: CaptureAsync starts a
// capture even when every slot is taken.
type Service struct {
	cfg     *config.Store
	grab    *grabber.Grabber
	images  *store.Store
	log     *logging.Logger
	timeout time.Duration
	quality int
	dir     string

	pool chan struct{}

	mu      sync.Mutex
	stats   map[string]SourceStats
	metrics CaptureRecorder
}

// CaptureRecorder is the metrics seam the owning daemon wires in; nil by
// default so the package has no hard dependency on internal/metrics.
type CaptureRecorder interface {
	RecordCapture(source, result string)
}

// New builds a Service with a worker pool sized to len(cameras)*perCamera.
func New(cfg *config.Store, grab *grabber.Grabber, images *store.Store, log *logging.Logger, timeout time.Duration, quality, perCameraSlots int) *Service {
	n := len(cfg.Current().CameraTags()) * perCameraSlots
	if n < 1 {
		n = 1
	}
	return &Service{
		cfg:     cfg,
		grab:    grab,
		images:  images,
		log:     log,
		timeout: timeout,
		quality: quality,
		pool:    make(chan struct{}, n),
		stats:   make(map[string]SourceStats),
	}
}

// CaptureAsync schedules a capture and returns immediately; it never
// blocks the caller, per the GPIO Event Loop's invariant in spec.md §4.3.
func (s *Service) CaptureAsync(source string) {
	select {
	case s.pool <- struct{}{}:
	default:
		// Pool saturated: spawn anyway rather than drop the trigger: a
		// genuinely rapid re-trigger on the same source must still be
		// honored per spec.md §4.2's concurrency policy.
	}
	go func() {
		defer func() {
			select {
			case <-s.pool:
			default:
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout+5*time.Second)
		defer cancel()
		if _, err := s.CaptureBlocking(ctx, source); err != nil {
			s.log.Warning("capture %s: %v", source, err)
		}
	}()
}

// CaptureBlocking performs the capture synchronously and returns the
// inserted Image record. Used by the manual-capture HTTP endpoint.
func (s *Service) CaptureBlocking(ctx context.Context, source string) (*store.Image, error) {
	snap := s.cfg.Current()
	cam, ok := snap.Camera(source)
	if !ok {
		s.recordFailure(source, ErrUnknownSource.Error())
		return nil, ErrUnknownSource
	}
	if !cam.Enabled {
		s.recordFailure(source, ErrDisabled.Error())
		return nil, ErrDisabled
	}

	capturedAt := time.Now().Unix()
	filename := fmt.Sprintf("%s_%d.jpg", source, capturedAt)
	path := filepath.Join(s.storageDir(), filename)

	if err := s.grab.Grab(ctx, cam.RTSPURL(), path, s.timeout, s.quality); err != nil {
		s.recordFailure(source, err.Error())
		return nil, err
	}

	size, err := fileSize(path)
	if err != nil {
		s.recordFailure(source, err.Error())
		return nil, err
	}

	img := store.Image{
		Source:     source,
		Filename:   filename,
		Path:       path,
		CapturedAt: capturedAt,
		SizeBytes:  size,
	}
	id, err := s.images.Insert(img)
	if err != nil {
		s.recordFailure(source, err.Error())
		return nil, fmt.Errorf("capture: insert row: %w", err)
	}
	img.ID = id

	s.recordSuccess(source)
	return &img, nil
}

// storageDir is set by the owning daemon via SetStorageDir before first use.
func (s *Service) storageDir() string {
	return s.dir
}

// SetStorageDir configures the directory captures are written to.
func (s *Service) SetStorageDir(dir string) {
	s.dir = dir
}

// SetRecorder wires a metrics sink; safe to call once at startup.
func (s *Service) SetRecorder(r CaptureRecorder) {
	s.metrics = r
}

func (s *Service) recordSuccess(source string) {
	s.mu.Lock()
	st := s.stats[source]
	st.Successes++
	st.LastAt = time.Now()
	st.LastError = ""
	s.stats[source] = st
	rec := s.metrics
	s.mu.Unlock()
	if rec != nil {
		rec.RecordCapture(source, "success")
	}
}

func (s *Service) recordFailure(source, reason string) {
	s.mu.Lock()
	st := s.stats[source]
	st.Failures++
	st.LastAt = time.Now()
	st.LastError = reason
	s.stats[source] = st
	rec := s.metrics
	s.mu.Unlock()
	if rec != nil {
		rec.RecordCapture(source, "failure")
	}
}

// Stats returns a snapshot of per-source counters.
func (s *Service) Stats() map[string]SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SourceStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("capture: stat %s: %w", path, err)
	}
	return fi.Size(), nil
}
