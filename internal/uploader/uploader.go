// Package uploader implements the Uploader of spec.md §4.4: a single
// background worker that drains pending Image Store rows, performs a
// multipart POST with bounded per-item retry, and honors a cached
// connectivity flag so the daemon tolerates arbitrary offline intervals.
// Grounded in original_source/uploader.py's run_forever drain loop.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gatecam/internal/config"
	"gatecam/internal/logging"
	"gatecam/internal/store"
)

// MaxItemBytes is the per-item size ceiling of spec.md §4.4; larger files
// are marked terminally failed rather than POSTed.
const MaxItemBytes = 15 * 1024 * 1024

// Prober checks whether the remote intake's network appears reachable.
// The default implementation dials a well-known host over TCP.
type Prober func(ctx context.Context) bool

// Uploader drains the Image Store's pending queue on a single goroutine.
type Uploader struct {
	cfg   *config.Store
	store *store.Store
	log   *logging.Logger
	http  *http.Client
	probe Prober

	batchSize int

	online      atomic.Bool
	lastProbeAt atomic.Int64

	metrics UploadRecorder
}

// UploadRecorder is the metrics seam the owning daemon wires in.
type UploadRecorder interface {
	RecordUpload(result string)
	SetQueueDepth(n int)
}

// New constructs an Uploader. If UploadFieldName is unset at the current
// snapshot, Run still starts (settings are hot-reloadable) but every drain
// pass logs a ConfigError and skips uploading until the field name is set.
func New(cfg *config.Store, st *store.Store, log *logging.Logger, batchSize int, probe Prober) *Uploader {
	if probe == nil {
		probe = DefaultProbe("8.8.8.8:53")
	}
	u := &Uploader{
		cfg:       cfg,
		store:     st,
		log:       log,
		http:      &http.Client{Timeout: 30 * time.Second},
		probe:     probe,
		batchSize: batchSize,
	}
	u.online.Store(true)
	return u
}

// SetRecorder wires a metrics sink; safe to call once at startup.
func (u *Uploader) SetRecorder(r UploadRecorder) {
	u.metrics = r
}

// DefaultProbe returns a Prober that TCP-dials addr with a 5s timeout.
func DefaultProbe(addr string) Prober {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: 5 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Run is the drain loop of spec.md §4.4. It blocks until ctx is canceled.
func (u *Uploader) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !u.reachable(ctx) {
			pending, _ := u.store.Stats()
			u.log.Info("uploader offline, %d pending", pending.PendingUpload)
			if !sleepCtx(ctx, 15*time.Second) {
				return
			}
			continue
		}

		snap := u.cfg.Current()
		if !snap.UploadEnabled {
			if !sleepCtx(ctx, 15*time.Second) {
				return
			}
			continue
		}
		if snap.UploadFieldName == "" {
			u.log.Error("uploader: %v", config.ErrMissingFieldName)
			if !sleepCtx(ctx, 15*time.Second) {
				return
			}
			continue
		}

		batch, err := u.store.GetPending(u.batchSize)
		if err != nil {
			u.log.Error("uploader: fetch batch: %v", err)
			if !sleepCtx(ctx, 15*time.Second) {
				return
			}
			continue
		}
		if u.metrics != nil {
			if stats, err := u.store.Stats(); err == nil {
				u.metrics.SetQueueDepth(stats.PendingUpload)
			}
		}

		if len(batch) == 0 {
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		anyFailed := false
		for _, item := range batch {
			if err := u.uploadItem(ctx, item, snap); err != nil {
				anyFailed = true
			}
		}

		delay := 5 * time.Second
		if anyFailed {
			delay = 15 * time.Second
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (u *Uploader) reachable(ctx context.Context) bool {
	snap := u.cfg.Current()
	interval := time.Duration(snap.ConnectivityCheckSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	last := time.Unix(0, u.lastProbeAt.Load())
	if time.Since(last) < interval {
		return u.online.Load()
	}

	wasOnline := u.online.Load()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	isOnline := u.probe(probeCtx)
	cancel()

	u.lastProbeAt.Store(time.Now().UnixNano())
	u.online.Store(isOnline)

	if isOnline != wasOnline {
		if isOnline {
			u.log.Info("uploader: connectivity restored")
		} else {
			u.log.Warning("uploader: connectivity lost")
		}
	}
	return isOnline
}

// uploadItem performs the bounded per-item retry loop of spec.md §4.4.
func (u *Uploader) uploadItem(ctx context.Context, item store.Image, snap *config.Snapshot) error {
	if !store.FileExists(item.Path) {
		// Resolves the "missing backing file" open question: drop from
		// the queue rather than retry forever or delete the row.
		u.recordResult("abandoned")
		return u.store.MarkAbandoned(item.ID, "file_missing")
	}

	info, err := os.Stat(item.Path)
	if err != nil {
		u.recordResult("abandoned")
		return u.store.MarkAbandoned(item.ID, "file_missing")
	}
	if info.Size() > MaxItemBytes {
		u.recordResult("abandoned")
		return u.store.MarkAbandoned(item.ID, "oversize")
	}

	maxAttempts := snap.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := time.Duration(snap.RetryDelaySeconds) * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
		}

		status, err := u.post(ctx, item, snap)
		_ = u.store.MarkAttempt(item.ID, attemptReason(status, err))
		if err == nil && status == http.StatusOK {
			u.recordResult("success")
			return u.store.MarkUploaded(item.ID)
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("http %d", status)
		}
	}
	u.recordResult("failure")
	return lastErr
}

func (u *Uploader) recordResult(result string) {
	if u.metrics != nil {
		u.metrics.RecordUpload(result)
	}
}

func attemptReason(status int, err error) string {
	if err != nil {
		return "transport: " + err.Error()
	}
	return fmt.Sprintf("http %d", status)
}

func (u *Uploader) post(ctx context.Context, item store.Image, snap *config.Snapshot) (int, error) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := createJPEGPart(mw, snap.UploadFieldName, filepath.Base(item.Path))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return 0, fmt.Errorf("write multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snap.UploadEndpoint, &body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if snap.UploadBearer != "" {
		req.Header.Set("Authorization", "Bearer "+snap.UploadBearer)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func createJPEGPart(mw *multipart.Writer, field, filename string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	return part, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
