// Package health implements the Health Monitor of spec.md §4.5: a
// low-frequency background loop that probes camera reachability and board
// temperature without ever blocking capture or upload. Grounded in
// original_source/health_monitor.py's periodic check loop; the camera
// probe reuses gocv.io/x/gocv the way the teacher's detector package opens
// a gocv.VideoCapture, but only to test reachability, not to decode frames
// for analysis (on-device analysis is out of scope).
package health

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/shirou/gopsutil/v3/host"

	"gatecam/internal/config"
	"gatecam/internal/logging"
)

// CameraStatus is the liveness record for a single source.
type CameraStatus struct {
	Source    string
	Online    bool
	CheckedAt time.Time
	LastError string
}

// Snapshot is the full health picture served at /api/health.
type Snapshot struct {
	Cameras     map[string]CameraStatus
	CPUTempC    float64
	CPUTempOK   bool
	UpdatedAt   time.Time
	DiskFreeMB  int64
	DiskFreeOK  bool
}

// Monitor runs camera-reachability and board-temperature checks on its own
// goroutine, publishing an immutable Snapshot for readers.
type Monitor struct {
	cfg       *config.Store
	log       *logging.Logger
	interval  time.Duration
	probeTO   time.Duration
	storageDir string

	onTransition func(source string, online bool)
	metrics      Recorder

	mu   sync.RWMutex
	snap Snapshot
}

// Recorder is the metrics seam the owning daemon wires in; nil by default.
type Recorder interface {
	SetCPUTemp(c float64)
}

// SetRecorder wires a metrics sink; safe to call once at startup.
func (m *Monitor) SetRecorder(r Recorder) {
	m.metrics = r
}

// New builds a Monitor. onTransition, if non-nil, is called whenever a
// camera's online/offline state changes, for the live push hub.
func New(cfg *config.Store, log *logging.Logger, interval, probeTimeout time.Duration, storageDir string, onTransition func(source string, online bool)) *Monitor {
	return &Monitor{
		cfg:          cfg,
		log:          log,
		interval:     interval,
		probeTO:      probeTimeout,
		storageDir:   storageDir,
		onTransition: onTransition,
		snap:         Snapshot{Cameras: map[string]CameraStatus{}},
	}
}

// Run blocks, checking every interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.tick()
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	snap := m.cfg.Current()
	prev := m.Snapshot()

	cameras := make(map[string]CameraStatus, len(snap.CameraTags()))
	for _, tag := range snap.CameraTags() {
		cam, _ := snap.Camera(tag)
		if !cam.Enabled {
			continue
		}
		online, err := probeRTSP(cam.RTSPURL(), m.probeTO)
		cs := CameraStatus{Source: tag, Online: online, CheckedAt: time.Now()}
		if err != nil {
			cs.LastError = err.Error()
		}
		cameras[tag] = cs

		if prevCS, ok := prev.Cameras[tag]; !ok || prevCS.Online != online {
			m.log.Info("camera %s online=%v", tag, online)
			if m.onTransition != nil {
				m.onTransition(tag, online)
			}
		}
	}

	tempC, tempOK := readCPUTemp()
	freeMB, diskOK := diskFreeMB(m.storageDir)
	if tempOK && m.metrics != nil {
		m.metrics.SetCPUTemp(tempC)
	}

	m.mu.Lock()
	m.snap = Snapshot{
		Cameras:    cameras,
		CPUTempC:   tempC,
		CPUTempOK:  tempOK,
		DiskFreeMB: freeMB,
		DiskFreeOK: diskOK,
		UpdatedAt:  time.Now(),
	}
	m.mu.Unlock()
}

// Snapshot returns the most recently published health picture.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// probeRTSP opens and immediately closes a VideoCapture against url,
// racing it against timeout on its own goroutine since gocv's open call
// has no context support.
func probeRTSP(url string, timeout time.Duration) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(url)
		if err != nil {
			ch <- result{false, err}
			return
		}
		defer vc.Close()
		ch <- result{vc.IsOpened(), nil}
	}()

	select {
	case r := <-ch:
		return r.ok, r.err
	case <-time.After(timeout):
		return false, context.DeadlineExceeded
	}
}

// readCPUTemp reports the board's CPU temperature in Celsius, preferring
// gopsutil's cross-platform sensor API and falling back to the Raspberry
// Pi thermal-zone sysfs file when gopsutil reports nothing (common in
// minimal distros with no lm-sensors).
func readCPUTemp() (float64, bool) {
	temps, err := host.SensorsTemperatures()
	if err == nil {
		for _, t := range temps {
			if t.Temperature > 0 {
				return t.Temperature, true
			}
		}
	}

	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, false
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return milli / 1000.0, true
}

func diskFreeMB(dir string) (int64, bool) {
	free, err := freeBytes(dir)
	if err != nil {
		return 0, false
	}
	return free / (1024 * 1024), true
}
