// Package app wires every component of the capture daemon together,
// mirroring the shape of the teacher's internal/app.App: a constructor
// that builds each service, and a Run that starts them and serves HTTP
// until told to stop.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gatecam/internal/capture"
	"gatecam/internal/cleanup"
	"gatecam/internal/config"
	"gatecam/internal/gpio"
	"gatecam/internal/grabber"
	"gatecam/internal/health"
	"gatecam/internal/httpapi"
	"gatecam/internal/hub"
	"gatecam/internal/logging"
	"gatecam/internal/metrics"
	"gatecam/internal/store"
	"gatecam/internal/uploader"
)

// shutdownDeadline bounds how long Run waits for background goroutines to
// join after the stop signal, per spec.md §5's graceful-shutdown invariant.
const shutdownDeadline = 10 * time.Second

// App owns every long-lived component of the daemon.
type App struct {
	cold config.ColdSettings

	settings *config.Store
	logger   *logging.Logger
	images   *store.Store
	grab     *grabber.Grabber
	capturer *capture.Service
	gpioLoop *gpio.Loop
	uploader *uploader.Uploader
	monitor  *health.Monitor
	cleaner  *cleanup.Worker
	live     *hub.Hub
	reg      *metrics.Registry
	server   *http.Server
}

// New constructs every component from cold settings and the initial
// Settings Store snapshot. Errors here are all startup-fatal.
func New(cold config.ColdSettings) (*App, error) {
	logger, err := logging.New(cold.LogDir)
	if err != nil {
		return nil, fmt.Errorf("app: logging: %w", err)
	}

	settingsPath := cold.EnvFile
	settings, err := config.NewStore(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("app: settings store: %w", err)
	}

	if err := os.MkdirAll(cold.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create storage dir: %w", err)
	}

	images, err := store.Open(cold.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: image store: %w", err)
	}

	grab, err := grabber.New()
	if err != nil {
		return nil, fmt.Errorf("app: frame grabber: %w", err)
	}

	reg := metrics.New()

	capturer := capture.New(settings, grab, images, logger, 10*time.Second, 4, 2)
	capturer.SetStorageDir(cold.StorageDir)
	capturer.SetRecorder(reg)

	live := hub.New(logger)

	onTransition := func(source string, online bool) {
		reg.SetCameraOnline(source, online)
		live.Broadcast("camera_status", map[string]interface{}{"source": source, "online": online})
	}
	monitor := health.New(settings, logger, 30*time.Second, 5*time.Second, cold.StorageDir, onTransition)
	monitor.SetRecorder(reg)

	cleaner := cleanup.New(settings, images, logger)

	up := uploader.New(settings, images, logger, 10, nil)
	up.SetRecorder(reg)

	var gpioLoop *gpio.Loop
	if cold.GPIOEnabled {
		lines := make(map[string]gpio.Line, len(cold.GPIOPins))
		for source, pin := range cold.GPIOPins {
			line, err := gpio.OpenSysfsLine(pin)
			if err != nil {
				return nil, fmt.Errorf("app: open gpio pin %d for %s: %w", pin, source, err)
			}
			lines[source] = line
		}
		gpioLoop = gpio.New(lines, cold.GPIOPins, 1000*time.Millisecond, 20,
			func(source string) {
				live.Broadcast("trigger", map[string]interface{}{"source": source})
				capturer.CaptureAsync(source)
			},
			func(source string) bool {
				cam, ok := settings.Current().Camera(source)
				return ok && cam.Enabled
			})
	}

	return &App{
		cold:     cold,
		settings: settings,
		logger:   logger,
		images:   images,
		grab:     grab,
		capturer: capturer,
		gpioLoop: gpioLoop,
		uploader: up,
		monitor:  monitor,
		cleaner:  cleaner,
		live:     live,
		reg:      reg,
	}, nil
}

// Run starts every background component, serves HTTP, and blocks until an
// interrupt/TERM signal or ctx cancellation, then shuts down within
// shutdownDeadline.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runBg := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	if a.gpioLoop != nil {
		if err := a.gpioLoop.Start(50 * time.Millisecond); err != nil {
			return fmt.Errorf("app: start gpio loop: %w", err)
		}
	}
	runBg(a.monitor.Run)
	runBg(a.cleaner.RunLoop)
	if a.uploader != nil {
		runBg(a.uploader.Run)
	}

	srv := httpapi.New(a.settings, a.images, a.capturer, a.gpioLoop, a.monitor, a.cleaner, a.live, a.reg, a.logger, a.cold.WebAuthEnabled)
	a.server = &http.Server{
		Addr:    net.JoinHostPort(a.cold.BindIP, fmt.Sprintf("%d", a.cold.BindPort)),
		Handler: srv.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("gatecamd listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var bindErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("http server: %v", err)
			bindErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("http shutdown: %v", err)
	}

	if a.gpioLoop != nil {
		a.gpioLoop.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warning("app: background components did not join within %s", shutdownDeadline)
	}

	a.images.Close()
	a.logger.Sync()
	if bindErr != nil {
		return fmt.Errorf("app: http server: %w", bindErr)
	}
	return nil
}
