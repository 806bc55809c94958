// Package httpapi implements the HTTP Facade of spec.md §6: the operator
// surface for status, image retrieval, manual capture, settings, and
// cleanup, built the way the teacher's WebServer/internal/handlers package
// wires net/http directly rather than reaching for a web framework.
package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"gatecam/internal/capture"
	"gatecam/internal/cleanup"
	"gatecam/internal/config"
	"gatecam/internal/gpio"
	"gatecam/internal/health"
	"gatecam/internal/hub"
	"gatecam/internal/logging"
	"gatecam/internal/metrics"
	"gatecam/internal/store"
)

// Server bundles every dependency the Facade's handlers need.
type Server struct {
	cfg      *config.Store
	images   *store.Store
	capturer *capture.Service
	gpioLoop *gpio.Loop
	monitor  *health.Monitor
	cleaner  *cleanup.Worker
	live     *hub.Hub
	metrics  *metrics.Registry
	log      *logging.Logger

	authEnabled bool
	sessions    *sessionStore
}

// New builds a Server and its routed mux.
func New(cfg *config.Store, images *store.Store, capturer *capture.Service, gpioLoop *gpio.Loop,
	monitor *health.Monitor, cleaner *cleanup.Worker, live *hub.Hub, reg *metrics.Registry,
	log *logging.Logger, authEnabled bool) *Server {
	return &Server{
		cfg: cfg, images: images, capturer: capturer, gpioLoop: gpioLoop,
		monitor: monitor, cleaner: cleaner, live: live, metrics: reg, log: log,
		authEnabled: authEnabled, sessions: newSessionStore(),
	}
}

// Router builds the HTTP mux per the endpoint table of spec.md §6.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)

	mux.Handle("/api/status", s.auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/api/stats", s.auth(http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/health", s.auth(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/gpio/status", s.auth(http.HandlerFunc(s.handleGPIOStatus)))

	mux.Handle("/api/images", s.auth(http.HandlerFunc(s.handleListImages)))
	mux.Handle("/api/images/by-date", s.auth(http.HandlerFunc(s.handleListImagesByDate)))
	mux.Handle("/api/images/", s.auth(http.HandlerFunc(s.handleGetImage)))

	mux.Handle("/api/capture/", s.auth(http.HandlerFunc(s.handleManualCapture)))

	mux.Handle("/api/cleanup/run", s.auth(http.HandlerFunc(s.handleCleanupRun)))

	mux.Handle("/api/config/get", s.auth(http.HandlerFunc(s.handleConfigGet)))
	mux.Handle("/api/config/update", s.auth(http.HandlerFunc(s.handleConfigUpdate)))
	mux.Handle("/api/config/reload", s.auth(http.HandlerFunc(s.handleConfigReload)))

	mux.Handle("/api/live", s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.live.ServeWS(w, r)
	})))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return s.withRequestID(mux)
}

// withRequestID stamps every request with a correlation ID, echoed back in
// the response header and attached to the access log line, matching the
// teacher's middleware-chaining style.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("%s %s %s %s", id, r.Method, r.URL.Path, time.Since(start))
	})
}
