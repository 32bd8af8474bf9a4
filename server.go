package main

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/gunshot-logger/internal/metrics"
	"github.com/oszuidwest/gunshot-logger/internal/server"
	"github.com/oszuidwest/gunshot-logger/internal/types"
)

// statusPushInterval is how often WebSocket clients receive the pipeline status.
const statusPushInterval = 250 * time.Millisecond

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

type indexData struct {
	Version string
	Year    int
}

// StatusProvider reports the pipeline status.
type StatusProvider interface {
	Status() types.PipelineStatus
}

// Server is the monitoring HTTP server: status page, JSON API, live
// WebSocket feed and Prometheus metrics.
type Server struct {
	pipeline   StatusProvider
	metrics    *metrics.Metrics
	eventsPath string
	version    *VersionChecker
	logger     *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

// NewServer returns a Server for the given pipeline. eventsPath may be empty
// when the event log is disabled.
func NewServer(p StatusProvider, m *metrics.Metrics, eventsPath string, version *VersionChecker, logger *slog.Logger) *Server {
	return &Server{
		pipeline:   p,
		metrics:    m,
		eventsPath: eventsPath,
		version:    version,
		logger:     logger,
		closing:    make(chan struct{}),
	}
}

// status returns the pipeline status with version information attached.
func (s *Server) status() types.PipelineStatus {
	st := s.pipeline.Status()
	info := s.version.Info()
	st.Version = &info
	return st
}

// SetupRoutes returns an [http.Handler] configured with all monitor routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/api/status", server.AllowMethods(s.handleAPIStatus, http.MethodGet))
	mux.HandleFunc("/api/events", server.AllowMethods(s.handleAPIEvents, http.MethodGet))
	mux.HandleFunc("/api/devices", server.AllowMethods(s.handleAPIDevices, http.MethodGet))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", s.handleIndex)

	return server.SecurityHeaders(mux)
}

// handleWebSocket streams the pipeline status to the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	server.Stream(conn, statusPushInterval, s.closing, func() any { return s.status() })
}

// handleIndex serves the status page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := indexTmpl.Execute(w, indexData{
		Version: Version,
		Year:    time.Now().Year(),
	}); err != nil {
		s.logger.Error("failed to write index.html", "error", err)
	}
}

// Start begins serving on listen. The returned server is used for shutdown.
func (s *Server) Start(listen string) *http.Server {
	s.logger.Info("starting monitor server", "addr", listen)

	srv := &http.Server{
		Addr:              listen,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.Close)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// Close ends all WebSocket streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}
