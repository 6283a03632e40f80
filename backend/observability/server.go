package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig configures the metrics/health listener.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
}

// DefaultServerConfig returns sane defaults: :9090/metrics and /health.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9090,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}
}

// Status mirrors the body returned from the health endpoint.
type Status struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Check is a single named health check's result.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Checker performs one health check, e.g. pinging the database or broker.
type Checker func(ctx context.Context) Check

// Server exposes Prometheus metrics and health/readiness/liveness endpoints
// on a port separate from the trading API, so scraping it never competes
// with order traffic.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	startTime  time.Time
	log        zerolog.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewServer builds a Server. Register checkers with RegisterCheck before
// calling Start.
func NewServer(cfg ServerConfig, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		log:       log,
		checkers:  make(map[string]Checker),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// RegisterCheck adds a named check to /health and /ready.
func (s *Server) RegisterCheck(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Start runs the listener in a background goroutine.
func (s *Server) Start() {
	s.log.Info().Int("port", s.cfg.Port).Str("metrics_path", s.cfg.MetricsPath).Msg("starting metrics server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshotCheckers() map[string]Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Checker, len(s.checkers))
	for k, v := range s.checkers {
		out[k] = v
	}
	return out
}

func (s *Server) runChecks(ctx context.Context) (map[string]Check, bool) {
	checks := make(map[string]Check)
	healthy := true
	for name, checker := range s.snapshotCheckers() {
		check := checker(ctx)
		checks[name] = check
		if check.Status != "healthy" {
			healthy = false
		}
	}
	return checks, healthy
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks, healthy := s.runChecks(r.Context())
	status := Status{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
	}
	if !healthy {
		status.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	_, healthy := s.runChecks(r.Context())
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
