// Package metrics implements metrics collection and the optional HTTP
// endpoint that exposes it.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateFunc reports a flow's current lifecycle state string ("running",
// "draining", "failed", ...). The server and the flow are constructed
// separately from the same config in engine.New, so the engine wires this
// in via SetStateFunc once both are built.
type StateFunc func() string

// Server is the HTTP endpoint that exposes Prometheus metrics alongside a
// liveness probe reporting the owning flow's lifecycle state — useful for
// an orchestrator's readiness check, since "listening" and "Running" are
// not the same thing for a flow that failed during Start but left the
// metrics server up.
type Server struct {
	addr      string
	path      string
	stateFunc StateFunc
	server    *http.Server
}

// NewServer creates a new metrics server listening on addr, exposing
// Prometheus metrics at path.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr: addr,
		path: path,
	}
}

// SetStateFunc wires in the flow's lifecycle state for the /healthz probe.
// A nil or never-set StateFunc makes /healthz report "unknown".
func (s *Server) SetStateFunc(f StateFunc) {
	s.stateFunc = f
}

// Start starts the metrics HTTP server.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting metrics server", "addr", s.addr, "path", s.path)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := "unknown"
	if s.stateFunc != nil {
		state = s.stateFunc()
	}

	w.Header().Set("Content-Type", "application/json")
	if state == "failed" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"state": state})
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	slog.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	slog.Info("metrics server stopped")
	return nil
}
