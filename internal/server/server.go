// Package server exposes the running tuning session over HTTP: a health
// check, prometheus metrics and a JSON status snapshot.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/copyleftdev/steptune/internal/config"
	"github.com/copyleftdev/steptune/internal/errors"
	"github.com/copyleftdev/steptune/internal/logging"
)

// Server serves the status endpoints.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	logger          *zap.Logger
	tracker         *Tracker
	gatherer        prometheus.Gatherer
}

// NewServer creates a server for cfg.HTTP. gatherer backs /metrics.
func NewServer(cfg *config.Config, logger *zap.Logger, tracker *Tracker, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:            cfg.HTTP.Addr,
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
		logger:          logger,
		tracker:         tracker,
		gatherer:        gatherer,
	}
}

// Handler returns the router with middleware and all routes attached.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(errors.RecoveryMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.RegisterRoutes(r)

	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrap(err, "listen").WithComponent("server").WithOperation("run")
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting status server", zap.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "serve").WithComponent("server").WithOperation("run")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Status server forced to shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("Status server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	logging.FromContext(r.Context()).Debug("Health check")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.tracker.Snapshot()); err != nil {
		logging.FromContext(r.Context()).Error("Failed to encode status", zap.Error(err))
	}
}
