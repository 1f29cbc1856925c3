// Package observability exposes Prometheus metrics and health probes on a
// dedicated HTTP server, separate from the control API so probes stay
// reachable when the API is saturated.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bytedeck/unlock-engine/internal/config"
)

// Checker is a named readiness dependency (database, redis).
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server serves /metrics and the liveness/readiness probes.
type Server struct {
	cfg      *config.ObservabilityConfig
	logger   *slog.Logger
	checkers []Checker
	srv      *http.Server
}

// NewServer builds the observability server. Checkers run on each readiness
// probe; any failure flips the probe to 503.
func NewServer(cfg *config.ObservabilityConfig, logger *slog.Logger, checkers ...Checker) *Server {
	if cfg == nil {
		panic("observability: config cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger, checkers: checkers}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.LivenessPath, s.handleLiveness)
	mux.HandleFunc(cfg.ReadinessPath, s.handleReadiness)

	s.srv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("observability server listening", slog.String("addr", s.cfg.Addr()))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for _, c := range s.checkers {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed",
				slog.String("checker", c.Name),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(c.Name + ": unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
