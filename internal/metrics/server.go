package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fallback HTTP timeouts, used when ServerOptions leaves them unset.
const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// ServerOptions configures the scrape endpoint.
type ServerOptions struct {
	Addr string
	Path string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server exposes the Prometheus scrape endpoint over HTTP.
type Server struct {
	opts   ServerOptions
	ln     net.Listener
	server *http.Server
}

// NewServer creates a metrics server. Unset options fall back to /metrics and
// the default timeouts.
func NewServer(opts ServerOptions) *Server {
	if opts.Path == "" {
		opts.Path = "/metrics"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &Server{opts: opts}
}

// Start binds the listen address and begins serving in the background. A bind
// failure is reported synchronously; serve errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.opts.Addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.opts.Path, promhttp.Handler())

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("metrics endpoint up", "addr", ln.Addr().String(), "path", s.opts.Path)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address. Start must have succeeded.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}

	slog.Info("metrics server stopped")
	return nil
}
