// Package server exposes experiments over HTTP: a JSON API, a server-sent
// events stream for running sweeps, a health check and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-sweep/internal/experiment"
	"github.com/ahrav/go-sweep/internal/llm"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxBodySize       = 1 << 20
	defaultHealthTimeout     = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithCORSOrigin sets the origin allowed by CORS. Empty disables CORS headers.
func WithCORSOrigin(origin string) Option { return func(s *Server) { s.corsOrigin = origin } }

// WithGatherer serves gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithMaxBodySize caps request bodies.
func WithMaxBodySize(n int64) Option { return func(s *Server) { s.maxBodySize = n } }

// WithHealthTimeout bounds the provider ping made by the health check.
func WithHealthTimeout(d time.Duration) Option { return func(s *Server) { s.healthTimeout = d } }

// Server serves the experiments API.
type Server struct {
	svc    *experiment.Service
	client llm.Client

	logger        *slog.Logger
	gatherer      prometheus.Gatherer
	corsOrigin    string
	maxBodySize   int64
	healthTimeout time.Duration
	now           func() time.Time

	// sweeps tracks experiments that outlive their request.
	sweeps sync.WaitGroup

	httpSrvMu sync.Mutex
	httpSrv   *http.Server
}

// New creates a server. client is pinged by the health check.
func New(svc *experiment.Service, client llm.Client, opts ...Option) *Server {
	s := &Server{
		svc:           svc,
		client:        client,
		logger:        slog.Default(),
		maxBodySize:   defaultMaxBodySize,
		healthTimeout: defaultHealthTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/experiments", s.handleCreate)
	mux.HandleFunc("GET /api/experiments", s.handleList)
	mux.HandleFunc("GET /api/experiments/{id}", s.handleGet)
	mux.HandleFunc("GET /api/experiments/{id}/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/experiments/{id}/export", s.handleExport)
	mux.HandleFunc("DELETE /api/experiments/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.logRequests(s.cors(mux))
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	s.logger.Info("server listening", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for background sweeps
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.sweeps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
