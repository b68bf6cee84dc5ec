// Package server exposes the anomaly engine over HTTP, WebSocket and a gRPC
// health service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/config"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
	"github.com/kubilitics/kubilitics-anomaly/internal/middleware"
)

// Server represents the anomaly detection server
type Server struct {
	config *config.Config

	// Core components
	engine  *anomaly.Engine
	store   db.Store // nil when persistence is disabled
	hub     *hub
	limiter *middleware.RateLimiter
	health  *grpcHealth

	clock  clock.Clock
	logger *zap.Logger

	// HTTP server
	httpServer *http.Server
	handler    http.Handler
	listener   net.Listener

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// Option customizes a Server.
type Option func(*Server)

// WithEngine uses an existing engine instead of building one from config.
func WithEngine(e *anomaly.Engine) Option { return func(s *Server) { s.engine = e } }

// WithStore enables anomaly history persistence.
func WithStore(st db.Store) Option { return func(s *Server) { s.store = st } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithClock sets the clock used for timestamps and rate limiting.
func WithClock(c clock.Clock) Option { return func(s *Server) { s.clock = c } }

// NewServer creates a new anomaly server
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("server")
	if s.clock == nil {
		s.clock = clock.New()
	}

	if err := s.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	mux := http.NewServeMux()
	s.registerHandlers(mux)
	s.handler = mux
	return s, nil
}

// NewEngine builds an engine from configuration.
func NewEngine(cfg *config.Config, clk clock.Clock, logger *zap.Logger) (*anomaly.Engine, error) {
	return anomaly.NewEngine(anomaly.Options{
		BatchDefaults:     cfg.Detection.AnomalyConfig(),
		StreamingDefaults: cfg.Streaming.AnomalyConfig(),
		DisableCache:      !cfg.Cache.EnableCaching,
		CacheFreshness:    time.Duration(cfg.Cache.FreshnessSeconds) * time.Second,
		CacheTTLSeconds:   cfg.Cache.TTLSeconds,
		MaxCacheEntries:   cfg.Cache.MaxEntries,
		HistoryCapacity:   cfg.History.Capacity,
		Clock:             clk,
		Logger:            logger,
	})
}

// initializeComponents initializes all server components
func (s *Server) initializeComponents() error {
	if s.engine == nil {
		e, err := NewEngine(s.config, s.clock, s.logger.Named("anomaly"))
		if err != nil {
			return fmt.Errorf("failed to initialize anomaly engine: %w", err)
		}
		s.engine = e
	}

	s.hub = newHub(s.config.Server.AllowedOrigins, s.logger)
	s.limiter = middleware.NewRateLimiterWithClock(s.config.Server.RateLimitPerMin, s.clock)
	s.health = newGRPCHealth(s.logger)
	return nil
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler { return s.handler }

// Engine returns the anomaly engine
func (s *Server) Engine() *anomaly.Engine { return s.engine }

// Start starts the HTTP server and, when configured, the gRPC health service.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	addr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln

	if s.config.Server.GRPCPort > 0 {
		grpcAddr := net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.GRPCPort))
		if err := s.health.start(grpcAddr, &s.wg); err != nil {
			_ = ln.Close()
			s.mu.Unlock()
			return err
		}
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.store != nil && s.config.Database.RetentionHours > 0 {
		s.wg.Add(1)
		go s.pruneLoop(time.Duration(s.config.Database.RetentionHours) * time.Hour)
	}

	s.logger.Info("anomaly server started",
		zap.String("batch_algorithm", s.config.Detection.Algorithm),
		zap.String("streaming_algorithm", s.config.Streaming.Algorithm),
		zap.Bool("persistence", s.store != nil),
		zap.Bool("cache", s.config.Cache.EnableCaching),
	)
	return nil
}

// Addr returns the HTTP listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping anomaly server")

	s.health.stop()
	s.hub.closeAll()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down HTTP server", zap.Error(err))
		}
	}

	s.limiter.Stop()
	s.cancel()
	s.wg.Wait()

	s.logger.Info("anomaly server stopped")
	return nil
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}
	limited := s.limiter.Middleware

	// Probes and metrics
	route("GET /health", s.handleHealth)
	route("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Batch detection
	route("POST /api/v1/anomalies/detect", limited(s.handleDetect))
	route("DELETE /api/v1/anomalies/cache", s.handleClearCache)
	route("GET /api/v1/anomalies/stats", s.handleStats)
	route("GET /api/v1/anomalies/series", s.handleSeriesIndex)
	route("GET /api/v1/anomalies/series/{metric}", s.handleSeries)

	// Streaming detectors
	route("POST /api/v1/anomalies/detectors", limited(s.handleCreateDetector))
	route("GET /api/v1/anomalies/detectors/{id}", s.handleGetDetector)
	route("DELETE /api/v1/anomalies/detectors/{id}", s.handleRemoveDetector)
	route("POST /api/v1/anomalies/detectors/{id}/points", limited(s.handleProcessPoint))

	// Persisted history
	route("GET /api/v1/anomalies/history", s.handleHistoryQuery)
	route("GET /api/v1/anomalies/history/summary", s.handleHistorySummary)
	route("GET /api/v1/anomalies/history/{id}", s.handleHistoryGet)

	// Live feed
	route("GET /api/v1/anomalies/stream", s.hub.serveWS)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports ready once started and, with persistence enabled,
// while the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.IsRunning()
	if ready && s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness: database ping failed", zap.Error(err))
			ready = false
		}
	}
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}
