// Package server is the headless HTTP control surface of the engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polycopy/internal/domain"
	"polycopy/internal/server/handler"
	"polycopy/internal/server/middleware"
	"polycopy/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables auth

	// RateLimit/RateWindow budget API requests per client IP through the
	// shared limiter. Zero disables the middleware.
	RateLimit  int
	RateWindow time.Duration
}

// Server serves the JSON API and the dashboard WebSocket.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and builds the middleware chain. hub and limiter
// may be nil to disable the WebSocket endpoint and rate limiting.
func New(
	cfg Config,
	engine *handler.EngineHandler,
	health *handler.HealthHandler,
	hub *ws.Hub,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/traders", engine.ListTraders)
	mux.HandleFunc("POST /api/traders/{id}/monitor", engine.Monitor)
	mux.HandleFunc("POST /api/traders/{id}/unmonitor", engine.Unmonitor)

	mux.HandleFunc("POST /api/copying/start", engine.StartCopying)
	mux.HandleFunc("POST /api/copying/stop", engine.StopCopying)

	mux.HandleFunc("GET /api/trades", engine.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", engine.GetTrade)
	mux.HandleFunc("POST /api/trades/{id}/retry", engine.RetryTrade)
	mux.HandleFunc("POST /api/trades/{id}/cancel", engine.CancelTrade)

	mux.HandleFunc("GET /api/stats", engine.Stats)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var protected http.Handler = mux
	protected = middleware.Auth(cfg.APIKey)(protected)
	if limiter != nil && cfg.RateLimit > 0 {
		protected = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(protected)
	}

	// Liveness stays outside auth and rate limiting so orchestrators can
	// probe it.
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", health.Healthz)
	root.Handle("/", protected)

	var h http.Handler = root
	h = middleware.Logging(logger.With(slog.String("component", "http")))(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
