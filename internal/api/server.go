// Package api provides the HTTP API server for the financial reports service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/api/middleware"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/query"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

// ErrMissingDependency is returned by NewServer when a required dependency is nil.
var ErrMissingDependency = errors.New("missing server dependency")

type (
	// Dependencies are the runtime collaborators of the server.
	Dependencies struct {
		Registry *schema.Registry
		Store    storage.RecordStore
		Pipeline *ingestion.Pipeline
		Query    *query.Service
		// RateLimiter is optional; nil disables rate limiting.
		RateLimiter middleware.RateLimiter
		// Logger is optional; nil logs JSON to stdout at the configured level.
		Logger *slog.Logger
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		registry    *schema.Registry
		store       storage.RecordStore
		pipeline    *ingestion.Pipeline
		query       *query.Service
		rateLimiter middleware.RateLimiter
	}
)

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Configuration (what) is kept apart from dependencies (how): cfg holds ports, limits
// and CORS settings, deps the registry, store, pipeline and query service.
func NewServer(cfg *ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Registry == nil || deps.Store == nil || deps.Pipeline == nil || deps.Query == nil {
		return nil, fmt.Errorf("%w: registry, store, pipeline and query service are required", ErrMissingDependency)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		}))
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		registry:    deps.Registry,
		store:       deps.Store,
		pipeline:    deps.Pipeline,
		query:       deps.Query,
		rateLimiter: deps.RateLimiter,
	}

	server.setupRoutes(mux)

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	handler := middleware.Stack(middleware.StackConfig{
		Logger:  logger,
		Limiter: deps.RateLimiter,
		CORS:    cfg.ToCORSConfig(),
	}).Then(mux)

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting reports API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Int64("max_upload_size", s.config.MaxUploadSize),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown drains in-flight requests, then releases the store and the rate limiter.
// In-flight uploads either commit or roll back; none is left half-written.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Closing record store")

	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close record store", slog.String("error", err.Error()))
	}

	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		s.logger.Info("Closing rate limiter")

		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
