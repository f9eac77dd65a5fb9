// Package api provides the HTTP front-end of the gene set analysis service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gsakit-io/gsakit/internal/api/middleware"
	"github.com/gsakit-io/gsakit/internal/blackboard"
	"github.com/gsakit-io/gsakit/internal/broker"
	"github.com/gsakit-io/gsakit/internal/catalog"
	"github.com/gsakit-io/gsakit/internal/datasets"
	"github.com/gsakit-io/gsakit/internal/job"
	"github.com/gsakit-io/gsakit/internal/model"
	"github.com/gsakit-io/gsakit/internal/search"
)

// Dependencies carries the runtime collaborators of the API server.
//
// Dependencies are injected explicitly rather than being part of
// ServerConfig: configuration (what) is separated from dependencies (how).
type Dependencies struct {
	Store       blackboard.Store
	Queue       broker.Broker
	Registry    *job.Registry
	Fetchers    *datasets.Registry
	Datasources []catalog.Datasource
	Examples    []model.ExternalData
	Index       *search.Index
	Sweeper     *job.Sweeper
	RateLimiter middleware.RateLimiter

	// Logger overrides the default JSON logger, mainly for tests.
	Logger *slog.Logger
}

// Server represents the HTTP API server.
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	store       blackboard.Store
	queue       broker.Broker
	registry    *job.Registry
	fetchers    *datasets.Registry
	datasources []catalog.Datasource
	examples    []model.ExternalData
	index       *search.Index
	sweeper     *job.Sweeper
	rateLimiter middleware.RateLimiter
}

// NewServer creates a new HTTP server instance with structured logging and
// middleware stack.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
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
		store:       deps.Store,
		queue:       deps.Queue,
		registry:    deps.Registry,
		fetchers:    deps.Fetchers,
		datasources: deps.Datasources,
		examples:    deps.Examples,
		index:       deps.Index,
		sweeper:     deps.Sweeper,
		rateLimiter: deps.RateLimiter,
	}

	server.setupRoutes(mux)

	if deps.RateLimiter == nil {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - tag every request and response
	//   2. Recovery - catch panics in all downstream handlers
	//   3. RateLimit - block requests before expensive operations
	//   4. RequestLogger - log only legitimate requests
	//   5. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.handler = handler
	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler returns the fully wrapped HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
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

	// the stall sweeper runs co-resident with the API
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()

	if s.sweeper != nil {
		go s.sweeper.Run(sweeperCtx)
	}

	go func() {
		s.logger.Info("Starting analysis API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
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

		cancelSweeper()

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
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

	// release the broker and blackboard connections
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("Failed to close broker", slog.String("error", err.Error()))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close blackboard store", slog.String("error", err.Error()))
		}
	}

	// stop the rate limiter's background cleanup goroutine
	if s.rateLimiter != nil {
		if limiter, ok := s.rateLimiter.(interface{ Close() }); ok {
			limiter.Close()
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
