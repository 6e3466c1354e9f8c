package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benchrunr/api/internal/auth"
	"github.com/benchrunr/api/internal/config"
	"github.com/benchrunr/api/internal/handler"
	"github.com/benchrunr/api/internal/job"
	"github.com/benchrunr/api/internal/middleware"
	"github.com/benchrunr/api/internal/ports"
	"github.com/benchrunr/api/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set up logging
	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Info("Starting BenchRunr API Server")

	// Core components
	registry := ports.NewRegistry()
	jobManager := job.NewManager(cfg, registry)
	store := session.NewStore(cfg.SessionTTL)
	defer store.Close()
	resolver := auth.NewResolver(cfg, store)

	// Initialize handlers
	h := handler.NewHandler(cfg, jobManager, registry, logger)

	// Set up router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(resolver.Middleware)

		r.Post("/jobs", h.CreateJob)
		r.Delete("/jobs", h.DeleteJob)
		r.Get("/jobs", h.GetStatus)
		r.Post("/out", h.ReadStdout)
		r.Post("/err", h.ReadStderr)

		// WebSocket route for push-style output
		r.Get("/attach", h.Attach)
	})

	// Root route
	r.Get("/", h.GetVersion)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Create HTTP server
	server := &http.Server{
		Addr:    cfg.GetBindAddress(),
		Handler: r,
		// Security settings
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("API server starting on %s", cfg.GetBindAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	// Tear down sessions so running workloads are reaped.
	store.Close()

	logger.Info("Server exited")
}
