// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and
// routes, and owns the resources that must be released on shutdown (the
// database and the event publisher).
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.App and creates the logger and event publisher.
// Server.New() creates:
//
//	sqlite.DB ─┬─────────────────────────────→ gate.Gate (user lookups)
//	           └→ service.AuthService → handler.AuthHandler
//	identity.Provider ┘
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/ticket-platform/internal/auth"
	"github.com/sakif/ticket-platform/internal/config"
	"github.com/sakif/ticket-platform/internal/events"
	"github.com/sakif/ticket-platform/internal/gate"
	"github.com/sakif/ticket-platform/internal/handler"
	"github.com/sakif/ticket-platform/internal/identity"
	"github.com/sakif/ticket-platform/internal/identity/local"
	"github.com/sakif/ticket-platform/internal/identity/supabase"
	"github.com/sakif/ticket-platform/internal/middleware"
	"github.com/sakif/ticket-platform/internal/model"
	sqliteRepo "github.com/sakif/ticket-platform/internal/repository/sqlite"
	"github.com/sakif/ticket-platform/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the event publisher. Both are
// closed by Close, which Start calls once the HTTP server has drained.
type Server struct {
	router    *chi.Mux
	config    config.App
	logger    *slog.Logger
	db        *sqliteRepo.DB
	tokens    *auth.TokenService
	provider  identity.Provider
	publisher events.Publisher
	registry  *prometheus.Registry
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*Server)

// WithProvider replaces the identity provider chosen from config.
func WithProvider(p identity.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithPublisher sets the event publisher. The default drops events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// New creates a Server from cfg.
//
// The identity provider is Supabase when SUPABASE_URL is set, and the
// in-process provider otherwise.
func New(cfg config.App, logger *slog.Logger, opts ...Option) (*Server, error) {
	tokenOpts := []auth.TokenOption{}
	if cfg.JWTAudience != "" {
		tokenOpts = append(tokenOpts, auth.WithAudience(cfg.JWTAudience))
	}
	if cfg.JWTIssuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.JWTIssuer))
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, tokenOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		tokens:    tokens,
		publisher: events.NewNoop(),
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.provider == nil {
		if s.provider, err = newProvider(cfg, tokens, logger); err != nil {
			return nil, err
		}
	}

	// === CREATE DATABASE ===
	// The data directory is created on first run (like `mkdir -p`).
	if cfg.DatabaseURL != ":memory:" {
		dir := filepath.Dir(cfg.DatabaseURL)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	if s.db, err = sqliteRepo.New(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := s.setupRoutes(); err != nil {
		s.db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func newProvider(cfg config.App, tokens *auth.TokenService, logger *slog.Logger) (identity.Provider, error) {
	if cfg.UsesSupabase() {
		client, err := supabase.New(supabase.Config{
			URL:            cfg.SupabaseURL,
			AnonKey:        cfg.SupabaseAnonKey,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("creating supabase client: %w", err)
		}
		return client, nil
	}

	logger.Warn("SUPABASE_URL not set, using the in-process identity provider; accounts are lost on restart")
	return local.New(tokens, auth.NewPasswordService(), local.WithAutoConfirm(cfg.LocalAutoConfirm)), nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST /auth/register, /auth/login, /auth/google     → account flows (public)
// GET  /auth/profile, POST /auth/logout, ...         → RequireUser
// POST /auth/users/{id}/role                         → RequireUser + ADMIN|SUPERADMIN
// GET  /api/config, /healthz, /metrics               → public
// GET  /, /login, /signup, /admin_dashboard, /*      → pages and static files
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID, RealIP → request metadata
//  2. Logger, Metrics   → see every request, including gate rejections
//  3. Recoverer         → catches panics and returns 500 instead of crashing
//  4. Gate              → authenticate, then authorize by role
func (s *Server) setupRoutes() error {
	policy := gate.DefaultPolicy()
	if s.config.RoutePolicyFile != "" {
		var err error
		if policy, err = gate.LoadPolicy(s.config.RoutePolicyFile); err != nil {
			return err
		}
		s.logger.Info("route policy loaded", slog.String("file", s.config.RoutePolicyFile))
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewMetrics(s.registry)

	g := gate.New(s.tokens, s.db, policy, s.logger)
	authService := service.NewAuthService(s.db, s.provider, s.publisher, s.logger)
	authHandler := handler.NewAuthHandler(authService, s.logger)
	configHandler := handler.NewConfigHandler(s.config.SupabaseURL, s.config.SupabaseAnonKey, s.db, s.logger)
	pages := handler.NewPageHandler(s.config.PublicDir, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(metrics.Handler)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(g.Authenticate, g.Authorize)

	// === Operational ===
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.router.Get("/healthz", configHandler.HandleHealth)
	s.router.Get("/api/config", configHandler.HandleConfig)

	// === Auth API ===
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/google", authHandler.HandleGoogle)

		r.Group(func(r chi.Router) {
			r.Use(g.RequireUser)
			r.Get("/profile", authHandler.HandleProfile)
			r.Post("/logout", authHandler.HandleLogout)
			r.Post("/verify-email", authHandler.HandleVerifyEmail)
			r.Post("/sync-verification", authHandler.HandleSyncVerification)
			r.With(g.RequireRole(model.RoleAdmin, model.RoleSuperAdmin)).
				Post("/users/{id}/role", authHandler.HandleUpdateRole)
		})
	})

	// === Pages ===
	// "/" is only reached by visitors the gate did not redirect.
	s.router.Get("/", pages.Page("index.html"))
	s.router.Get("/index.html", pages.Page("index.html"))
	s.router.Get("/login", pages.Page("index.html"))
	s.router.Get("/signup", pages.Page("signup.html"))
	s.router.Get("/admin_dashboard", pages.Page("admin_dashboard.html"))
	s.router.Handle("/*", pages.Static())

	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and the event publisher.
func (s *Server) Close() error {
	return errors.Join(s.publisher.Close(), s.db.Close())
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the publisher and the database (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	// These bound inbound requests only; provider calls have no client timeout.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DatabaseURL),
			slog.Bool("supabase", s.config.UsesSupabase()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
