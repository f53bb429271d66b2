// Package server wires dependencies, defines routes, and runs the HTTP
// server. It is the composition root: database, services, handlers, and
// the live hub are all assembled here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bbmw0/stack-server/internal/auth"
	"github.com/bbmw0/stack-server/internal/handler"
	"github.com/bbmw0/stack-server/internal/live"
	"github.com/bbmw0/stack-server/internal/middleware"
	sqliteRepo "github.com/bbmw0/stack-server/internal/repository/sqlite"
	"github.com/bbmw0/stack-server/internal/service"
)

// Config holds everything the server needs to start. OAuth providers
// with empty credentials are simply not registered.
type Config struct {
	Port      int
	BaseURL   string
	DBPath    string
	StaticDir string
	JWTSecret string

	GoogleClientID       string
	GoogleClientSecret   string
	LinkedInClientID     string
	LinkedInClientSecret string
}

// Server owns the router, the database connection, and the live hub.
// The database is closed during graceful shutdown.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	hub    *live.Hub
}

// New assembles the full dependency chain: database, token service,
// OAuth providers, services, handlers, routes.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		hub:    live.NewHub(logger),
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// providers builds the configured OAuth providers. Unconfigured ones
// are skipped with a log line so the server still starts for anonymous
// play.
func (s *Server) providers() []*auth.Provider {
	var out []*auth.Provider

	callback := func(name string) string {
		return fmt.Sprintf("%s/auth/%s/callback", strings.TrimSuffix(s.config.BaseURL, "/"), name)
	}

	if s.config.GoogleClientID != "" && s.config.GoogleClientSecret != "" {
		out = append(out, auth.NewGoogleProvider(s.config.GoogleClientID, s.config.GoogleClientSecret, callback("google")))
	} else {
		s.logger.Warn("Google OAuth not configured, /auth/google disabled")
	}

	if s.config.LinkedInClientID != "" && s.config.LinkedInClientSecret != "" {
		out = append(out, auth.NewLinkedInProvider(s.config.LinkedInClientID, s.config.LinkedInClientSecret, callback("linkedin")))
	} else {
		s.logger.Warn("LinkedIn OAuth not configured, /auth/linkedin disabled")
	}

	return out
}

func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// Without a JWT secret the server still runs for anonymous device
	// play: no sessions, no OAuth login, every request is logged out.
	// A secret that is set but too short is a config mistake and fails
	// startup.
	var tokens *auth.TokenService
	if s.config.JWTSecret == "" {
		s.logger.Warn("JWT_SECRET not set, sessions and OAuth login disabled")
	} else {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	}

	identity := service.NewIdentityService(s.db, s.logger)
	scores := service.NewScoreService(identity, s.db, s.db, s.logger)

	var providers []*auth.Provider
	if tokens != nil {
		providers = s.providers()
	}
	authHandler := handler.NewAuthHandler(providers, tokens, identity, strings.HasPrefix(s.config.BaseURL, "https://"), s.logger)
	scoreHandler := handler.NewScoreHandler(scores, s.hub, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/leaderboard", scoreHandler.HandleLeaderboard)
		r.Get("/leaderboard/live", scoreHandler.HandleLive)
		r.Get("/check-name", authHandler.HandleCheckName)
		r.Get("/auth-providers", authHandler.HandleProviders)

		if tokens != nil {
			r.Group(func(r chi.Router) {
				r.Use(auth.OptionalAuth(tokens))
				r.Post("/score", scoreHandler.HandleSubmit)
				r.Post("/sync", scoreHandler.HandleSync)
				r.Get("/me", authHandler.HandleMe)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(tokens))
				r.Get("/scores", scoreHandler.HandleRecent)
			})
		} else {
			r.Post("/score", scoreHandler.HandleSubmit)
			r.Post("/sync", scoreHandler.HandleSync)
			r.Get("/me", authHandler.HandleMe)
		}
	})

	s.router.Route("/auth", func(r chi.Router) {
		if len(providers) > 0 {
			r.Get("/{provider}", authHandler.HandleLogin)
			r.Get("/{provider}/callback", authHandler.HandleCallback)
		}
		r.Post("/logout", authHandler.HandleLogout)
	})

	if s.config.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(s.config.StaticDir))
		s.router.Handle("/*", fileServer)
	}

	return nil
}

// Start runs the server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, drain in-flight requests,
// close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	go s.hub.Run()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
