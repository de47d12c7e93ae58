// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects storage, services,
// handlers, and middleware, and decides which URL maps to which handler.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─┐
//	             ├→ Lifecycle, Messaging, Signaling → WSHandler, APIHandler
//	  Registry  ─┘
//
// All dependencies are assembled here (the "composition root"), so no other
// package constructs its own collaborators.
package server

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"

	"github.com/sakif/chat-relay/internal/auth"
	"github.com/sakif/chat-relay/internal/config"
	"github.com/sakif/chat-relay/internal/handler"
	"github.com/sakif/chat-relay/internal/middleware"
	"github.com/sakif/chat-relay/internal/presence"
	sqliteRepo "github.com/sakif/chat-relay/internal/repository/sqlite"
	"github.com/sakif/chat-relay/internal/service"
	"github.com/sakif/chat-relay/internal/socket"
)

// shutdownTimeout bounds how long Start waits for sockets and in-flight
// requests to finish after a signal.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and every live WebSocket. On
// shutdown the sockets are closed first (so each one runs its offline
// notifications while storage is still open), then the database.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	registry *presence.Registry
	tokens   *auth.TokenService
	ws       *handler.WSHandler
}

// New creates a Server from cfg. The caller must call Start or Shutdown.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithUserCacheTTL(cfg.UserCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var tokens *auth.TokenService
	if cfg.JWTSecret != "" {
		tokens, err = auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("jwt_secret not set: session tokens and /api/friends, /api/messages are disabled")
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: presence.NewRegistry(),
		tokens:   tokens,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET /ws                  → WebSocket event stream
//	GET /healthz             → liveness + online count
//	GET /api/users           → every known user
//	GET /api/friends         → caller's friends        [session token]
//	GET /api/messages/{peer} → caller's conversation   [session token]
//	GET /static/*            → static files, when static_dir is set
//
// MIDDLEWARE ORDER MATTERS:
// RequestID, RealIP, Recoverer, CORS, then request logging.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(handlers.CORS(
		handlers.AllowedOrigins(s.config.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	))
	s.router.Use(middleware.Logger(s.logger))

	// A nil issuer must reach Lifecycle as a nil interface, not a typed nil.
	var issuer service.TokenIssuer
	if s.tokens != nil {
		issuer = s.tokens
	}

	lifecycle := service.NewLifecycle(s.registry, s.db, s.db, issuer, s.logger)
	messaging := service.NewMessaging(s.registry, s.db, s.logger)
	signaling := service.NewSignaling(s.registry, s.logger)

	opts := socket.DefaultOptions()
	opts.SendBuffer = s.config.SendBuffer
	opts.PongWait = s.config.PongWait
	opts.MaxMessageBytes = s.config.MaxMessageBytes

	s.ws = handler.NewWSHandler(lifecycle, messaging, signaling, opts, s.config.AllowedOrigins, s.logger)
	api := handler.NewAPIHandler(s.db, messaging, s.registry, s.logger)

	s.router.Get("/ws", s.ws.ServeHTTP)
	s.router.Get("/healthz", api.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/users", api.HandleListUsers)

		if s.tokens != nil {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(s.tokens))
				r.Get("/friends", api.HandleFriends)
				r.Get("/messages/{peer}", api.HandleConversation)
			})
		}
	})

	if s.config.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(s.config.StaticDir))
		s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	}
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown closes every WebSocket (running their offline notifications) and
// then the database.
func (s *Server) Shutdown(ctx context.Context) error {
	wsErr := s.ws.Shutdown(ctx)
	dbErr := s.db.Close()
	return errors.Join(wsErr, dbErr)
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully:
//  1. Stop accepting new connections and finish in-flight requests
//  2. Close WebSockets so friends see everyone go offline
//  3. Close the database
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("websocket", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("session_tokens", s.tokens != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		_ = s.Shutdown(context.Background())
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		httpErr := srv.Shutdown(ctx)
		if err := s.Shutdown(ctx); err != nil || httpErr != nil {
			return fmt.Errorf("graceful shutdown failed: %w", errors.Join(httpErr, err))
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
