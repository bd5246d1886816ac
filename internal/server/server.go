package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"spin-campaign-service/internal/config"
	"spin-campaign-service/internal/service"
)

// Server is the HTTP front of the spin campaign service.
type Server struct {
	spins        *service.SpinService
	jwtSecret    string
	hmacSecret   string
	allowedDrift time.Duration
	loc          *time.Location

	httpServer *http.Server
}

// New creates the HTTP server with all routes wired.
func New(cfg *config.Config, spins *service.SpinService) (*Server, error) {
	loc, err := cfg.Campaign.Location()
	if err != nil {
		return nil, err
	}

	s := &Server{
		spins:        spins,
		jwtSecret:    cfg.Auth.JWTSecret,
		hmacSecret:   cfg.Auth.HMACSecret,
		allowedDrift: cfg.Auth.AllowedDrift,
		loc:          loc,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/spin").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/my-prizes", s.handleGetMyPrizes).Methods(http.MethodGet)
	api.HandleFunc("", s.handlePostSpin).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/summary", s.handleGetAdminSummary).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Start begins serving requests. Blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
