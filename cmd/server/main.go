// Package main is the entry point for the spin campaign service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spin-campaign-service/internal/config"
	"spin-campaign-service/internal/draw"
	"spin-campaign-service/internal/pkg/cache"
	"spin-campaign-service/internal/pkg/db"
	"spin-campaign-service/internal/repository"
	"spin-campaign-service/internal/server"
	"spin-campaign-service/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("campaign", cfg.Campaign.ID).
		Int("rewards", len(cfg.Campaign.Rewards)).
		Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize the Redis fast layer
	fastCache, err := cache.New(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer fastCache.Close()

	// Initialize repositories
	spinRepo := repository.NewSpinRepository(dbPool.Pool)
	quotaRepo := repository.NewQuotaRepository(dbPool.Pool)

	// Initialize the allocation engine
	spinService, err := service.NewSpinService(
		spinRepo,
		quotaRepo,
		fastCache,
		&cfg.Campaign,
		cfg.RateLimit,
		draw.CryptoRoller{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create spin service")
	}

	// Seed the campaign's daily cap schedule
	if err := spinService.SeedDailyCaps(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed daily caps")
	}

	// Clear stale usage aggregates at each day rollover
	go spinService.RunDailyReset(ctx)

	// Initialize the HTTP server
	httpServer, err := server.New(cfg, spinService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create HTTP server")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create daily_caps table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS daily_caps (
			reward_id VARCHAR(64) NOT NULL,
			day_key CHAR(8) NOT NULL,
			cap BIGINT NOT NULL,
			PRIMARY KEY (reward_id, day_key)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: daily_caps table created")

	// Migration 2: Create reward_counters table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reward_counters (
			reward_id VARCHAR(64) NOT NULL,
			day_key CHAR(8) NOT NULL,
			used_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (reward_id, day_key)
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: reward_counters table created")

	// Migration 3: Create spins table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS spins (
			id UUID PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			reward_id VARCHAR(64) NOT NULL,
			idempotency_key VARCHAR(128) NOT NULL UNIQUE,
			request_signature TEXT NOT NULL,
			client_info JSONB NOT NULL,
			outcome_snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_spins_user_time ON spins(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_spins_reward ON spins(reward_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: spins table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
