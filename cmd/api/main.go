package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agribazaar/agribazaar-golang/internal/database"
	"github.com/agribazaar/agribazaar-golang/internal/geo"
	"github.com/agribazaar/agribazaar-golang/internal/handlers"
	"github.com/agribazaar/agribazaar-golang/internal/payments"
	"github.com/agribazaar/agribazaar-golang/internal/routes"
)

func main() {
	// 1. --- Configuration & Logging ---
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("APP_ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", "agribazaar-api").Logger()

	// 2. --- Database ---
	db, err := database.OpenDB()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// 3. --- Redis (optional, geocode cache) ---
	var cache *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := cache.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, geocode caching disabled")
			cache = nil
		}
	}

	// 4. --- Payment Gateway ---
	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey == "" {
		logger.Fatal().Msg("STRIPE_SECRET_KEY is required")
	}
	gateway := payments.NewStripeGateway(stripeKey, os.Getenv("STRIPE_WEBHOOK_SECRET"), logger)

	// 5. --- Handlers & Router ---
	geocoder := geo.NewGeocoder(cache, logger)
	devMode := os.Getenv("APP_ENV") != "production"
	h := handlers.NewHandlers(db, gateway, geocoder, logger, devMode)
	router := routes.SetupRouter(h)

	// 6. --- Escrow Release Scheduler ---
	// Matured escrow holds are swept on an interval (daily by default).
	// The /v1/internal endpoint exists for an external cron; this ticker
	// is the built-in fallback so releases happen either way.
	sweepHours := 24
	if v, err := strconv.Atoi(os.Getenv("ESCROW_SWEEP_HOURS")); err == nil && v > 0 {
		sweepHours = v
	}
	go func() {
		ticker := time.NewTicker(time.Duration(sweepHours) * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			h.RunEscrowReleaseSweep(context.Background())
		}
	}()
	logger.Info().Int("interval_hours", sweepHours).Msg("Escrow release scheduler started")

	// 7. --- Serve ---
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logger.Info().Str("port", port).Msg("Starting API server")
	if err := router.Run(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped")
	}
}
