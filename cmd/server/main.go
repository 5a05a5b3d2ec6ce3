// Package main provides the API server entry point for the portfolio engine.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-engine/internal/api"
	"github.com/portfolio-engine/internal/config"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/marketdata"
	"github.com/portfolio-engine/internal/risk"
	"github.com/portfolio-engine/internal/service"
	"github.com/portfolio-engine/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Redis is optional: without it state and quote lookups fall through to
	// Postgres and the market data provider.
	var stateCache service.StateCache
	var quoteCache marketdata.QuoteCache
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, caching disabled")
	} else {
		defer redis.Close()
		cache := storage.NewStateCache(redis, cfg.Cache.StateTTL, cfg.Cache.PriceTTL)
		stateCache = cache
		quoteCache = cache
	}

	logger.Info("Database connections established")

	// Initialize repositories
	portfolioRepo := storage.NewPortfolioRepository(postgres)
	snapshotRepo := storage.NewSnapshotRepository(postgres)
	tradeRepo := storage.NewTradeRepository(postgres)
	decisionRepo := storage.NewDecisionRepository(postgres)

	// Initialize services
	logger.Info("Initializing services...")

	quotes := marketdata.NewClient(quoteCache, logger)
	locks := service.NewPortfolioLocks()

	portfolioService := service.NewPortfolioService(
		portfolioRepo,
		snapshotRepo,
		tradeRepo,
		stateCache,
		logger,
	)

	gate := risk.NewGate(risk.Config{
		MinConfidence:       cfg.Risk.MinConfidence,
		MaxPositionFraction: cfg.Risk.MaxPositionFraction,
		Policy:              cfg.Risk.Policy,
	})

	executor := service.NewTradeExecutor(
		gate,
		tradeRepo,
		portfolioService,
		stateCache,
		locks,
		logger,
	)

	snapshotService := service.NewSnapshotService(
		snapshotRepo,
		portfolioRepo,
		tradeRepo,
		quotes,
		cfg.Engine.Symbols,
		stateCache,
		locks,
		logger,
	)

	validationService := service.NewValidationService(
		portfolioRepo,
		snapshotRepo,
		tradeRepo,
		logger,
	)

	engineService := service.NewEngineService(
		portfolioRepo,
		decisionRepo,
		portfolioService,
		executor,
		snapshotService,
		service.NewMockGenerator(),
		quotes,
		cfg.Engine.Symbols,
		logger,
	)

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  10,
		Symbols:         cfg.Engine.Symbols,
	}

	server := api.NewServer(
		serverConfig,
		portfolioService,
		snapshotService,
		validationService,
		engineService,
		portfolioRepo,
		decisionRepo,
		quotes,
	)

	// Start server in a goroutine. ErrServerClosed is the normal return on
	// graceful shutdown, not a startup failure.
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
