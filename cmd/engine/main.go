// Package main provides the decision-cycle runner. It either runs one cycle
// for every portfolio and exits, or schedules cycles at the configured
// interval until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-engine/internal/config"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/marketdata"
	"github.com/portfolio-engine/internal/risk"
	"github.com/portfolio-engine/internal/service"
	"github.com/portfolio-engine/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "Run a single cycle for every portfolio and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

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

	portfolioRepo := storage.NewPortfolioRepository(postgres)
	snapshotRepo := storage.NewSnapshotRepository(postgres)
	tradeRepo := storage.NewTradeRepository(postgres)
	decisionRepo := storage.NewDecisionRepository(postgres)

	quotes := marketdata.NewClient(quoteCache, logger)
	locks := service.NewPortfolioLocks()

	portfolioService := service.NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, stateCache, logger)

	gate := risk.NewGate(risk.Config{
		MinConfidence:       cfg.Risk.MinConfidence,
		MaxPositionFraction: cfg.Risk.MaxPositionFraction,
		Policy:              cfg.Risk.Policy,
	})

	executor := service.NewTradeExecutor(gate, tradeRepo, portfolioService, stateCache, locks, logger)

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

	ctx := context.Background()

	if *once {
		if err := engineService.RunCycleAll(ctx); err != nil {
			logger.WithError(err).Fatal("Cycle failed")
		}
		logger.Info("Cycle completed")
		return
	}

	if err := engineService.Start(ctx, cfg.Engine.CycleInterval); err != nil {
		logger.WithError(err).Fatal("Failed to start engine scheduler")
	}

	logger.WithField("interval", cfg.Engine.CycleInterval.String()).Info("Engine scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping engine scheduler...")
	if err := engineService.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop engine scheduler")
	}
	logger.Info("Engine exited")
}
