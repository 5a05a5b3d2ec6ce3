// Package main provides a CLI tool that creates the configured portfolio and
// writes its initial all-cash snapshot. Safe to run repeatedly: an existing
// portfolio is reused and a seeded portfolio is left untouched.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/portfolio-engine/internal/config"
	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/service"
	"github.com/portfolio-engine/internal/storage"
	"github.com/shopspring/decimal"
)

func main() {
	name := flag.String("name", "", "Portfolio name (defaults to PORTFOLIO_NAME)")
	cash := flag.String("cash", "", "Seed cash (defaults to SEED_CASH)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	portfolioName := cfg.Engine.PortfolioName
	if *name != "" {
		portfolioName = *name
	}

	seedCash := cfg.Engine.SeedCash
	if *cash != "" {
		seedCash, err = decimal.NewFromString(*cash)
		if err != nil || seedCash.Sign() <= 0 {
			log.Fatalf("Invalid seed cash %q", *cash)
		}
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	portfolioRepo := storage.NewPortfolioRepository(postgres)
	snapshotRepo := storage.NewSnapshotRepository(postgres)
	tradeRepo := storage.NewTradeRepository(postgres)

	snapshotService := service.NewSnapshotService(
		snapshotRepo,
		portfolioRepo,
		tradeRepo,
		nil,
		nil,
		nil,
		service.NewPortfolioLocks(),
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	portfolio, err := portfolioRepo.GetByName(ctx, portfolioName)
	if err != nil {
		logger.WithError(err).Fatal("Failed to look up portfolio")
	}
	if portfolio == nil {
		portfolio = &models.Portfolio{Name: portfolioName}
		if err := portfolioRepo.Create(ctx, portfolio); err != nil {
			logger.WithError(err).Fatal("Failed to create portfolio")
		}
		logger.WithFields(map[string]interface{}{
			"id":   portfolio.ID,
			"name": portfolioName,
		}).Info("Portfolio created")
	} else {
		logger.WithFields(map[string]interface{}{
			"id":   portfolio.ID,
			"name": portfolioName,
		}).Info("Portfolio already exists")
	}

	snapshot, err := snapshotService.Seed(ctx, portfolio.ID, seedCash)
	if err != nil {
		if catErr := errors.Categorize(err); catErr != nil && catErr.Code == "INVALID_PARAMETER" {
			logger.Info("Portfolio already seeded, nothing to do")
			return
		}
		logger.WithError(err).Fatal("Failed to seed portfolio")
	}

	logger.WithFields(map[string]interface{}{
		"snapshotId": snapshot.ID,
		"cash":       snapshot.CashBalance.String(),
	}).Info("Seed snapshot written")
}
