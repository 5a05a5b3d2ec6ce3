package service

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/ledger"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/valuation"
)

// Issue is one finding from a validation run
type Issue struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// ValidationReport itemizes every consistency finding for a portfolio.
// Validation is read-only and idempotent: running it twice against unchanged
// data yields the same report.
type ValidationReport struct {
	PortfolioID      string    `json:"portfolioId"`
	Valid            bool      `json:"valid"`
	Errors           []Issue   `json:"errors"`
	Warnings         []Issue   `json:"warnings"`
	CheckedTrades    int       `json:"checked_trades"`
	CheckedSnapshots int       `json:"checked_snapshots"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

func (r *ValidationReport) addError(check, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Check: check, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) addWarning(check, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Check: check, Message: fmt.Sprintf(format, args...)})
}

// ValidationService cross-checks the trade ledger against the snapshot
// series. It verifies that replaying the full trade history from the seed
// snapshot reproduces the latest snapshot within the currency tolerance.
type ValidationService struct {
	portfolioRepo PortfolioRepository
	snapshotRepo  SnapshotRepository
	tradeRepo     TradeRepository
	logger        *logging.Logger
}

// NewValidationService creates a new validation service
func NewValidationService(
	portfolioRepo PortfolioRepository,
	snapshotRepo SnapshotRepository,
	tradeRepo TradeRepository,
	logger *logging.Logger,
) *ValidationService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ValidationService{
		portfolioRepo: portfolioRepo,
		snapshotRepo:  snapshotRepo,
		tradeRepo:     tradeRepo,
		logger:        logger,
	}
}

// Validate checks one portfolio's records for internal consistency
func (s *ValidationService) Validate(ctx context.Context, portfolioID string) (*ValidationReport, error) {
	portfolio, err := s.portfolioRepo.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get portfolio", err)
	}
	if portfolio == nil {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	snapshots, err := s.snapshotRepo.ListAll(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("list snapshots", err)
	}
	if len(snapshots) == 0 {
		return nil, errors.NewNoSeedError(portfolioID)
	}

	trades, err := s.tradeRepo.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("list trades", err)
	}

	report := &ValidationReport{
		PortfolioID:      portfolioID,
		Errors:           []Issue{},
		Warnings:         []Issue{},
		CheckedTrades:    len(trades),
		CheckedSnapshots: len(snapshots),
		GeneratedAt:      time.Now().UTC(),
	}

	s.checkTrades(report, trades)
	s.checkSnapshots(ctx, report, snapshots)
	s.checkReplay(ctx, report, snapshots, trades)

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// checkTrades verifies each trade's internal arithmetic
func (s *ValidationService) checkTrades(report *ValidationReport, trades []*models.Trade) {
	for _, trade := range trades {
		if !trade.Reconciles() {
			report.addError("trade_total_value",
				"trade %s: total value %s does not match quantity %s x price %s",
				trade.ID, trade.TotalValue, trade.Quantity, trade.Price)
		}
		if trade.Quantity.Sign() <= 0 {
			report.addError("trade_quantity", "trade %s: quantity %s is not positive", trade.ID, trade.Quantity)
		}
	}
}

// checkSnapshots verifies each snapshot's internal arithmetic and the
// series ordering
func (s *ValidationService) checkSnapshots(ctx context.Context, report *ValidationReport, snapshots []*models.PortfolioSnapshot) {
	for i, snapshot := range snapshots {
		sum := snapshot.CashBalance.Add(snapshot.EquityValue)
		if !valuation.WithinTolerance(snapshot.TotalValue, sum) {
			report.addError("snapshot_total_value",
				"snapshot %s: total value %s does not match cash %s + equity %s",
				snapshot.ID, snapshot.TotalValue, snapshot.CashBalance, snapshot.EquityValue)
		}

		if i > 0 && !snapshot.CreatedAt.After(snapshots[i-1].CreatedAt) {
			report.addError("snapshot_ordering",
				"snapshot %s created at %s is not after its predecessor %s",
				snapshot.ID, snapshot.CreatedAt.Format(time.RFC3339Nano), snapshots[i-1].ID)
		}
	}

	seed := snapshots[0]
	seedPositions, err := s.snapshotRepo.PositionsBySnapshot(ctx, seed.ID)
	if err != nil {
		report.addError("seed_snapshot", "failed to load seed snapshot positions: %v", err)
		return
	}
	if len(seedPositions) > 0 {
		report.addWarning("seed_snapshot", "seed snapshot %s carries %d positions, expected all-cash", seed.ID, len(seedPositions))
	}
}

// checkReplay replays the full trade history from the seed snapshot and
// compares the result against the latest snapshot.
func (s *ValidationService) checkReplay(ctx context.Context, report *ValidationReport, snapshots []*models.PortfolioSnapshot, trades []*models.Trade) {
	seed := snapshots[0]
	latest := snapshots[len(snapshots)-1]

	// Only trades visible to the latest snapshot participate.
	var upToLatest []*models.Trade
	for _, trade := range trades {
		if !trade.ExecutedAt.After(latest.CreatedAt) {
			upToLatest = append(upToLatest, trade)
		}
	}

	result := ledger.Replay(upToLatest, nil, seed.CashBalance)
	for _, oversell := range result.Oversells {
		report.addWarning("oversell",
			"trade %s sold %s of %s with only %s held; replay clamped it",
			oversell.TradeID, oversell.Requested, oversell.Symbol, oversell.Held)
	}

	if !valuation.WithinTolerance(result.Cash, latest.CashBalance) {
		report.addError("cash_reconciliation",
			"replayed cash %s does not match latest snapshot cash %s",
			valuation.Money(result.Cash), latest.CashBalance)
	}

	latestPositions, err := s.snapshotRepo.PositionsBySnapshot(ctx, latest.ID)
	if err != nil {
		report.addError("position_reconciliation", "failed to load latest snapshot positions: %v", err)
		return
	}

	open := result.Open()
	seen := make(map[string]bool, len(latestPositions))
	for _, stored := range latestPositions {
		seen[stored.Symbol] = true

		derived, ok := open[stored.Symbol]
		if !ok {
			report.addError("position_reconciliation",
				"snapshot holds %s but replay shows no open position", stored.Symbol)
			continue
		}
		if !derived.Quantity.Equal(stored.Quantity) {
			report.addError("position_reconciliation",
				"%s: replayed quantity %s does not match snapshot quantity %s",
				stored.Symbol, derived.Quantity, stored.Quantity)
		}
		if !valuation.WithinTolerance(derived.AvgPrice(), stored.AvgPrice) {
			report.addError("position_reconciliation",
				"%s: replayed average price %s does not match snapshot average price %s",
				stored.Symbol, derived.AvgPrice().Round(avgPricePlaces), stored.AvgPrice)
		}
	}
	for symbol := range open {
		if !seen[symbol] {
			report.addError("position_reconciliation",
				"replay shows an open %s position missing from the latest snapshot", symbol)
		}
	}
}
