package service

import (
	"context"
	goerrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/ledger"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/storage"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

// avgPricePlaces is the persisted scale of position average prices. Six
// places keeps cost basis reconstructed from a snapshot within the one-cent
// tolerance of a full-history replay.
const avgPricePlaces = 6

// SnapshotService captures portfolio value snapshots. Every snapshot is
// derived from the previous one plus the trades executed after it, so the
// series stays consistent with the trade ledger by construction.
type SnapshotService struct {
	snapshotRepo  SnapshotRepository
	portfolioRepo PortfolioRepository
	tradeRepo     TradeRepository
	prices        PriceProvider
	symbols       []string
	cache         StateCache
	locks         *PortfolioLocks
	logger        *logging.Logger

	ticker   *time.Ticker
	stopChan chan struct{}
	running  bool
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	snapshotRepo SnapshotRepository,
	portfolioRepo PortfolioRepository,
	tradeRepo TradeRepository,
	prices PriceProvider,
	symbols []string,
	cache StateCache,
	locks *PortfolioLocks,
	logger *logging.Logger,
) *SnapshotService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SnapshotService{
		snapshotRepo:  snapshotRepo,
		portfolioRepo: portfolioRepo,
		tradeRepo:     tradeRepo,
		prices:        prices,
		symbols:       symbols,
		cache:         cache,
		locks:         locks,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Seed writes the initial snapshot for a portfolio: all cash, no positions.
// Fails if the portfolio already has snapshots.
func (s *SnapshotService) Seed(ctx context.Context, portfolioID string, cash decimal.Decimal) (*models.PortfolioSnapshot, error) {
	unlock := s.locks.Lock(portfolioID)
	defer unlock()

	portfolio, err := s.portfolioRepo.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get portfolio", err)
	}
	if portfolio == nil {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	count, err := s.snapshotRepo.Count(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("count snapshots", err)
	}
	if count > 0 {
		return nil, errors.NewInvalidParameterError("portfolioId", "portfolio is already seeded")
	}

	cash = valuation.Money(cash)
	snapshot := &models.PortfolioSnapshot{
		PortfolioID: portfolioID,
		CashBalance: cash,
		EquityValue: decimal.Zero,
		TotalValue:  cash,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.snapshotRepo.CreateAtomic(ctx, snapshot, nil); err != nil {
		return nil, errors.NewDatabaseError("create seed snapshot", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"portfolioId": portfolioID,
		"cash":        cash.String(),
	}).Info("seed snapshot created")

	return snapshot, nil
}

// Capture derives current state from the latest snapshot plus subsequent
// trades, values it at the given prices, and persists it as the next
// snapshot. Positions without a quote are valued at their average cost.
func (s *SnapshotService) Capture(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal) (*models.PortfolioSnapshot, error) {
	unlock := s.locks.Lock(portfolioID)
	defer unlock()

	portfolio, err := s.portfolioRepo.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get portfolio", err)
	}
	if portfolio == nil {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	latest, err := s.snapshotRepo.Latest(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get latest snapshot", err)
	}
	if latest == nil {
		return nil, errors.NewNoSeedError(portfolioID)
	}

	seedPositions, err := s.snapshotRepo.PositionsBySnapshot(ctx, latest.ID)
	if err != nil {
		return nil, errors.NewDatabaseError("get snapshot positions", err)
	}

	trades, err := s.tradeRepo.ListAfter(ctx, portfolioID, latest.CreatedAt)
	if err != nil {
		return nil, errors.NewDatabaseError("list trades after snapshot", err)
	}

	result := ledger.Replay(trades, ledger.SeedFromSnapshot(seedPositions), latest.CashBalance)
	for _, oversell := range result.Oversells {
		s.logger.WithFields(map[string]interface{}{
			"portfolioId": portfolioID,
			"tradeId":     oversell.TradeID,
			"symbol":      oversell.Symbol,
		}).Warn("oversell clamped while building snapshot")
	}

	open := result.Open()
	equity := decimal.Zero
	positions := make([]*models.PositionSnapshot, 0, len(open))
	for symbol, pos := range open {
		if price, ok := prices[symbol]; ok {
			equity = equity.Add(pos.Quantity.Mul(price))
		} else {
			s.logger.WithField("symbol", symbol).Warn("no market price, valuing position at average cost in snapshot")
			equity = equity.Add(pos.CostBasis)
		}
		positions = append(positions, &models.PositionSnapshot{
			Symbol:   symbol,
			Quantity: pos.Quantity,
			AvgPrice: pos.AvgPrice().Round(avgPricePlaces),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	cash := valuation.Money(result.Cash)
	equity = valuation.Money(equity)

	snapshot := &models.PortfolioSnapshot{
		PortfolioID: portfolioID,
		CashBalance: cash,
		EquityValue: equity,
		TotalValue:  valuation.Money(cash.Add(equity)),
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.snapshotRepo.CreateAtomic(ctx, snapshot, positions); err != nil {
		if goerrors.Is(err, storage.ErrPortfolioNotFound) {
			return nil, errors.NewNotFoundError("portfolio", portfolioID)
		}
		return nil, errors.NewDatabaseError("create snapshot", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateState(ctx, portfolioID); err != nil {
			s.logger.WithError(err).Warn("failed to invalidate state cache after snapshot")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"portfolioId": portfolioID,
		"snapshotId":  snapshot.ID,
		"cash":        snapshot.CashBalance.String(),
		"equity":      snapshot.EquityValue.String(),
		"total":       snapshot.TotalValue.String(),
		"positions":   len(positions),
		"trades":      len(trades),
	}).Info("snapshot captured")

	return snapshot, nil
}

// CaptureAll captures a snapshot for every portfolio. Failures are logged
// per portfolio; one bad portfolio never blocks the rest.
func (s *SnapshotService) CaptureAll(ctx context.Context) error {
	portfolios, err := s.portfolioRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list portfolios: %w", err)
	}

	prices := s.fetchPrices(ctx)

	for _, portfolio := range portfolios {
		if _, err := s.Capture(ctx, portfolio.ID, prices); err != nil {
			s.logger.WithError(err).WithField("portfolioId", portfolio.ID).Error("failed to capture snapshot")
		}
	}

	return nil
}

func (s *SnapshotService) fetchPrices(ctx context.Context) map[string]decimal.Decimal {
	if s.prices == nil || len(s.symbols) == 0 {
		return nil
	}
	prices, err := s.prices.Prices(ctx, s.symbols)
	if err != nil {
		s.logger.WithError(err).Warn("price lookup failed, snapshot will use average-cost valuation")
		return nil
	}
	return prices
}

// Start begins the periodic snapshot scheduler
func (s *SnapshotService) Start(ctx context.Context, interval time.Duration) error {
	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true

	s.ticker = time.NewTicker(interval)
	s.logger.WithField("interval", interval.String()).Info("snapshot scheduler starting")

	go func() {
		defer s.ticker.Stop()
		for {
			select {
			case <-s.ticker.C:
				if err := s.CaptureAll(ctx); err != nil {
					s.logger.WithError(err).Error("scheduled snapshot run failed")
				}
			case <-s.stopChan:
				s.logger.Info("snapshot scheduler stopped")
				return
			}
		}
	}()

	return nil
}

// Stop gracefully stops the snapshot scheduler
func (s *SnapshotService) Stop() error {
	if !s.running {
		return fmt.Errorf("snapshot scheduler is not running")
	}
	close(s.stopChan)
	s.running = false
	return nil
}
