package service

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/shopspring/decimal"
)

// GenerateRequest carries the inputs the decision generator reasons over:
// the portfolio's derived state and current prices for the tracked symbols.
type GenerateRequest struct {
	Portfolio *models.Portfolio
	State     *PortfolioState
	Prices    map[string]decimal.Decimal
	Symbols   []string
}

// DecisionGenerator produces trading decisions from portfolio state. The
// production implementation wraps a language model; tests and the default
// deployment use the deterministic mock.
type DecisionGenerator interface {
	Generate(ctx context.Context, req *GenerateRequest) ([]*models.Decision, error)
	ModelName() string
}

// CycleResult summarizes one full engine cycle
type CycleResult struct {
	PortfolioID string                    `json:"portfolioId"`
	Decisions   []*models.Decision        `json:"decisions"`
	Execution   *ExecutionReport          `json:"execution"`
	Snapshot    *models.PortfolioSnapshot `json:"snapshot"`
	StartedAt   time.Time                 `json:"startedAt"`
	FinishedAt  time.Time                 `json:"finishedAt"`
}

// EngineService drives the decision cycle: fetch prices, derive state,
// generate decisions, persist them, execute through the risk gate, then
// capture the post-trade snapshot.
type EngineService struct {
	portfolioRepo PortfolioRepository
	decisionRepo  DecisionRepository
	portfolioSvc  *PortfolioService
	executor      *TradeExecutor
	snapshotSvc   *SnapshotService
	generator     DecisionGenerator
	prices        PriceProvider
	symbols       []string
	logger        *logging.Logger

	ticker   *time.Ticker
	stopChan chan struct{}
	running  bool
}

// NewEngineService creates a new engine service
func NewEngineService(
	portfolioRepo PortfolioRepository,
	decisionRepo DecisionRepository,
	portfolioSvc *PortfolioService,
	executor *TradeExecutor,
	snapshotSvc *SnapshotService,
	generator DecisionGenerator,
	prices PriceProvider,
	symbols []string,
	logger *logging.Logger,
) *EngineService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &EngineService{
		portfolioRepo: portfolioRepo,
		decisionRepo:  decisionRepo,
		portfolioSvc:  portfolioSvc,
		executor:      executor,
		snapshotSvc:   snapshotSvc,
		generator:     generator,
		prices:        prices,
		symbols:       symbols,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// RunCycle runs one full decision cycle for a portfolio
func (s *EngineService) RunCycle(ctx context.Context, portfolioID string) (*CycleResult, error) {
	startedAt := time.Now().UTC()

	portfolio, err := s.portfolioRepo.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get portfolio", err)
	}
	if portfolio == nil {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	prices := map[string]decimal.Decimal{}
	if s.prices != nil {
		prices, err = s.prices.Prices(ctx, s.symbols)
		if err != nil {
			s.logger.WithError(err).Warn("price lookup failed, cycle continues without quotes")
			prices = map[string]decimal.Decimal{}
		}
	}

	state, err := s.portfolioSvc.CurrentState(ctx, portfolioID, prices)
	if err != nil {
		return nil, err
	}

	decisions, err := s.generator.Generate(ctx, &GenerateRequest{
		Portfolio: portfolio,
		State:     state,
		Prices:    prices,
		Symbols:   s.symbols,
	})
	if err != nil {
		return nil, errors.NewInternalError("decision generation failed", err)
	}

	for _, decision := range decisions {
		decision.PortfolioID = portfolioID
		if decision.ModelUsed == "" {
			decision.ModelUsed = s.generator.ModelName()
		}
	}
	if err := s.decisionRepo.CreateBatch(ctx, decisions); err != nil {
		return nil, errors.NewDatabaseError("store decisions", err)
	}

	execution, err := s.executor.ExecuteBatch(ctx, portfolioID, decisions, prices)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.snapshotSvc.Capture(ctx, portfolioID, prices)
	if err != nil {
		return nil, err
	}

	result := &CycleResult{
		PortfolioID: portfolioID,
		Decisions:   decisions,
		Execution:   execution,
		Snapshot:    snapshot,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
	}

	s.logger.WithFields(map[string]interface{}{
		"portfolioId": portfolioID,
		"decisions":   len(decisions),
		"executed":    len(execution.Executed),
		"rejected":    len(execution.Rejected),
		"totalValue":  snapshot.TotalValue.String(),
		"elapsed":     result.FinishedAt.Sub(startedAt).String(),
	}).Info("engine cycle completed")

	return result, nil
}

// RunCycleAll runs one cycle for every portfolio
func (s *EngineService) RunCycleAll(ctx context.Context) error {
	portfolios, err := s.portfolioRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list portfolios: %w", err)
	}

	for _, portfolio := range portfolios {
		if _, err := s.RunCycle(ctx, portfolio.ID); err != nil {
			// An unseeded or misconfigured portfolio should not page anyone;
			// the rest of the run continues either way.
			entry := s.logger.WithError(err).WithField("portfolioId", portfolio.ID)
			if errors.IsUserError(err) {
				entry.Warn("engine cycle skipped portfolio")
			} else {
				entry.Error("engine cycle failed")
			}
		}
	}

	return nil
}

// Start begins the periodic cycle scheduler
func (s *EngineService) Start(ctx context.Context, interval time.Duration) error {
	if s.running {
		return fmt.Errorf("engine scheduler is already running")
	}
	s.running = true

	s.ticker = time.NewTicker(interval)
	s.logger.WithField("interval", interval.String()).Info("engine scheduler starting")

	go func() {
		defer s.ticker.Stop()
		for {
			select {
			case <-s.ticker.C:
				if err := s.RunCycleAll(ctx); err != nil {
					s.logger.WithError(err).Error("scheduled engine run failed")
				}
			case <-s.stopChan:
				s.logger.Info("engine scheduler stopped")
				return
			}
		}
	}()

	return nil
}

// Stop gracefully stops the cycle scheduler
func (s *EngineService) Stop() error {
	if !s.running {
		return fmt.Errorf("engine scheduler is not running")
	}
	close(s.stopChan)
	s.running = false
	return nil
}

// MockGenerator is a deterministic decision generator used when no model
// backend is configured. It rotates BUY/HOLD/SELL across the tracked symbols
// by calendar day, so repeated cycles on the same day propose the same
// decisions.
type MockGenerator struct{}

// NewMockGenerator creates a mock decision generator
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// ModelName identifies the generator in stored decisions
func (g *MockGenerator) ModelName() string {
	return "mock"
}

// Generate produces one decision per tracked symbol
func (g *MockGenerator) Generate(ctx context.Context, req *GenerateRequest) ([]*models.Decision, error) {
	day := time.Now().UTC().YearDay()

	held := make(map[string]decimal.Decimal, len(req.State.Positions))
	for _, pos := range req.State.Positions {
		held[pos.Symbol] = pos.Quantity
	}

	decisions := make([]*models.Decision, 0, len(req.Symbols))
	for i, symbol := range req.Symbols {
		decision := &models.Decision{
			Symbol:     symbol,
			Confidence: decimal.RequireFromString("0.7"),
			CreatedAt:  time.Now().UTC(),
		}

		switch (day + i) % 3 {
		case 0:
			decision.Action = types.ActionBuy
			decision.Quantity = decimal.NewFromInt(10)
			decision.Reasoning = fmt.Sprintf("rotation slot buys %s", symbol)
		case 1:
			if held[symbol].Sign() > 0 {
				decision.Action = types.ActionSell
				decision.Quantity = held[symbol].Div(decimal.NewFromInt(2)).Floor()
				decision.Reasoning = fmt.Sprintf("rotation slot trims %s", symbol)
			} else {
				decision.Action = types.ActionHold
				decision.Quantity = decimal.Zero
				decision.Reasoning = fmt.Sprintf("nothing held in %s", symbol)
			}
		default:
			decision.Action = types.ActionHold
			decision.Quantity = decimal.Zero
			decision.Reasoning = fmt.Sprintf("rotation slot holds %s", symbol)
		}

		decisions = append(decisions, decision)
	}

	return decisions, nil
}
