// Package service implements the portfolio engine's business logic: state
// derivation, trade execution, snapshot capture, reconciliation checks and
// the decision cycle.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/ledger"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

// PortfolioRepository interface for portfolio data operations
type PortfolioRepository interface {
	Create(ctx context.Context, portfolio *models.Portfolio) error
	GetByID(ctx context.Context, id string) (*models.Portfolio, error)
	GetByName(ctx context.Context, name string) (*models.Portfolio, error)
	List(ctx context.Context) ([]*models.Portfolio, error)
}

// TradeRepository interface for trade data operations
type TradeRepository interface {
	Create(ctx context.Context, trade *models.Trade) error
	ListByPortfolio(ctx context.Context, portfolioID string) ([]*models.Trade, error)
	ListAfter(ctx context.Context, portfolioID string, after time.Time) ([]*models.Trade, error)
	Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Trade, error)
}

// SnapshotRepository interface for snapshot data operations
type SnapshotRepository interface {
	CreateAtomic(ctx context.Context, snapshot *models.PortfolioSnapshot, positions []*models.PositionSnapshot) error
	Latest(ctx context.Context, portfolioID string) (*models.PortfolioSnapshot, error)
	InRange(ctx context.Context, portfolioID string, from time.Time) ([]*models.PortfolioSnapshot, error)
	ListAll(ctx context.Context, portfolioID string) ([]*models.PortfolioSnapshot, error)
	Count(ctx context.Context, portfolioID string) (int64, error)
	PositionsBySnapshot(ctx context.Context, snapshotID string) ([]*models.PositionSnapshot, error)
}

// DecisionRepository interface for decision data operations
type DecisionRepository interface {
	Create(ctx context.Context, decision *models.Decision) error
	CreateBatch(ctx context.Context, decisions []*models.Decision) error
	Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Decision, error)
}

// StateCache interface for the cache-aside state store
type StateCache interface {
	GetState(ctx context.Context, portfolioID string, dest interface{}) (bool, error)
	SetState(ctx context.Context, portfolioID string, state interface{}) error
	InvalidateState(ctx context.Context, portfolioID string) error
}

// PriceProvider resolves current market prices for a set of symbols. Symbols
// without a quote are simply absent from the returned map.
type PriceProvider interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// PositionState is one holding inside a derived portfolio state
type PositionState struct {
	Symbol          string           `json:"symbol"`
	Quantity        decimal.Decimal  `json:"quantity"`
	AvgPrice        decimal.Decimal  `json:"avg_price"`
	CurrentPrice    *decimal.Decimal `json:"current_price,omitempty"`
	MarketValue     decimal.Decimal  `json:"market_value"`
	UnrealizedPL    *decimal.Decimal `json:"unrealized_pl,omitempty"`
	UnrealizedPLPct *decimal.Decimal `json:"unrealized_pl_pct,omitempty"`
	DaysHeld        *int             `json:"days_held,omitempty"`
}

// PortfolioState is the derived current state of a portfolio: the latest
// snapshot plus every trade executed after it, valued at the given prices.
type PortfolioState struct {
	PortfolioID   string          `json:"portfolioId"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	Positions     []PositionState `json:"positions"`
	EquityValue   decimal.Decimal `json:"equity_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	MissingPrices []string        `json:"missing_prices,omitempty"`
	AsOf          time.Time       `json:"asOf"`
}

// HistoryPoint is one snapshot in a portfolio's value history
type HistoryPoint struct {
	Date        time.Time       `json:"date"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	EquityValue decimal.Decimal `json:"equity_value"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// ValueHistory is the snapshot series over a requested window. Days is the
// requested window; DaysTracked counts the snapshots actually found in it.
type ValueHistory struct {
	PortfolioID    string          `json:"portfolioId"`
	Days           int             `json:"days"`
	DaysTracked    int             `json:"days_tracked"`
	Points         []HistoryPoint  `json:"points"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
}

// PerformanceMetrics summarizes portfolio performance over its snapshot
// history
type PerformanceMetrics struct {
	PortfolioID    string          `json:"portfolioId"`
	StartValue     decimal.Decimal `json:"start_value"`
	EndValue       decimal.Decimal `json:"end_value"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	BestDayPct     decimal.Decimal `json:"best_day_pct"`
	WorstDayPct    decimal.Decimal `json:"worst_day_pct"`
	DaysTracked    int             `json:"days_tracked"`
}

// PortfolioService derives portfolio state and reports on value history
type PortfolioService struct {
	portfolioRepo PortfolioRepository
	snapshotRepo  SnapshotRepository
	tradeRepo     TradeRepository
	cache         StateCache
	logger        *logging.Logger
}

// NewPortfolioService creates a new portfolio service. The cache is optional.
func NewPortfolioService(
	portfolioRepo PortfolioRepository,
	snapshotRepo SnapshotRepository,
	tradeRepo TradeRepository,
	cache StateCache,
	logger *logging.Logger,
) *PortfolioService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PortfolioService{
		portfolioRepo: portfolioRepo,
		snapshotRepo:  snapshotRepo,
		tradeRepo:     tradeRepo,
		cache:         cache,
		logger:        logger,
	}
}

// replayFromLatest rebuilds cash and positions from the latest snapshot plus
// the trades executed after it.
func (s *PortfolioService) replayFromLatest(ctx context.Context, portfolioID string) (*ledger.Result, error) {
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

	positions, err := s.snapshotRepo.PositionsBySnapshot(ctx, latest.ID)
	if err != nil {
		return nil, errors.NewDatabaseError("get snapshot positions", err)
	}

	trades, err := s.tradeRepo.ListAfter(ctx, portfolioID, latest.CreatedAt)
	if err != nil {
		return nil, errors.NewDatabaseError("list trades after snapshot", err)
	}

	result := ledger.Replay(trades, ledger.SeedFromSnapshot(positions), latest.CashBalance)
	for _, oversell := range result.Oversells {
		s.logger.WithFields(map[string]interface{}{
			"portfolioId": portfolioID,
			"tradeId":     oversell.TradeID,
			"symbol":      oversell.Symbol,
			"requested":   oversell.Requested.String(),
			"held":        oversell.Held.String(),
		}).Warn("sell trade exceeded held quantity during replay, clamped")
	}

	return result, nil
}

// CurrentState derives the portfolio's current state valued at the given
// prices. Positions without a quote are valued at their average cost and
// reported in MissingPrices.
func (s *PortfolioService) CurrentState(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal) (*PortfolioState, error) {
	result, err := s.replayFromLatest(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	state := buildState(portfolioID, result, prices)
	for _, symbol := range state.MissingPrices {
		s.logger.WithField("symbol", symbol).Warn("no market price, valuing position at average cost")
	}

	// Holding ages need the full trade history; positions that predate the
	// earliest recorded trade are left without one.
	trades, err := s.tradeRepo.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		s.logger.WithError(err).Warn("failed to list trades for holding ages")
	} else {
		opened := positionOpenedAt(trades)
		now := time.Now().UTC()
		for i := range state.Positions {
			if openedAt, ok := opened[state.Positions[i].Symbol]; ok {
				days := int(now.Sub(openedAt).Hours() / 24)
				state.Positions[i].DaysHeld = &days
			}
		}
	}

	if s.cache != nil {
		if err := s.cache.SetState(ctx, portfolioID, state); err != nil {
			s.logger.WithError(err).Warn("failed to cache portfolio state")
		}
	}

	return state, nil
}

// CachedState returns the cached derived state when present, deriving and
// caching it otherwise.
func (s *PortfolioService) CachedState(ctx context.Context, portfolioID string, prices map[string]decimal.Decimal) (*PortfolioState, error) {
	if s.cache != nil {
		var cached PortfolioState
		hit, err := s.cache.GetState(ctx, portfolioID, &cached)
		if err != nil {
			s.logger.WithError(err).Warn("state cache read failed, deriving from database")
		} else if hit {
			return &cached, nil
		}
	}

	return s.CurrentState(ctx, portfolioID, prices)
}

// positionOpenedAt finds when each open position was last opened: the first
// BUY after the held quantity was zero. Trades must be in execution order.
func positionOpenedAt(trades []*models.Trade) map[string]time.Time {
	held := make(map[string]decimal.Decimal)
	opened := make(map[string]time.Time)

	for _, trade := range trades {
		qty := held[trade.Symbol]
		switch trade.Side {
		case types.SideBuy:
			if qty.Sign() <= 0 {
				opened[trade.Symbol] = trade.ExecutedAt
			}
			held[trade.Symbol] = qty.Add(trade.Quantity)
		case types.SideSell:
			qty = qty.Sub(trade.Quantity)
			if qty.Sign() <= 0 {
				qty = decimal.Zero
				delete(opened, trade.Symbol)
			}
			held[trade.Symbol] = qty
		}
	}

	return opened
}

// buildState values a replay result at the given prices
func buildState(portfolioID string, result *ledger.Result, prices map[string]decimal.Decimal) *PortfolioState {
	state := &PortfolioState{
		PortfolioID: portfolioID,
		CashBalance: valuation.Money(result.Cash),
		Positions:   []PositionState{},
		AsOf:        time.Now().UTC(),
	}

	equity := decimal.Zero
	for symbol, pos := range result.Open() {
		avgPrice := pos.AvgPrice()
		position := PositionState{
			Symbol:   symbol,
			Quantity: pos.Quantity,
			AvgPrice: valuation.Money(avgPrice),
		}

		if price, ok := prices[symbol]; ok {
			marketValue := valuation.Money(pos.Quantity.Mul(price))
			unrealized := marketValue.Sub(valuation.Money(pos.CostBasis))
			position.CurrentPrice = &price
			position.MarketValue = marketValue
			position.UnrealizedPL = &unrealized
			if pos.CostBasis.Sign() > 0 {
				pct := unrealized.Div(pos.CostBasis).Mul(decimal.NewFromInt(100)).Round(2)
				position.UnrealizedPLPct = &pct
			}
		} else {
			position.MarketValue = valuation.Money(pos.CostBasis)
			state.MissingPrices = append(state.MissingPrices, symbol)
		}

		equity = equity.Add(position.MarketValue)
		state.Positions = append(state.Positions, position)
	}

	sortPositions(state.Positions)

	state.EquityValue = valuation.Money(equity)
	state.TotalValue = valuation.Money(state.CashBalance.Add(state.EquityValue))
	return state
}

// History returns the snapshot series for the last N days with the return
// over that window.
func (s *PortfolioService) History(ctx context.Context, portfolioID string, days int) (*ValueHistory, error) {
	if days <= 0 {
		return nil, errors.NewInvalidParameterError("days", "must be a positive integer")
	}

	portfolio, err := s.portfolioRepo.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get portfolio", err)
	}
	if portfolio == nil {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	from := time.Now().UTC().AddDate(0, 0, -days)
	snapshots, err := s.snapshotRepo.InRange(ctx, portfolioID, from)
	if err != nil {
		return nil, errors.NewDatabaseError("list snapshots", err)
	}
	if len(snapshots) == 0 {
		return nil, errors.NewNotFoundError("snapshot history", portfolioID)
	}

	history := &ValueHistory{
		PortfolioID: portfolioID,
		Days:        days,
		Points:      make([]HistoryPoint, 0, len(snapshots)),
	}
	for _, snapshot := range snapshots {
		history.Points = append(history.Points, HistoryPoint{
			Date:        snapshot.CreatedAt,
			CashBalance: snapshot.CashBalance,
			EquityValue: snapshot.EquityValue,
			TotalValue:  snapshot.TotalValue,
		})
	}

	history.DaysTracked = len(history.Points)
	history.TotalReturnPct = percentChange(snapshots[0].TotalValue, snapshots[len(snapshots)-1].TotalValue)
	return history, nil
}

// Performance computes summary metrics over the portfolio's full snapshot
// history. Requires at least two snapshots.
func (s *PortfolioService) Performance(ctx context.Context, portfolioID string) (*PerformanceMetrics, error) {
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
	if len(snapshots) < 2 {
		return nil, errors.NewInsufficientHistoryError(portfolioID, len(snapshots), 2)
	}

	start := snapshots[0].TotalValue
	end := snapshots[len(snapshots)-1].TotalValue

	metrics := &PerformanceMetrics{
		PortfolioID:    portfolioID,
		StartValue:     start,
		EndValue:       end,
		TotalReturnPct: percentChange(start, end),
		DaysTracked:    len(snapshots),
	}

	// Max drawdown: largest peak-to-trough decline over the series.
	peak := snapshots[0].TotalValue
	maxDrawdown := decimal.Zero
	for _, snapshot := range snapshots[1:] {
		if snapshot.TotalValue.GreaterThan(peak) {
			peak = snapshot.TotalValue
		} else if peak.Sign() > 0 {
			drawdown := peak.Sub(snapshot.TotalValue).Div(peak).Mul(decimal.NewFromInt(100))
			if drawdown.GreaterThan(maxDrawdown) {
				maxDrawdown = drawdown
			}
		}
	}
	metrics.MaxDrawdownPct = maxDrawdown.Round(2)

	best := decimal.Zero
	worst := decimal.Zero
	for i := 1; i < len(snapshots); i++ {
		change := percentChange(snapshots[i-1].TotalValue, snapshots[i].TotalValue)
		if i == 1 || change.GreaterThan(best) {
			best = change
		}
		if i == 1 || change.LessThan(worst) {
			worst = change
		}
	}
	metrics.BestDayPct = best
	metrics.WorstDayPct = worst

	return metrics, nil
}

// RecentTrades returns the latest executed trades, newest first
func (s *PortfolioService) RecentTrades(ctx context.Context, portfolioID string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 20
	}

	portfolio, err := s.portfolioRepo.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, errors.NewDatabaseError("get portfolio", err)
	}
	if portfolio == nil {
		return nil, errors.NewNotFoundError("portfolio", portfolioID)
	}

	trades, err := s.tradeRepo.Recent(ctx, portfolioID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("list recent trades", err)
	}
	return trades, nil
}

func percentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.Sign() == 0 {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(decimal.NewFromInt(100)).Round(2)
}

func sortPositions(positions []PositionState) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
}
