package service

import (
	"context"
	"time"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/risk"
	"github.com/portfolio-engine/internal/types"
	"github.com/shopspring/decimal"
)

// RejectedOrder records one decision the risk gate refused
type RejectedOrder struct {
	DecisionID string             `json:"decisionId"`
	Symbol     string             `json:"symbol"`
	Reason     types.RejectReason `json:"reason"`
	Detail     string             `json:"detail"`
}

// FailedOrder records one admitted order whose persistence failed. The batch
// continues past it.
type FailedOrder struct {
	DecisionID string `json:"decisionId"`
	Symbol     string `json:"symbol"`
	Error      string `json:"error"`
}

// ExecutionReport summarizes one decision batch: what executed, what the
// gate refused, and what failed to persist.
type ExecutionReport struct {
	PortfolioID string          `json:"portfolioId"`
	Executed    []*models.Trade `json:"executed"`
	Rejected    []RejectedOrder `json:"rejected"`
	Failed      []FailedOrder   `json:"failed"`
	CashAfter   decimal.Decimal `json:"cash_after"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

// TradeExecutor turns admitted decisions into persisted trades. Decisions in
// a batch execute sequentially against a running cash balance and running
// held quantities, so an early BUY reduces what a later BUY can afford.
type TradeExecutor struct {
	gate         *risk.Gate
	tradeRepo    TradeRepository
	portfolioSvc *PortfolioService
	cache        StateCache
	locks        *PortfolioLocks
	logger       *logging.Logger
}

// NewTradeExecutor creates a new trade executor
func NewTradeExecutor(
	gate *risk.Gate,
	tradeRepo TradeRepository,
	portfolioSvc *PortfolioService,
	cache StateCache,
	locks *PortfolioLocks,
	logger *logging.Logger,
) *TradeExecutor {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TradeExecutor{
		gate:         gate,
		tradeRepo:    tradeRepo,
		portfolioSvc: portfolioSvc,
		cache:        cache,
		locks:        locks,
		logger:       logger,
	}
}

// ExecuteBatch gates and executes one batch of decisions for a portfolio.
// Each order is isolated: a rejection or persistence failure is recorded and
// the batch moves on. The returned report is complete even when every order
// failed; the error return covers only setup failures such as a missing seed
// snapshot.
func (e *TradeExecutor) ExecuteBatch(ctx context.Context, portfolioID string, decisions []*models.Decision, prices map[string]decimal.Decimal) (*ExecutionReport, error) {
	unlock := e.locks.Lock(portfolioID)
	defer unlock()

	result, err := e.portfolioSvc.replayFromLatest(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	cash := result.Cash
	held := make(map[string]decimal.Decimal, len(result.Positions))
	for symbol, pos := range result.Positions {
		held[symbol] = pos.Quantity
	}

	report := &ExecutionReport{
		PortfolioID: portfolioID,
		Executed:    []*models.Trade{},
		Rejected:    []RejectedOrder{},
		Failed:      []FailedOrder{},
		ExecutedAt:  time.Now().UTC(),
	}

	for _, decision := range decisions {
		price, havePrice := prices[decision.Symbol]

		order, rejection := e.gate.Admit(risk.Request{
			Decision:      decision,
			AvailableCash: cash,
			Price:         price,
			HavePrice:     havePrice,
			HeldQuantity:  held[decision.Symbol],
		})
		if rejection != nil {
			e.logger.WithFields(map[string]interface{}{
				"portfolioId": portfolioID,
				"decisionId":  decision.ID,
				"symbol":      decision.Symbol,
				"reason":      string(rejection.Reason),
			}).Info("decision rejected by risk gate")
			report.Rejected = append(report.Rejected, RejectedOrder{
				DecisionID: decision.ID,
				Symbol:     decision.Symbol,
				Reason:     rejection.Reason,
				Detail:     rejection.Detail,
			})
			continue
		}

		trade := &models.Trade{
			PortfolioID: portfolioID,
			Symbol:      order.Symbol,
			Side:        order.Side,
			Quantity:    order.Quantity,
			Price:       order.Price,
			TotalValue:  order.TotalValue(),
			ExecutedAt:  time.Now().UTC(),
			DecisionID:  &decision.ID,
		}

		if err := e.tradeRepo.Create(ctx, trade); err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"portfolioId": portfolioID,
				"symbol":      order.Symbol,
			}).Error("failed to persist trade, skipping order")
			report.Failed = append(report.Failed, FailedOrder{
				DecisionID: decision.ID,
				Symbol:     order.Symbol,
				Error:      err.Error(),
			})
			continue
		}

		switch order.Side {
		case types.SideBuy:
			cash = cash.Sub(trade.TotalValue)
			held[order.Symbol] = held[order.Symbol].Add(order.Quantity)
		case types.SideSell:
			cash = cash.Add(trade.TotalValue)
			held[order.Symbol] = held[order.Symbol].Sub(order.Quantity)
		}

		e.logger.WithFields(map[string]interface{}{
			"portfolioId": portfolioID,
			"tradeId":     trade.ID,
			"symbol":      trade.Symbol,
			"side":        string(trade.Side),
			"quantity":    trade.Quantity.String(),
			"price":       trade.Price.String(),
		}).Info("trade executed")

		report.Executed = append(report.Executed, trade)
	}

	report.CashAfter = cash

	if e.cache != nil && len(report.Executed) > 0 {
		if err := e.cache.InvalidateState(ctx, portfolioID); err != nil {
			e.logger.WithError(err).Warn("failed to invalidate state cache after execution")
		}
	}

	return report, nil
}

// ExecuteOne gates and executes a single decision, returning an error when
// it is rejected. Used by callers that submit one order at a time.
func (e *TradeExecutor) ExecuteOne(ctx context.Context, portfolioID string, decision *models.Decision, prices map[string]decimal.Decimal) (*models.Trade, error) {
	report, err := e.ExecuteBatch(ctx, portfolioID, []*models.Decision{decision}, prices)
	if err != nil {
		return nil, err
	}
	if len(report.Executed) == 1 {
		return report.Executed[0], nil
	}
	if len(report.Rejected) == 1 {
		rejected := report.Rejected[0]
		if rejected.Reason == types.RejectNoPrice {
			return nil, errors.NewExternalDataUnavailableError(rejected.Symbol)
		}
		return nil, errors.NewOrderRejectedError(rejected.Symbol, rejected.Reason, rejected.Detail)
	}
	if len(report.Failed) == 1 {
		return nil, errors.NewInternalError("failed to persist trade", nil)
	}
	return nil, errors.NewInternalError("decision produced no outcome", nil)
}
