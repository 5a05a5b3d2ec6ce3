package models

import (
	"time"

	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

// Trade is an immutable record of an executed order. Written only by the
// trade executor; cash is never persisted directly, it is recomputed by
// replaying trades. Invariant: TotalValue equals Quantity*Price within
// currency rounding.
type Trade struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolioId" db:"portfolio_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Side        types.Side      `json:"side" db:"side"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	TotalValue  decimal.Decimal `json:"total_value" db:"total_value"`
	ExecutedAt  time.Time       `json:"executedAt" db:"executed_at"`
	DecisionID  *string         `json:"decisionId,omitempty" db:"decision_id"`
}

// Reconciles reports whether the persisted total value matches
// quantity*price within the currency tolerance.
func (t *Trade) Reconciles() bool {
	return valuation.WithinTolerance(t.TotalValue, valuation.Money(t.Quantity.Mul(t.Price)))
}
