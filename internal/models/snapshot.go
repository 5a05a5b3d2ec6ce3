package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is a point-in-time rollup of portfolio value. Snapshots
// are append-only and strictly ordered by CreatedAt per portfolio; the seed
// snapshot establishes starting cash. Invariant: TotalValue equals
// CashBalance+EquityValue within currency rounding.
type PortfolioSnapshot struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolioId" db:"portfolio_id"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	EquityValue decimal.Decimal `json:"equity_value" db:"equity_value"`
	TotalValue  decimal.Decimal `json:"total_value" db:"total_value"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// PositionSnapshot is one per-symbol holding belonging to exactly one
// PortfolioSnapshot. Rows are never mutated; the next snapshot supersedes
// them. Quantity is always strictly positive — closed positions are pruned
// before persisting.
type PositionSnapshot struct {
	ID         string          `json:"id" db:"id"`
	SnapshotID string          `json:"snapshotId" db:"snapshot_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price" db:"avg_price"`
}
