package models

import (
	"fmt"
	"time"

	"github.com/portfolio-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Decision is an immutable record of one model recommendation. It is
// constructed once at the trust boundary from the generator's structured
// output and consumed read-only by the risk gate and trade executor.
type Decision struct {
	ID             string          `json:"id" db:"id"`
	PortfolioID    string          `json:"portfolioId" db:"portfolio_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Action         types.Action    `json:"action" db:"action"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	Confidence     decimal.Decimal `json:"confidence" db:"confidence"`
	Reasoning      string          `json:"reasoning" db:"reasoning"`
	RawModelOutput string          `json:"rawModelOutput,omitempty" db:"raw_model_output"`
	ModelUsed      string          `json:"modelUsed" db:"model_used"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// ActionSummary renders the one-line summary shown in decision listings,
// e.g. "BUY 10 RELIANCE".
func (d *Decision) ActionSummary() string {
	return fmt.Sprintf("%s %s %s", d.Action, d.Quantity.String(), d.Symbol)
}
