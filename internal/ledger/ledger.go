// Package ledger derives position and cash state by replaying trade history.
// The ledger is never persisted: it is rebuilt either from the full trade
// history or from a snapshot's positions plus the trades executed after it,
// and both modes must reconcile to the same state.
package ledger

import (
	"sort"

	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

// Position is a running holding for one symbol: total share quantity and the
// cumulative cost paid for those shares (average-cost method, not FIFO).
type Position struct {
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
}

// AvgPrice returns the weighted-average cost per share, zero for an empty
// position.
func (p Position) AvgPrice() decimal.Decimal {
	return valuation.SafeDivide(p.CostBasis, p.Quantity)
}

// Oversell records a SELL that asked for more shares than the ledger held at
// that point in the replay. The sell is clamped to the held quantity; the
// ledger never goes negative. Oversells indicate corrupted history and are
// surfaced to callers rather than silently absorbed.
type Oversell struct {
	TradeID   string          `json:"tradeId"`
	Symbol    string          `json:"symbol"`
	Requested decimal.Decimal `json:"requested"`
	Held      decimal.Decimal `json:"held"`
}

// Result is the outcome of a replay: final cash, per-symbol positions and
// any oversells encountered.
type Result struct {
	Cash      decimal.Decimal
	Positions map[string]Position
	Oversells []Oversell
}

// Replay folds trades over the seed state in execution order.
//
// BUY:  quantity += q, cost basis += total value, cash -= total value.
// SELL: quantity -= q, cost basis shrinks by q times the average cost,
// cash += q times price. A SELL beyond the held quantity is clamped and
// flagged; only the clamped part moves cash and cost basis.
func Replay(trades []*models.Trade, seed map[string]Position, startingCash decimal.Decimal) *Result {
	result := &Result{
		Cash:      startingCash,
		Positions: make(map[string]Position, len(seed)),
	}
	for symbol, pos := range seed {
		result.Positions[symbol] = pos
	}

	ordered := make([]*models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	for _, t := range ordered {
		pos := result.Positions[t.Symbol]

		switch t.Side {
		case types.SideBuy:
			pos.Quantity = pos.Quantity.Add(t.Quantity)
			pos.CostBasis = pos.CostBasis.Add(t.TotalValue)
			result.Cash = result.Cash.Sub(t.TotalValue)

		case types.SideSell:
			sellable := t.Quantity
			if sellable.GreaterThan(pos.Quantity) {
				result.Oversells = append(result.Oversells, Oversell{
					TradeID:   t.ID,
					Symbol:    t.Symbol,
					Requested: t.Quantity,
					Held:      pos.Quantity,
				})
				sellable = pos.Quantity
			}
			if sellable.Sign() <= 0 {
				continue
			}

			avgCost := pos.AvgPrice()
			pos.CostBasis = pos.CostBasis.Sub(sellable.Mul(avgCost))
			pos.Quantity = pos.Quantity.Sub(sellable)
			if pos.Quantity.IsZero() {
				// fully closed; drop division dust
				pos.CostBasis = decimal.Zero
			}

			if sellable.Equal(t.Quantity) {
				result.Cash = result.Cash.Add(t.TotalValue)
			} else {
				result.Cash = result.Cash.Add(valuation.Money(sellable.Mul(t.Price)))
			}
		}

		result.Positions[t.Symbol] = pos
	}

	return result
}

// Open returns only the positions with strictly positive quantity, the set
// eligible for persisting into a snapshot.
func (r *Result) Open() map[string]Position {
	open := make(map[string]Position, len(r.Positions))
	for symbol, pos := range r.Positions {
		if pos.Quantity.Sign() > 0 {
			open[symbol] = pos
		}
	}
	return open
}

// SeedFromSnapshot converts a snapshot's persisted position rows into the
// seed state for an incremental replay. Cost basis is reconstructed as
// quantity times the stored average price.
func SeedFromSnapshot(positions []*models.PositionSnapshot) map[string]Position {
	seed := make(map[string]Position, len(positions))
	for _, p := range positions {
		seed[p.Symbol] = Position{
			Quantity:  p.Quantity,
			CostBasis: p.Quantity.Mul(p.AvgPrice),
		}
	}
	return seed
}
