// Package risk admits or rejects proposed trading decisions before they
// become orders. The gate applies a confidence floor and position-size
// constraints; the sizing policy is configuration, not branching variants.
package risk

import (
	"fmt"

	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

// Config holds the gate's policy constants.
type Config struct {
	// MinConfidence rejects decisions below this confidence score
	MinConfidence decimal.Decimal
	// MaxPositionFraction caps a single BUY at this fraction of available
	// cash under the fixed-fraction policy
	MaxPositionFraction decimal.Decimal
	// Policy selects fixed-fraction or respect-ai sizing
	Policy types.RiskPolicy
}

// Gate applies risk constraints to decisions.
type Gate struct {
	cfg Config
}

// NewGate creates a gate from policy configuration.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Request carries everything the gate needs to evaluate one decision. Prices
// are resolved by the caller; the gate never performs lookups itself.
type Request struct {
	Decision      *models.Decision
	AvailableCash decimal.Decimal
	Price         decimal.Decimal
	HavePrice     bool
	HeldQuantity  decimal.Decimal
}

// Order is an admitted decision with a finalized quantity, ready for
// execution.
type Order struct {
	Symbol     string
	Side       types.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	DecisionID string
}

// TotalValue returns the currency value of the order at its admitted price.
func (o *Order) TotalValue() decimal.Decimal {
	return valuation.Money(o.Quantity.Mul(o.Price))
}

// Rejection is an explicit refusal with a stable reason code.
type Rejection struct {
	Reason types.RejectReason
	Detail string
}

func reject(reason types.RejectReason, format string, args ...interface{}) (*Order, *Rejection) {
	return nil, &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Admit evaluates one decision against the gate's policy. It returns either
// a concrete order or a rejection, never both.
func (g *Gate) Admit(req Request) (*Order, *Rejection) {
	d := req.Decision

	if d.Action == types.ActionHold {
		return reject(types.RejectHold, "decision for %s is HOLD", d.Symbol)
	}

	if d.Confidence.LessThan(g.cfg.MinConfidence) {
		return reject(types.RejectLowConfidence,
			"confidence %s below minimum %s", d.Confidence, g.cfg.MinConfidence)
	}

	if d.Quantity.Sign() <= 0 {
		return reject(types.RejectZeroQuantity, "requested quantity %s is not positive", d.Quantity)
	}

	if !req.HavePrice || req.Price.Sign() <= 0 {
		return reject(types.RejectNoPrice, "no market price available for %s", d.Symbol)
	}

	switch d.Action {
	case types.ActionBuy:
		return g.admitBuy(req)
	case types.ActionSell:
		return g.admitSell(req)
	default:
		return reject(types.RejectZeroQuantity, "unknown action %q", d.Action)
	}
}

func (g *Gate) admitBuy(req Request) (*Order, *Rejection) {
	spendable := req.AvailableCash
	if g.cfg.Policy == types.PolicyFixedFraction {
		spendable = spendable.Mul(g.cfg.MaxPositionFraction)
	}

	if spendable.Sign() <= 0 {
		return reject(types.RejectInsufficientCash,
			"no spendable cash for %s (available %s)", req.Decision.Symbol, req.AvailableCash)
	}

	// Whole shares only: the affordable quantity is floored.
	maxAffordable := spendable.Div(req.Price).Floor()
	if maxAffordable.Sign() <= 0 {
		return reject(types.RejectInsufficientCash,
			"cannot afford one share of %s at %s with spendable %s",
			req.Decision.Symbol, req.Price, valuation.Money(spendable))
	}

	quantity := decimal.Min(req.Decision.Quantity, maxAffordable)

	return &Order{
		Symbol:     req.Decision.Symbol,
		Side:       types.SideBuy,
		Quantity:   quantity,
		Price:      req.Price,
		DecisionID: req.Decision.ID,
	}, nil
}

func (g *Gate) admitSell(req Request) (*Order, *Rejection) {
	// Never emit a sell of more shares than the ledger holds.
	quantity := decimal.Min(req.Decision.Quantity, req.HeldQuantity)
	if quantity.Sign() <= 0 {
		return reject(types.RejectZeroQuantity,
			"no held quantity of %s to sell", req.Decision.Symbol)
	}

	return &Order{
		Symbol:     req.Decision.Symbol,
		Side:       types.SideSell,
		Quantity:   quantity,
		Price:      req.Price,
		DecisionID: req.Decision.ID,
	}, nil
}
