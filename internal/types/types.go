// Package types provides common type definitions for the portfolio engine.
package types

// Action represents a recommendation produced by the decision generator.
type Action string

const (
	// ActionBuy recommends opening or increasing a position
	ActionBuy Action = "BUY"
	// ActionSell recommends reducing or closing a position
	ActionSell Action = "SELL"
	// ActionHold recommends no trade
	ActionHold Action = "HOLD"
)

// Valid reports whether the action is one of BUY, SELL, HOLD.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Side represents the direction of an executed trade.
type Side string

const (
	// SideBuy represents a buy order
	SideBuy Side = "BUY"
	// SideSell represents a sell order
	SideSell Side = "SELL"
)

// RiskPolicy selects how the risk gate sizes BUY orders.
type RiskPolicy string

const (
	// PolicyFixedFraction caps a single BUY at a fixed fraction of available cash
	PolicyFixedFraction RiskPolicy = "fixed-fraction"
	// PolicyRespectAI caps a BUY only at total available cash
	PolicyRespectAI RiskPolicy = "respect-ai"
)

// ParseRiskPolicy parses a policy name, defaulting to fixed-fraction.
func ParseRiskPolicy(s string) RiskPolicy {
	if RiskPolicy(s) == PolicyRespectAI {
		return PolicyRespectAI
	}
	return PolicyFixedFraction
}

// RejectReason explains why the risk gate refused a decision.
type RejectReason string

const (
	// RejectLowConfidence means the decision confidence was below the configured minimum
	RejectLowConfidence RejectReason = "LOW_CONFIDENCE"
	// RejectHold means the decision action was HOLD
	RejectHold RejectReason = "HOLD"
	// RejectNoPrice means no market price was available for the symbol
	RejectNoPrice RejectReason = "NO_PRICE"
	// RejectZeroQuantity means the requested or admittable quantity was not positive
	RejectZeroQuantity RejectReason = "ZERO_QUANTITY"
	// RejectInsufficientCash means no affordable quantity remained under the cash cap
	RejectInsufficientCash RejectReason = "INSUFFICIENT_CASH"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
