package ledger

import (
	"testing"
	"time"

	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trade(symbol string, side types.Side, qty, price string, at time.Time) *models.Trade {
	q := dec(qty)
	p := dec(price)
	return &models.Trade{
		ID:         symbol + "-" + string(side) + "-" + at.Format(time.RFC3339Nano),
		Symbol:     symbol,
		Side:       side,
		Quantity:   q,
		Price:      p,
		TotalValue: valuation.Money(q.Mul(p)),
		ExecutedAt: at,
	}
}

func TestReplayBuyFromSeedCash(t *testing.T) {
	// Scenario: seed cash 1,000,000, BUY 10 RELIANCE @ 2500.
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []*models.Trade{
		trade("RELIANCE", types.SideBuy, "10", "2500", base),
	}

	result := Replay(trades, nil, dec("1000000"))

	if !result.Cash.Equal(dec("975000")) {
		t.Errorf("cash = %s, want 975000", result.Cash)
	}

	pos := result.Positions["RELIANCE"]
	if !pos.Quantity.Equal(dec("10")) {
		t.Errorf("quantity = %s, want 10", pos.Quantity)
	}
	if !pos.AvgPrice().Equal(dec("2500")) {
		t.Errorf("avg price = %s, want 2500", pos.AvgPrice())
	}
	if len(result.Oversells) != 0 {
		t.Errorf("unexpected oversells: %v", result.Oversells)
	}
}

func TestReplaySellReducesAtAverageCost(t *testing.T) {
	// Scenario: holding 20 INFY @ avg 1000, SELL 5 @ 1200.
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	seed := map[string]Position{
		"INFY": {Quantity: dec("20"), CostBasis: dec("20000")},
	}
	trades := []*models.Trade{
		trade("INFY", types.SideSell, "5", "1200", base),
	}

	result := Replay(trades, seed, dec("100000"))

	pos := result.Positions["INFY"]
	if !pos.Quantity.Equal(dec("15")) {
		t.Errorf("quantity = %s, want 15", pos.Quantity)
	}
	if !pos.AvgPrice().Equal(dec("1000")) {
		t.Errorf("avg price = %s, want 1000 (average cost unchanged by sell)", pos.AvgPrice())
	}
	if !result.Cash.Equal(dec("106000")) {
		t.Errorf("cash = %s, want 106000", result.Cash)
	}
}

func TestReplayMixedBuysAverageCost(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []*models.Trade{
		trade("TCS", types.SideBuy, "10", "3000", base),
		trade("TCS", types.SideBuy, "10", "4000", base.Add(time.Minute)),
	}

	result := Replay(trades, nil, dec("100000"))

	pos := result.Positions["TCS"]
	if !pos.Quantity.Equal(dec("20")) {
		t.Errorf("quantity = %s, want 20", pos.Quantity)
	}
	if !pos.AvgPrice().Equal(dec("3500")) {
		t.Errorf("avg price = %s, want 3500", pos.AvgPrice())
	}
}

func TestReplayOversellClampsAndFlags(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []*models.Trade{
		trade("INFY", types.SideBuy, "5", "1000", base),
		trade("INFY", types.SideSell, "8", "1100", base.Add(time.Minute)),
	}

	result := Replay(trades, nil, dec("10000"))

	pos := result.Positions["INFY"]
	if pos.Quantity.Sign() != 0 {
		t.Errorf("quantity = %s, want 0 (clamped, never negative)", pos.Quantity)
	}
	if len(result.Oversells) != 1 {
		t.Fatalf("oversells = %d, want 1", len(result.Oversells))
	}
	if !result.Oversells[0].Requested.Equal(dec("8")) || !result.Oversells[0].Held.Equal(dec("5")) {
		t.Errorf("oversell = %+v, want requested 8 held 5", result.Oversells[0])
	}

	// Cash credited only for the 5 shares actually held: 10000 - 5000 + 5*1100.
	if !result.Cash.Equal(dec("10500")) {
		t.Errorf("cash = %s, want 10500", result.Cash)
	}
}

func TestReplaySellWithNoPositionMovesNothing(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []*models.Trade{
		trade("WIPRO", types.SideSell, "3", "500", base),
	}

	result := Replay(trades, nil, dec("1000"))

	if !result.Cash.Equal(dec("1000")) {
		t.Errorf("cash = %s, want unchanged 1000", result.Cash)
	}
	if len(result.Oversells) != 1 {
		t.Errorf("oversells = %d, want 1", len(result.Oversells))
	}
}

func TestReplayOrdersTradesByExecutionTime(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	// Sell arrives first in the slice but executed after the buy.
	trades := []*models.Trade{
		trade("INFY", types.SideSell, "5", "1200", base.Add(time.Hour)),
		trade("INFY", types.SideBuy, "5", "1000", base),
	}

	result := Replay(trades, nil, dec("10000"))

	if len(result.Oversells) != 0 {
		t.Errorf("replay should sort by ExecutedAt before folding, got oversells %v", result.Oversells)
	}
	if !result.Cash.Equal(dec("11000")) {
		t.Errorf("cash = %s, want 11000", result.Cash)
	}
}

func TestOpenPrunesClosedPositions(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	trades := []*models.Trade{
		trade("INFY", types.SideBuy, "5", "1000", base),
		trade("INFY", types.SideSell, "5", "1100", base.Add(time.Minute)),
		trade("TCS", types.SideBuy, "2", "3000", base.Add(2*time.Minute)),
	}

	result := Replay(trades, nil, dec("100000"))
	open := result.Open()

	if _, ok := open["INFY"]; ok {
		t.Error("fully closed INFY position should be pruned")
	}
	if _, ok := open["TCS"]; !ok {
		t.Error("open TCS position should be retained")
	}
}

func TestAvgPriceZeroQuantity(t *testing.T) {
	var pos Position
	if !pos.AvgPrice().IsZero() {
		t.Errorf("AvgPrice on empty position = %s, want 0", pos.AvgPrice())
	}
}

func TestSeedFromSnapshot(t *testing.T) {
	seed := SeedFromSnapshot([]*models.PositionSnapshot{
		{Symbol: "INFY", Quantity: dec("20"), AvgPrice: dec("1000")},
	})

	pos, ok := seed["INFY"]
	if !ok {
		t.Fatal("seed missing INFY")
	}
	if !pos.CostBasis.Equal(dec("20000")) {
		t.Errorf("cost basis = %s, want 20000", pos.CostBasis)
	}
}
