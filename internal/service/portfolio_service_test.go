package service

import (
	"context"
	"testing"
	"time"

	"github.com/portfolio-engine/internal/errors"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/shopspring/decimal"
)

func seededFixture(t *testing.T) (*mockPortfolioRepo, *mockSnapshotRepo, *mockTradeRepo, *models.Portfolio) {
	t.Helper()

	portfolio := &models.Portfolio{
		ID:        "p-1",
		Name:      "Primary Portfolio",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	portfolioRepo := newMockPortfolioRepo(portfolio)

	snapshotRepo := newMockSnapshotRepo()
	seed := &models.PortfolioSnapshot{
		PortfolioID: portfolio.ID,
		CashBalance: dec("1000000"),
		EquityValue: decimal.Zero,
		TotalValue:  dec("1000000"),
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := snapshotRepo.CreateAtomic(context.Background(), seed, nil); err != nil {
		t.Fatalf("seeding fixture: %v", err)
	}

	return portfolioRepo, snapshotRepo, &mockTradeRepo{}, portfolio
}

func addTrade(repo *mockTradeRepo, portfolioID, symbol string, side types.Side, qty, price string, at time.Time) {
	q := dec(qty)
	p := dec(price)
	repo.trades = append(repo.trades, &models.Trade{
		ID:          symbol + "-" + at.Format(time.RFC3339),
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    q,
		Price:       p,
		TotalValue:  q.Mul(p).Round(2),
		ExecutedAt:  at,
	})
}

func TestCurrentStateAfterBuy(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	addTrade(tradeRepo, portfolio.ID, "RELIANCE", types.SideBuy, "10", "2500",
		time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))

	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	state, err := svc.CurrentState(context.Background(), portfolio.ID, map[string]decimal.Decimal{
		"RELIANCE": dec("2600"),
	})
	if err != nil {
		t.Fatalf("CurrentState() error = %v", err)
	}

	if !state.CashBalance.Equal(dec("975000")) {
		t.Errorf("cash = %s, want 975000", state.CashBalance)
	}
	if len(state.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(state.Positions))
	}

	pos := state.Positions[0]
	if !pos.Quantity.Equal(dec("10")) {
		t.Errorf("quantity = %s, want 10", pos.Quantity)
	}
	if !pos.MarketValue.Equal(dec("26000")) {
		t.Errorf("market value = %s, want 26000", pos.MarketValue)
	}
	if pos.UnrealizedPL == nil || !pos.UnrealizedPL.Equal(dec("1000")) {
		t.Errorf("unrealized P&L = %v, want 1000", pos.UnrealizedPL)
	}
	if !state.TotalValue.Equal(dec("1001000")) {
		t.Errorf("total value = %s, want 1001000", state.TotalValue)
	}
}

func TestCurrentStateMissingPriceFallsBackToCost(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	addTrade(tradeRepo, portfolio.ID, "INFY", types.SideBuy, "20", "1000",
		time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))

	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	state, err := svc.CurrentState(context.Background(), portfolio.ID, nil)
	if err != nil {
		t.Fatalf("CurrentState() error = %v", err)
	}

	if len(state.MissingPrices) != 1 || state.MissingPrices[0] != "INFY" {
		t.Errorf("missing prices = %v, want [INFY]", state.MissingPrices)
	}
	// Valued at cost basis: 20 x 1000.
	if !state.Positions[0].MarketValue.Equal(dec("20000")) {
		t.Errorf("market value = %s, want 20000 (cost basis)", state.Positions[0].MarketValue)
	}
	if state.Positions[0].CurrentPrice != nil {
		t.Error("current price should be absent without a quote")
	}
}

func TestCurrentStateReportsDaysHeld(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	now := time.Now().UTC()

	// TCS was closed out and reopened; the holding age counts from the reopen.
	addTrade(tradeRepo, portfolio.ID, "TCS", types.SideBuy, "10", "3000", now.AddDate(0, 0, -30))
	addTrade(tradeRepo, portfolio.ID, "TCS", types.SideSell, "10", "3100", now.AddDate(0, 0, -20))
	addTrade(tradeRepo, portfolio.ID, "TCS", types.SideBuy, "5", "3200", now.AddDate(0, 0, -10))

	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	state, err := svc.CurrentState(context.Background(), portfolio.ID, nil)
	if err != nil {
		t.Fatalf("CurrentState() error = %v", err)
	}
	if len(state.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(state.Positions))
	}
	if state.Positions[0].DaysHeld == nil {
		t.Fatal("days held should be set")
	}
	if got := *state.Positions[0].DaysHeld; got != 10 {
		t.Errorf("days held = %d, want 10", got)
	}
}

func TestCachedStateServesFromCache(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	cache := newMockStateCache()
	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, cache, testLogger())
	ctx := context.Background()

	// First read misses the cache, derives from the store and warms it.
	first, err := svc.CachedState(ctx, portfolio.ID, nil)
	if err != nil {
		t.Fatalf("CachedState() error = %v", err)
	}
	if len(cache.states) != 1 {
		t.Fatalf("cached states = %d, want 1", len(cache.states))
	}

	// A trade lands without going through the executor, so the cache is
	// stale. The second read must still come from the cache.
	addTrade(tradeRepo, portfolio.ID, "RELIANCE", types.SideBuy, "10", "2500",
		time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))

	second, err := svc.CachedState(ctx, portfolio.ID, nil)
	if err != nil {
		t.Fatalf("CachedState() error = %v", err)
	}
	if !second.CashBalance.Equal(first.CashBalance) {
		t.Errorf("cash = %s, want cached %s", second.CashBalance, first.CashBalance)
	}

	// Invalidation brings the next read back to the store.
	if err := cache.InvalidateState(ctx, portfolio.ID); err != nil {
		t.Fatalf("InvalidateState() error = %v", err)
	}
	third, err := svc.CachedState(ctx, portfolio.ID, nil)
	if err != nil {
		t.Fatalf("CachedState() error = %v", err)
	}
	if !third.CashBalance.Equal(dec("975000")) {
		t.Errorf("cash = %s, want 975000 after invalidation", third.CashBalance)
	}
}

func TestCurrentStateUnknownPortfolio(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, _ := seededFixture(t)
	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	_, err := svc.CurrentState(context.Background(), "missing", nil)
	if !errors.IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestCurrentStateWithoutSeedSnapshot(t *testing.T) {
	portfolio := &models.Portfolio{ID: "p-unseeded", Name: "Fresh"}
	svc := NewPortfolioService(newMockPortfolioRepo(portfolio), newMockSnapshotRepo(), &mockTradeRepo{}, nil, testLogger())

	_, err := svc.CurrentState(context.Background(), portfolio.ID, nil)
	if !errors.IsNoSeed(err) {
		t.Errorf("error = %v, want no-seed-snapshot", err)
	}
}

func TestHistoryRejectsNonPositiveDays(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	if _, err := svc.History(context.Background(), portfolio.ID, 0); err == nil {
		t.Error("History(0) should fail")
	}
}

func TestHistoryReturnsWindowedSeries(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	ctx := context.Background()

	for i, total := range []string{"1010000", "1020000"} {
		snapshot := &models.PortfolioSnapshot{
			PortfolioID: portfolio.ID,
			CashBalance: dec(total),
			EquityValue: decimal.Zero,
			TotalValue:  dec(total),
			CreatedAt:   time.Now().UTC().AddDate(0, 0, -1+i),
		}
		if err := snapshotRepo.CreateAtomic(ctx, snapshot, nil); err != nil {
			t.Fatalf("fixture snapshot: %v", err)
		}
	}

	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	history, err := svc.History(ctx, portfolio.ID, 7)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history.Points) != 2 {
		t.Fatalf("points = %d, want 2 (seed outside the window)", len(history.Points))
	}
	if history.Days != 7 {
		t.Errorf("days = %d, want the requested 7", history.Days)
	}
	if history.DaysTracked != 2 {
		t.Errorf("days tracked = %d, want 2", history.DaysTracked)
	}
	// 1010000 -> 1020000 is +0.99%.
	if !history.TotalReturnPct.Equal(dec("0.99")) {
		t.Errorf("total return = %s%%, want 0.99", history.TotalReturnPct)
	}
}

func TestPerformanceRequiresTwoSnapshots(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	_, err := svc.Performance(context.Background(), portfolio.ID)
	if err == nil {
		t.Fatal("Performance() with one snapshot should fail")
	}
	catErr := errors.Categorize(err)
	if catErr.Code != "INSUFFICIENT_HISTORY" {
		t.Errorf("code = %s, want INSUFFICIENT_HISTORY", catErr.Code)
	}
}

func TestPerformanceMetrics(t *testing.T) {
	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	ctx := context.Background()

	// Series: 1,000,000 (seed) -> 1,100,000 -> 990,000 -> 1,200,000.
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, total := range []string{"1100000", "990000", "1200000"} {
		snapshot := &models.PortfolioSnapshot{
			PortfolioID: portfolio.ID,
			CashBalance: dec(total),
			EquityValue: decimal.Zero,
			TotalValue:  dec(total),
			CreatedAt:   base.AddDate(0, 0, i),
		}
		if err := snapshotRepo.CreateAtomic(ctx, snapshot, nil); err != nil {
			t.Fatalf("fixture snapshot: %v", err)
		}
	}

	svc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())

	metrics, err := svc.Performance(ctx, portfolio.ID)
	if err != nil {
		t.Fatalf("Performance() error = %v", err)
	}

	if !metrics.TotalReturnPct.Equal(dec("20")) {
		t.Errorf("total return = %s%%, want 20", metrics.TotalReturnPct)
	}
	// Peak 1,100,000 to trough 990,000 is exactly 10%.
	if !metrics.MaxDrawdownPct.Equal(dec("10")) {
		t.Errorf("max drawdown = %s%%, want 10", metrics.MaxDrawdownPct)
	}
	// Best day: 990,000 -> 1,200,000 = +21.21%; worst: 1,100,000 -> 990,000 = -10%.
	if !metrics.BestDayPct.Equal(dec("21.21")) {
		t.Errorf("best day = %s%%, want 21.21", metrics.BestDayPct)
	}
	if !metrics.WorstDayPct.Equal(dec("-10")) {
		t.Errorf("worst day = %s%%, want -10", metrics.WorstDayPct)
	}
	if metrics.DaysTracked != 4 {
		t.Errorf("days tracked = %d, want 4", metrics.DaysTracked)
	}
}
