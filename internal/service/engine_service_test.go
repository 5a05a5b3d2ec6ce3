package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/risk"
	"github.com/portfolio-engine/internal/types"
	"github.com/shopspring/decimal"
)

// scriptedGenerator returns a fixed decision list
type scriptedGenerator struct {
	decisions []*models.Decision
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *GenerateRequest) ([]*models.Decision, error) {
	return g.decisions, nil
}

func (g *scriptedGenerator) ModelName() string { return "scripted" }

func newTestEngine(t *testing.T, generator DecisionGenerator, prices map[string]decimal.Decimal) (*EngineService, *mockDecisionRepo, *mockTradeRepo, *mockSnapshotRepo, string) {
	t.Helper()

	portfolioRepo, snapshotRepo, tradeRepo, portfolio := seededFixture(t)
	decisionRepo := &mockDecisionRepo{}
	locks := NewPortfolioLocks()
	provider := &stubPriceProvider{prices: prices}
	symbols := []string{"RELIANCE", "INFY"}

	portfolioSvc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())
	gate := risk.NewGate(risk.Config{
		MinConfidence:       dec("0.6"),
		MaxPositionFraction: dec("0.20"),
		Policy:              types.PolicyFixedFraction,
	})
	executor := NewTradeExecutor(gate, tradeRepo, portfolioSvc, nil, locks, testLogger())
	snapshotSvc := NewSnapshotService(snapshotRepo, portfolioRepo, tradeRepo, provider, symbols, nil, locks, testLogger())

	engine := NewEngineService(portfolioRepo, decisionRepo, portfolioSvc, executor, snapshotSvc,
		generator, provider, symbols, testLogger())

	return engine, decisionRepo, tradeRepo, snapshotRepo, portfolio.ID
}

func TestRunCycleExecutesAndSnapshots(t *testing.T) {
	prices := map[string]decimal.Decimal{
		"RELIANCE": dec("2500"),
		"INFY":     dec("1000"),
	}
	generator := &scriptedGenerator{decisions: []*models.Decision{
		{Symbol: "RELIANCE", Action: types.ActionBuy, Quantity: dec("10"), Confidence: dec("0.9"), Reasoning: "momentum"},
		{Symbol: "INFY", Action: types.ActionHold, Quantity: decimal.Zero, Confidence: dec("0.8"), Reasoning: "fairly valued"},
	}}

	engine, decisionRepo, tradeRepo, snapshotRepo, portfolioID := newTestEngine(t, generator, prices)

	result, err := engine.RunCycle(context.Background(), portfolioID)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	// Both decisions stored with portfolio and model stamped on.
	if len(decisionRepo.decisions) != 2 {
		t.Fatalf("stored decisions = %d, want 2", len(decisionRepo.decisions))
	}
	for _, decision := range decisionRepo.decisions {
		if decision.PortfolioID != portfolioID {
			t.Errorf("decision portfolio = %s, want %s", decision.PortfolioID, portfolioID)
		}
		if decision.ModelUsed != "scripted" {
			t.Errorf("decision model = %s, want scripted", decision.ModelUsed)
		}
	}

	// One executed trade, one HOLD rejection.
	if len(result.Execution.Executed) != 1 {
		t.Fatalf("executed = %d, want 1", len(result.Execution.Executed))
	}
	if len(result.Execution.Rejected) != 1 || result.Execution.Rejected[0].Reason != types.RejectHold {
		t.Errorf("rejected = %+v, want one HOLD", result.Execution.Rejected)
	}
	if len(tradeRepo.trades) != 1 {
		t.Errorf("persisted trades = %d, want 1", len(tradeRepo.trades))
	}

	// The post-cycle snapshot reflects the executed buy.
	if result.Snapshot == nil {
		t.Fatal("cycle produced no snapshot")
	}
	if !result.Snapshot.CashBalance.Equal(dec("975000")) {
		t.Errorf("snapshot cash = %s, want 975000", result.Snapshot.CashBalance)
	}
	if !result.Snapshot.TotalValue.Equal(dec("1000000")) {
		t.Errorf("snapshot total = %s, want 1000000", result.Snapshot.TotalValue)
	}

	count, _ := snapshotRepo.Count(context.Background(), portfolioID)
	if count != 2 {
		t.Errorf("snapshot count = %d, want 2 (seed + cycle)", count)
	}
}

func TestRunCycleUnknownPortfolio(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t, &scriptedGenerator{}, nil)

	if _, err := engine.RunCycle(context.Background(), "missing"); err == nil {
		t.Error("RunCycle() for an unknown portfolio should fail")
	}
}

func TestRunCycleAllSkipsUnseededPortfolio(t *testing.T) {
	ctx := context.Background()
	portfolioRepo, snapshotRepo, tradeRepo, seeded := seededFixture(t)
	if err := portfolioRepo.Create(ctx, &models.Portfolio{ID: "p-unseeded", Name: "Fresh"}); err != nil {
		t.Fatalf("fixture portfolio: %v", err)
	}

	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LevelWarn, logging.FormatText)
	logger.SetOutput(&buf)

	decisionRepo := &mockDecisionRepo{}
	locks := NewPortfolioLocks()
	provider := &stubPriceProvider{}
	symbols := []string{"RELIANCE"}

	portfolioSvc := NewPortfolioService(portfolioRepo, snapshotRepo, tradeRepo, nil, testLogger())
	gate := risk.NewGate(risk.Config{
		MinConfidence:       dec("0.6"),
		MaxPositionFraction: dec("0.20"),
		Policy:              types.PolicyFixedFraction,
	})
	executor := NewTradeExecutor(gate, tradeRepo, portfolioSvc, nil, locks, testLogger())
	snapshotSvc := NewSnapshotService(snapshotRepo, portfolioRepo, tradeRepo, provider, symbols, nil, locks, testLogger())
	engine := NewEngineService(portfolioRepo, decisionRepo, portfolioSvc, executor, snapshotSvc,
		&scriptedGenerator{}, provider, symbols, logger)

	if err := engine.RunCycleAll(ctx); err != nil {
		t.Fatalf("RunCycleAll() error = %v", err)
	}

	// The unseeded portfolio is a setup problem, not a system failure.
	if !strings.Contains(buf.String(), "engine cycle skipped portfolio") {
		t.Errorf("log output = %q, want a skipped-portfolio warning", buf.String())
	}
	if strings.Contains(buf.String(), "engine cycle failed") {
		t.Errorf("log output = %q, unseeded portfolio should not log as failure", buf.String())
	}

	// The seeded portfolio still completed its cycle.
	count, _ := snapshotRepo.Count(ctx, seeded.ID)
	if count != 2 {
		t.Errorf("snapshot count = %d, want 2 (seed + cycle)", count)
	}
}

func TestMockGeneratorCoversAllSymbols(t *testing.T) {
	generator := NewMockGenerator()
	state := &PortfolioState{Positions: []PositionState{}}

	decisions, err := generator.Generate(context.Background(), &GenerateRequest{
		State:   state,
		Symbols: []string{"RELIANCE", "INFY", "TCS"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(decisions) != 3 {
		t.Fatalf("decisions = %d, want one per symbol", len(decisions))
	}
	for _, decision := range decisions {
		if !decision.Action.Valid() {
			t.Errorf("invalid action %q for %s", decision.Action, decision.Symbol)
		}
		if decision.Action != types.ActionHold && decision.Quantity.Sign() <= 0 {
			t.Errorf("%s decision for %s has non-positive quantity", decision.Action, decision.Symbol)
		}
	}
}
