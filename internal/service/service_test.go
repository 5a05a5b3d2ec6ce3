package service

// Shared map-backed mocks for service tests.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/portfolio-engine/internal/logging"
	"github.com/portfolio-engine/internal/models"
	"github.com/shopspring/decimal"
)

func testLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	logger.SetOutput(io.Discard)
	return logger
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type mockPortfolioRepo struct {
	portfolios map[string]*models.Portfolio
}

func newMockPortfolioRepo(portfolios ...*models.Portfolio) *mockPortfolioRepo {
	repo := &mockPortfolioRepo{portfolios: make(map[string]*models.Portfolio)}
	for _, p := range portfolios {
		repo.portfolios[p.ID] = p
	}
	return repo
}

func (m *mockPortfolioRepo) Create(ctx context.Context, portfolio *models.Portfolio) error {
	if portfolio.ID == "" {
		portfolio.ID = fmt.Sprintf("test-portfolio-%d", len(m.portfolios)+1)
	}
	m.portfolios[portfolio.ID] = portfolio
	return nil
}

func (m *mockPortfolioRepo) GetByID(ctx context.Context, id string) (*models.Portfolio, error) {
	return m.portfolios[id], nil
}

func (m *mockPortfolioRepo) GetByName(ctx context.Context, name string) (*models.Portfolio, error) {
	for _, p := range m.portfolios {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockPortfolioRepo) List(ctx context.Context) ([]*models.Portfolio, error) {
	var result []*models.Portfolio
	for _, p := range m.portfolios {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type mockTradeRepo struct {
	trades     []*models.Trade
	failCreate bool
}

func (m *mockTradeRepo) Create(ctx context.Context, trade *models.Trade) error {
	if m.failCreate {
		return fmt.Errorf("simulated insert failure")
	}
	if trade.ID == "" {
		trade.ID = fmt.Sprintf("test-trade-%d", len(m.trades)+1)
	}
	m.trades = append(m.trades, trade)
	return nil
}

func (m *mockTradeRepo) ListByPortfolio(ctx context.Context, portfolioID string) ([]*models.Trade, error) {
	var result []*models.Trade
	for _, t := range m.trades {
		if t.PortfolioID == portfolioID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExecutedAt.Before(result[j].ExecutedAt) })
	return result, nil
}

func (m *mockTradeRepo) ListAfter(ctx context.Context, portfolioID string, after time.Time) ([]*models.Trade, error) {
	all, _ := m.ListByPortfolio(ctx, portfolioID)
	var result []*models.Trade
	for _, t := range all {
		if t.ExecutedAt.After(after) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *mockTradeRepo) Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Trade, error) {
	all, _ := m.ListByPortfolio(ctx, portfolioID)
	sort.Slice(all, func(i, j int) bool { return all[i].ExecutedAt.After(all[j].ExecutedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type mockSnapshotRepo struct {
	snapshots []*models.PortfolioSnapshot
	positions map[string][]*models.PositionSnapshot
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{positions: make(map[string][]*models.PositionSnapshot)}
}

func (m *mockSnapshotRepo) CreateAtomic(ctx context.Context, snapshot *models.PortfolioSnapshot, positions []*models.PositionSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = fmt.Sprintf("test-snapshot-%d", len(m.snapshots)+1)
	}
	if latest, _ := m.Latest(ctx, snapshot.PortfolioID); latest != nil && !snapshot.CreatedAt.After(latest.CreatedAt) {
		snapshot.CreatedAt = latest.CreatedAt.Add(time.Microsecond)
	}
	m.snapshots = append(m.snapshots, snapshot)
	for _, p := range positions {
		p.SnapshotID = snapshot.ID
	}
	m.positions[snapshot.ID] = positions
	return nil
}

func (m *mockSnapshotRepo) Latest(ctx context.Context, portfolioID string) (*models.PortfolioSnapshot, error) {
	var latest *models.PortfolioSnapshot
	for _, s := range m.snapshots {
		if s.PortfolioID != portfolioID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	return latest, nil
}

func (m *mockSnapshotRepo) InRange(ctx context.Context, portfolioID string, from time.Time) ([]*models.PortfolioSnapshot, error) {
	var result []*models.PortfolioSnapshot
	for _, s := range m.snapshots {
		if s.PortfolioID == portfolioID && !s.CreatedAt.Before(from) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *mockSnapshotRepo) ListAll(ctx context.Context, portfolioID string) ([]*models.PortfolioSnapshot, error) {
	return m.InRange(ctx, portfolioID, time.Time{})
}

func (m *mockSnapshotRepo) Count(ctx context.Context, portfolioID string) (int64, error) {
	var count int64
	for _, s := range m.snapshots {
		if s.PortfolioID == portfolioID {
			count++
		}
	}
	return count, nil
}

func (m *mockSnapshotRepo) PositionsBySnapshot(ctx context.Context, snapshotID string) ([]*models.PositionSnapshot, error) {
	return m.positions[snapshotID], nil
}

type mockDecisionRepo struct {
	decisions []*models.Decision
}

func (m *mockDecisionRepo) Create(ctx context.Context, decision *models.Decision) error {
	if decision.ID == "" {
		decision.ID = fmt.Sprintf("test-decision-%d", len(m.decisions)+1)
	}
	m.decisions = append(m.decisions, decision)
	return nil
}

func (m *mockDecisionRepo) CreateBatch(ctx context.Context, decisions []*models.Decision) error {
	for _, d := range decisions {
		if err := m.Create(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockDecisionRepo) Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Decision, error) {
	var result []*models.Decision
	for _, d := range m.decisions {
		if d.PortfolioID == portfolioID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type mockStateCache struct {
	states      map[string][]byte
	invalidated []string
}

func newMockStateCache() *mockStateCache {
	return &mockStateCache{states: make(map[string][]byte)}
}

func (m *mockStateCache) GetState(ctx context.Context, portfolioID string, dest interface{}) (bool, error) {
	raw, ok := m.states[portfolioID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *mockStateCache) SetState(ctx context.Context, portfolioID string, state interface{}) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.states[portfolioID] = raw
	return nil
}

func (m *mockStateCache) InvalidateState(ctx context.Context, portfolioID string) error {
	delete(m.states, portfolioID)
	m.invalidated = append(m.invalidated, portfolioID)
	return nil
}

type stubPriceProvider struct {
	prices map[string]decimal.Decimal
}

func (p *stubPriceProvider) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	return p.prices, nil
}
