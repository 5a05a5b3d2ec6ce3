package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
)

// TradeRepository handles trade data persistence. Trades are append-only;
// there are no update or delete operations.
type TradeRepository struct {
	db *PostgresDB
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *PostgresDB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `
	id,
	portfolio_id,
	symbol,
	side,
	quantity::text,
	price::text,
	total_value::text,
	executed_at,
	decision_id
`

// Create stores a single executed trade
func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO trades (id, portfolio_id, symbol, side, quantity, price, total_value, executed_at, decision_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		trade.ID,
		trade.PortfolioID,
		trade.Symbol,
		string(trade.Side),
		trade.Quantity.String(),
		trade.Price.String(),
		trade.TotalValue.String(),
		trade.ExecutedAt,
		trade.DecisionID,
	)

	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	return nil
}

// ListByPortfolio retrieves the full trade history for a portfolio in
// execution order
func (r *TradeRepository) ListByPortfolio(ctx context.Context, portfolioID string) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE portfolio_id = $1
		ORDER BY executed_at ASC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListAfter retrieves trades executed strictly after the given time, in
// execution order. Used for incremental replay on top of a snapshot.
func (r *TradeRepository) ListAfter(ctx context.Context, portfolioID string, after time.Time) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE portfolio_id = $1
			AND executed_at > $2
		ORDER BY executed_at ASC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades after %s: %w", after.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// Recent retrieves the most recent trades for a portfolio, newest first
func (r *TradeRepository) Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE portfolio_id = $1
		ORDER BY executed_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]*models.Trade, error) {
	var trades []*models.Trade

	for rows.Next() {
		var trade models.Trade
		var side, quantity, price, totalValue string

		err := rows.Scan(
			&trade.ID,
			&trade.PortfolioID,
			&trade.Symbol,
			&side,
			&quantity,
			&price,
			&totalValue,
			&trade.ExecutedAt,
			&trade.DecisionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}

		trade.Side = types.Side(side)
		if trade.Quantity, err = valuation.Parse(quantity); err != nil {
			return nil, fmt.Errorf("bad trade quantity: %w", err)
		}
		if trade.Price, err = valuation.Parse(price); err != nil {
			return nil, fmt.Errorf("bad trade price: %w", err)
		}
		if trade.TotalValue, err = valuation.Parse(totalValue); err != nil {
			return nil, fmt.Errorf("bad trade total value: %w", err)
		}

		trades = append(trades, &trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}

	return trades, nil
}
