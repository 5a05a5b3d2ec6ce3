package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/types"
	"github.com/portfolio-engine/internal/valuation"
)

// DecisionRepository handles decision record persistence
type DecisionRepository struct {
	db *PostgresDB
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *PostgresDB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Create stores one model decision
func (r *DecisionRepository) Create(ctx context.Context, decision *models.Decision) error {
	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO decisions (id, portfolio_id, symbol, action, quantity, confidence, reasoning, raw_model_output, model_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		decision.ID,
		decision.PortfolioID,
		decision.Symbol,
		string(decision.Action),
		decision.Quantity.String(),
		decision.Confidence.String(),
		decision.Reasoning,
		decision.RawModelOutput,
		decision.ModelUsed,
		decision.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

// CreateBatch stores all decisions from one engine cycle
func (r *DecisionRepository) CreateBatch(ctx context.Context, decisions []*models.Decision) error {
	for _, decision := range decisions {
		if err := r.Create(ctx, decision); err != nil {
			return err
		}
	}
	return nil
}

// Recent retrieves the most recent decisions for a portfolio, newest first
func (r *DecisionRepository) Recent(ctx context.Context, portfolioID string, limit int) ([]*models.Decision, error) {
	query := `
		SELECT id, portfolio_id, symbol, action, quantity::text, confidence::text, reasoning, raw_model_output, model_used, created_at
		FROM decisions
		WHERE portfolio_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision

	for rows.Next() {
		var decision models.Decision
		var action, quantity, confidence string

		err := rows.Scan(
			&decision.ID,
			&decision.PortfolioID,
			&decision.Symbol,
			&action,
			&quantity,
			&confidence,
			&decision.Reasoning,
			&decision.RawModelOutput,
			&decision.ModelUsed,
			&decision.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}

		decision.Action = types.Action(action)
		if decision.Quantity, err = valuation.Parse(quantity); err != nil {
			return nil, fmt.Errorf("bad decision quantity: %w", err)
		}
		if decision.Confidence, err = valuation.Parse(confidence); err != nil {
			return nil, fmt.Errorf("bad decision confidence: %w", err)
		}

		decisions = append(decisions, &decision)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision rows: %w", err)
	}

	return decisions, nil
}
