package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/portfolio-engine/internal/models"
)

// PortfolioRepository handles portfolio data persistence
type PortfolioRepository struct {
	db *PostgresDB
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *PostgresDB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Create creates a new portfolio
func (r *PortfolioRepository) Create(ctx context.Context, portfolio *models.Portfolio) error {
	if portfolio.ID == "" {
		portfolio.ID = uuid.New().String()
	}
	if portfolio.CreatedAt.IsZero() {
		portfolio.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO portfolios (id, name, strategy_name, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		portfolio.ID,
		portfolio.Name,
		portfolio.StrategyName,
		portfolio.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}

	return nil
}

// GetByID retrieves a portfolio by ID. Returns nil when no row exists.
func (r *PortfolioRepository) GetByID(ctx context.Context, id string) (*models.Portfolio, error) {
	query := `
		SELECT id, name, strategy_name, created_at
		FROM portfolios
		WHERE id = $1
	`

	var portfolio models.Portfolio
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&portfolio.ID,
		&portfolio.Name,
		&portfolio.StrategyName,
		&portfolio.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	return &portfolio, nil
}

// GetByName retrieves a portfolio by its unique name. Returns nil when no row
// exists; the seeder uses this to stay idempotent.
func (r *PortfolioRepository) GetByName(ctx context.Context, name string) (*models.Portfolio, error) {
	query := `
		SELECT id, name, strategy_name, created_at
		FROM portfolios
		WHERE name = $1
	`

	var portfolio models.Portfolio
	err := r.db.Pool().QueryRow(ctx, query, name).Scan(
		&portfolio.ID,
		&portfolio.Name,
		&portfolio.StrategyName,
		&portfolio.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio by name: %w", err)
	}

	return &portfolio, nil
}

// List retrieves all portfolios ordered by creation time
func (r *PortfolioRepository) List(ctx context.Context) ([]*models.Portfolio, error) {
	query := `
		SELECT id, name, strategy_name, created_at
		FROM portfolios
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []*models.Portfolio
	for rows.Next() {
		var portfolio models.Portfolio
		if err := rows.Scan(
			&portfolio.ID,
			&portfolio.Name,
			&portfolio.StrategyName,
			&portfolio.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio row: %w", err)
		}
		portfolios = append(portfolios, &portfolio)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio rows: %w", err)
	}

	return portfolios, nil
}
