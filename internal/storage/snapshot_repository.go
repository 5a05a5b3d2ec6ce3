package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/portfolio-engine/internal/models"
	"github.com/portfolio-engine/internal/valuation"
)

// ErrPortfolioNotFound is returned when a write targets a portfolio row that
// does not exist.
var ErrPortfolioNotFound = errors.New("portfolio not found")

// SnapshotRepository handles portfolio snapshot persistence. Snapshots and
// their position rows are append-only.
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `
	id,
	portfolio_id,
	cash_balance::text,
	equity_value::text,
	total_value::text,
	created_at
`

// CreateAtomic stores a snapshot and its position rows in one transaction.
// The portfolio row is locked FOR UPDATE so concurrent writers for the same
// portfolio serialize, and created_at is bumped past the latest existing
// snapshot so the per-portfolio snapshot order stays strictly increasing.
func (r *SnapshotRepository) CreateAtomic(ctx context.Context, snapshot *models.PortfolioSnapshot, positions []*models.PositionSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	var portfolioID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM portfolios WHERE id = $1 FOR UPDATE`,
		snapshot.PortfolioID,
	).Scan(&portfolioID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPortfolioNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock portfolio row: %w", err)
	}

	var latest *time.Time
	err = tx.QueryRow(ctx,
		`SELECT MAX(created_at) FROM portfolio_snapshots WHERE portfolio_id = $1`,
		snapshot.PortfolioID,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("failed to read latest snapshot time: %w", err)
	}
	if latest != nil && !snapshot.CreatedAt.After(*latest) {
		snapshot.CreatedAt = latest.Add(time.Microsecond)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO portfolio_snapshots (id, portfolio_id, cash_balance, equity_value, total_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		snapshot.ID,
		snapshot.PortfolioID,
		snapshot.CashBalance.String(),
		snapshot.EquityValue.String(),
		snapshot.TotalValue.String(),
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, position := range positions {
		if position.ID == "" {
			position.ID = uuid.New().String()
		}
		position.SnapshotID = snapshot.ID

		_, err = tx.Exec(ctx,
			`INSERT INTO position_snapshots (id, snapshot_id, symbol, quantity, avg_price)
			 VALUES ($1, $2, $3, $4, $5)`,
			position.ID,
			position.SnapshotID,
			position.Symbol,
			position.Quantity.String(),
			position.AvgPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert position snapshot for %s: %w", position.Symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}

	return nil
}

// Latest retrieves the most recent snapshot for a portfolio. Returns nil when
// the portfolio has no snapshots yet.
func (r *SnapshotRepository) Latest(ctx context.Context, portfolioID string) (*models.PortfolioSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM portfolio_snapshots
		WHERE portfolio_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	snapshot, err := scanSnapshot(r.db.Pool().QueryRow(ctx, query, portfolioID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	return snapshot, nil
}

// InRange retrieves snapshots created at or after the cutoff, oldest first
func (r *SnapshotRepository) InRange(ctx context.Context, portfolioID string, from time.Time) ([]*models.PortfolioSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM portfolio_snapshots
		WHERE portfolio_id = $1
			AND created_at >= $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, portfolioID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PortfolioSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return snapshots, nil
}

// ListAll retrieves every snapshot for a portfolio, oldest first
func (r *SnapshotRepository) ListAll(ctx context.Context, portfolioID string) ([]*models.PortfolioSnapshot, error) {
	return r.InRange(ctx, portfolioID, time.Time{})
}

// Count returns the number of snapshots for a portfolio
func (r *SnapshotRepository) Count(ctx context.Context, portfolioID string) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM portfolio_snapshots WHERE portfolio_id = $1`,
		portfolioID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	return count, nil
}

// PositionsBySnapshot retrieves the position rows belonging to one snapshot
func (r *SnapshotRepository) PositionsBySnapshot(ctx context.Context, snapshotID string) ([]*models.PositionSnapshot, error) {
	query := `
		SELECT id, snapshot_id, symbol, quantity::text, avg_price::text
		FROM position_snapshots
		WHERE snapshot_id = $1
		ORDER BY symbol ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query position snapshots: %w", err)
	}
	defer rows.Close()

	var positions []*models.PositionSnapshot

	for rows.Next() {
		var position models.PositionSnapshot
		var quantity, avgPrice string

		if err := rows.Scan(
			&position.ID,
			&position.SnapshotID,
			&position.Symbol,
			&quantity,
			&avgPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position snapshot row: %w", err)
		}

		if position.Quantity, err = valuation.Parse(quantity); err != nil {
			return nil, fmt.Errorf("bad position quantity: %w", err)
		}
		if position.AvgPrice, err = valuation.Parse(avgPrice); err != nil {
			return nil, fmt.Errorf("bad position avg price: %w", err)
		}

		positions = append(positions, &position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position snapshot rows: %w", err)
	}

	return positions, nil
}

func scanSnapshot(row pgx.Row) (*models.PortfolioSnapshot, error) {
	var snapshot models.PortfolioSnapshot
	var cash, equity, total string

	err := row.Scan(
		&snapshot.ID,
		&snapshot.PortfolioID,
		&cash,
		&equity,
		&total,
		&snapshot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if snapshot.CashBalance, err = valuation.Parse(cash); err != nil {
		return nil, fmt.Errorf("bad snapshot cash balance: %w", err)
	}
	if snapshot.EquityValue, err = valuation.Parse(equity); err != nil {
		return nil, fmt.Errorf("bad snapshot equity value: %w", err)
	}
	if snapshot.TotalValue, err = valuation.Parse(total); err != nil {
		return nil, fmt.Errorf("bad snapshot total value: %w", err)
	}

	return &snapshot, nil
}
