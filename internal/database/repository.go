package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"upbit-trading-bot/internal/position"
)

// Repository provides raw SQL access over the pool. It satisfies the
// persistence interfaces of the position tracker, the risk manager, the
// tuner, and the simulation supervisor.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the database
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const positionColumns = `id, user_id, market, status, entry_phase, avg_entry_price,
	total_invested, quantity, last_buy_price, stop_loss_price, highest_price,
	trailing_stop_price, strategy_name, phase1_at, phase2_at, phase3_at,
	realized_pnl, unrealized_pnl, final_exit_time, exit_reason,
	entry_z_score, entry_exec_strength, created_at, updated_at`

func scanPosition(row pgx.Row) (*position.Position, error) {
	var p position.Position
	err := row.Scan(
		&p.ID, &p.UserID, &p.Market, &p.Status, &p.EntryPhase, &p.AvgEntryPrice,
		&p.TotalInvested, &p.Quantity, &p.LastBuyPrice, &p.StopLossPrice, &p.HighestPrice,
		&p.TrailingStopPrice, &p.StrategyName, &p.Phase1At, &p.Phase2At, &p.Phase3At,
		&p.RealizedPnl, &p.UnrealizedPnl, &p.FinalExitTime, &p.ExitReason,
		&p.EntryZScore, &p.EntryExecStrength, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePosition inserts a new position row and fills in its id
func (r *Repository) CreatePosition(ctx context.Context, p *position.Position) error {
	query := `
		INSERT INTO positions (
			user_id, market, status, entry_phase, avg_entry_price, total_invested,
			quantity, last_buy_price, stop_loss_price, highest_price,
			trailing_stop_price, strategy_name, entry_z_score, entry_exec_strength,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	err := r.db.Pool.QueryRow(ctx, query,
		p.UserID, p.Market, p.Status, p.EntryPhase, p.AvgEntryPrice, p.TotalInvested,
		p.Quantity, p.LastBuyPrice, p.StopLossPrice, p.HighestPrice,
		p.TrailingStopPrice, p.StrategyName, p.EntryZScore, p.EntryExecStrength,
		p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// UpdatePosition writes every mutable field of the row
func (r *Repository) UpdatePosition(ctx context.Context, p *position.Position) error {
	query := `
		UPDATE positions SET
			status = $2, entry_phase = $3, avg_entry_price = $4, total_invested = $5,
			quantity = $6, last_buy_price = $7, stop_loss_price = $8, highest_price = $9,
			trailing_stop_price = $10, strategy_name = $11,
			phase1_at = $12, phase2_at = $13, phase3_at = $14,
			realized_pnl = $15, unrealized_pnl = $16, final_exit_time = $17,
			exit_reason = $18, entry_z_score = $19, entry_exec_strength = $20,
			updated_at = $21
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.Status, p.EntryPhase, p.AvgEntryPrice, p.TotalInvested,
		p.Quantity, p.LastBuyPrice, p.StopLossPrice, p.HighestPrice,
		p.TrailingStopPrice, p.StrategyName,
		p.Phase1At, p.Phase2At, p.Phase3At,
		p.RealizedPnl, p.UnrealizedPnl, p.FinalExitTime,
		p.ExitReason, p.EntryZScore, p.EntryExecStrength,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d not found", p.ID)
	}
	return nil
}

// FindActivePosition returns the open position for the pair, nil when none
func (r *Repository) FindActivePosition(ctx context.Context, userID int64, market string) (*position.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE user_id = $1 AND market = $2 AND status NOT IN ('CLOSED', 'FAILED')
		LIMIT 1`

	p, err := scanPosition(r.db.Pool.QueryRow(ctx, query, userID, market))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active position: %w", err)
	}
	return p, nil
}

// HasActivePosition reports whether the pair has an open position
func (r *Repository) HasActivePosition(ctx context.Context, userID int64, market string) (bool, error) {
	p, err := r.FindActivePosition(ctx, userID, market)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// CountActivePositions counts the user's open positions
func (r *Repository) CountActivePositions(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM positions
		WHERE user_id = $1 AND status NOT IN ('CLOSED', 'FAILED')`
	if err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active positions: %w", err)
	}
	return count, nil
}

// FindStalePositions returns open positions created before the cutoff
func (r *Repository) FindStalePositions(ctx context.Context, olderThan time.Time) ([]*position.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status NOT IN ('CLOSED', 'FAILED') AND created_at < $1
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale positions: %w", err)
	}
	defer rows.Close()

	var out []*position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TodayRealizedLoss sums today's negative realized PnL for the user. The day
// boundary is local time of the supplied clock.
func (r *Repository) TodayRealizedLoss(ctx context.Context, userID int64, now time.Time) (float64, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var loss float64
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM positions
		WHERE user_id = $1 AND status = 'CLOSED'
		AND realized_pnl < 0
		AND final_exit_time >= $2 AND final_exit_time < $3`
	err := r.db.Pool.QueryRow(ctx, query, userID, dayStart, dayStart.AddDate(0, 0, 1)).Scan(&loss)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily loss: %w", err)
	}
	return loss, nil
}

// ConsecutiveLosses counts the losing streak over the user's most recent
// CLOSED positions, newest first, stopping at the first win.
func (r *Repository) ConsecutiveLosses(ctx context.Context, userID int64) (int, error) {
	query := `SELECT realized_pnl FROM positions
		WHERE user_id = $1 AND status = 'CLOSED'
		ORDER BY final_exit_time DESC
		LIMIT 20`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to scan closed positions: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, err
		}
		if pnl >= 0 {
			break
		}
		streak++
	}
	return streak, rows.Err()
}
