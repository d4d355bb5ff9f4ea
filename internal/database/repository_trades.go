package database

import (
	"context"
	"fmt"
	"time"
)

// InsertTradeRecord appends one execution row
func (r *Repository) InsertTradeRecord(ctx context.Context, rec *TradeRecord) error {
	query := `
		INSERT INTO trade_records (
			user_id, market, side, price, volume, fee, krw_balance, coin_balance,
			total_asset, profit_rate, strategy_name, exit_reason, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.UserID, rec.Market, rec.Side, rec.Price, rec.Volume, rec.Fee,
		rec.KrwBalance, rec.CoinBalance, rec.TotalAsset, rec.ProfitRate,
		rec.StrategyName, rec.ExitReason, rec.ExecutedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade record: %w", err)
	}
	return nil
}

// ListTradeRecords returns the user's most recent executions, newest first
func (r *Repository) ListTradeRecords(ctx context.Context, userID int64, limit int) ([]*TradeRecord, error) {
	query := `
		SELECT id, user_id, market, side, price, volume, fee, krw_balance,
			coin_balance, total_asset, profit_rate, strategy_name, exit_reason,
			executed_at, created_at
		FROM trade_records
		WHERE user_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trade records: %w", err)
	}
	defer rows.Close()

	var out []*TradeRecord
	for rows.Next() {
		var rec TradeRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Market, &rec.Side, &rec.Price, &rec.Volume,
			&rec.Fee, &rec.KrwBalance, &rec.CoinBalance, &rec.TotalAsset,
			&rec.ProfitRate, &rec.StrategyName, &rec.ExitReason,
			&rec.ExecutedAt, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// InsertTradeStat appends one closed-trade outcome row
func (r *Repository) InsertTradeStat(ctx context.Context, stat *TradeStat) error {
	query := `
		INSERT INTO trade_stats (
			user_id, market, entry_time, exit_time, entry_price, exit_price,
			profit_rate, entry_z_score, entry_exec_strength, entry_hour,
			success, exit_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		stat.UserID, stat.Market, stat.EntryTime, stat.ExitTime,
		stat.EntryPrice, stat.ExitPrice, stat.ProfitRate,
		stat.EntryZScore, stat.EntryExecStrength, stat.EntryHour,
		stat.Success, stat.ExitReason,
	).Scan(&stat.ID, &stat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade stat: %w", err)
	}
	return nil
}

// AggregateHourlyOutcomes buckets TradeStats by entry hour over [from, to)
// and returns only buckets meeting the sample floor.
func (r *Repository) AggregateHourlyOutcomes(ctx context.Context, from, to time.Time, minSamples int) ([]HourlyOutcome, error) {
	query := `
		SELECT entry_hour,
			COUNT(*) AS sample_count,
			AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END) AS win_rate,
			AVG(profit_rate) AS avg_profit_rate
		FROM trade_stats
		WHERE exit_time >= $1 AND exit_time < $2
		GROUP BY entry_hour
		HAVING COUNT(*) >= $3
		ORDER BY entry_hour`

	rows, err := r.db.Pool.Query(ctx, query, from, to, minSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate hourly outcomes: %w", err)
	}
	defer rows.Close()

	var out []HourlyOutcome
	for rows.Next() {
		var h HourlyOutcome
		if err := rows.Scan(&h.Hour, &h.SampleCount, &h.WinRate, &h.AvgProfitRate); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetHourParams loads every hour row keyed by hour
func (r *Repository) GetHourParams(ctx context.Context) (map[int]*HourParam, error) {
	query := `
		SELECT hour, min_execution_strength, min_z_score, volume_multiplier,
			sample_count, win_rate, avg_profit_rate, enabled, updated_at
		FROM hour_params`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load hour params: %w", err)
	}
	defer rows.Close()

	out := make(map[int]*HourParam)
	for rows.Next() {
		var p HourParam
		if err := rows.Scan(
			&p.Hour, &p.MinExecutionStrength, &p.MinZScore, &p.VolumeMultiplier,
			&p.SampleCount, &p.WinRate, &p.AvgProfitRate, &p.Enabled, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out[p.Hour] = &p
	}
	return out, rows.Err()
}

// UpsertHourParam writes the tuning row for one hour
func (r *Repository) UpsertHourParam(ctx context.Context, p *HourParam) error {
	query := `
		INSERT INTO hour_params (
			hour, min_execution_strength, min_z_score, volume_multiplier,
			sample_count, win_rate, avg_profit_rate, enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (hour) DO UPDATE SET
			min_execution_strength = EXCLUDED.min_execution_strength,
			min_z_score = EXCLUDED.min_z_score,
			volume_multiplier = EXCLUDED.volume_multiplier,
			sample_count = EXCLUDED.sample_count,
			win_rate = EXCLUDED.win_rate,
			avg_profit_rate = EXCLUDED.avg_profit_rate,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()`

	_, err := r.db.Pool.Exec(ctx, query,
		p.Hour, p.MinExecutionStrength, p.MinZScore, p.VolumeMultiplier,
		p.SampleCount, p.WinRate, p.AvgProfitRate, p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert hour param %d: %w", p.Hour, err)
	}
	return nil
}
