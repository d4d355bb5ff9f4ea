package database

import (
	"context"
	"fmt"
	"time"

	"upbit-trading-bot/internal/upbit"
)

// InsertCandles upserts ingested bars, ignoring duplicates on (market, unit, kst)
func (r *Repository) InsertCandles(ctx context.Context, candles []upbit.Candle) error {
	query := `
		INSERT INTO candles (market, unit, kst, utc, open, high, low, close, volume, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market, unit, kst) DO NOTHING`

	for i := range candles {
		c := &candles[i]
		if _, err := r.db.Pool.Exec(ctx, query,
			c.Market, c.Unit, c.KST, c.UTC,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Value,
		); err != nil {
			return fmt.Errorf("failed to insert candle %s %s: %w", c.Market, c.KST, err)
		}
	}
	return nil
}

// CandleRange returns stored bars for the market/unit in [from, to],
// ascending by KST timestamp.
func (r *Repository) CandleRange(ctx context.Context, market string, unit int, from, to time.Time) ([]upbit.Candle, error) {
	query := `
		SELECT market, unit, kst, utc, open, high, low, close, volume, value
		FROM candles
		WHERE market = $1 AND unit = $2 AND kst >= $3 AND kst <= $4
		ORDER BY kst`

	rows, err := r.db.Pool.Query(ctx, query, market, unit, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	defer rows.Close()

	var out []upbit.Candle
	for rows.Next() {
		var c upbit.Candle
		if err := rows.Scan(
			&c.Market, &c.Unit, &c.KST, &c.UTC,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Value,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CandleMarkets returns the distinct markets with stored bars for the unit
func (r *Repository) CandleMarkets(ctx context.Context, unit int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT DISTINCT market FROM candles WHERE unit = $1 ORDER BY market`, unit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candle markets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
