// Package database owns the PostgreSQL pool, schema migrations, and the raw
// SQL repositories behind positions, trade history, hour parameters,
// simulation tasks, and stored candles.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.WithComponent("database")
	logger.Info("connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes schema migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("running database migrations")

	migrations := []string{
		// Positions: one row per (user, market) position lifecycle
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			market VARCHAR(20) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			entry_phase INT NOT NULL DEFAULT 0,
			avg_entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_invested DOUBLE PRECISION NOT NULL DEFAULT 0,
			quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_buy_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			stop_loss_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			highest_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			trailing_stop_price DOUBLE PRECISION,
			strategy_name VARCHAR(50) NOT NULL DEFAULT '',
			phase1_at TIMESTAMPTZ,
			phase2_at TIMESTAMPTZ,
			phase3_at TIMESTAMPTZ,
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			final_exit_time TIMESTAMPTZ,
			exit_reason VARCHAR(30) NOT NULL DEFAULT '',
			entry_z_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_exec_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_market ON positions(user_id, market)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
		// At most one open position per (user, market)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_pair
			ON positions(user_id, market) WHERE status NOT IN ('CLOSED', 'FAILED')`,
		`CREATE INDEX IF NOT EXISTS idx_positions_exit_time ON positions(final_exit_time DESC)`,

		// Trade records: append-only execution log
		`CREATE TABLE IF NOT EXISTS trade_records (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			market VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			krw_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			coin_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_asset DOUBLE PRECISION NOT NULL DEFAULT 0,
			profit_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			strategy_name VARCHAR(50) NOT NULL DEFAULT '',
			exit_reason VARCHAR(30) NOT NULL DEFAULT '',
			executed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_user ON trade_records(user_id, executed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_market ON trade_records(market)`,

		// Trade stats: one row per closed position, feeds the tuner
		`CREATE TABLE IF NOT EXISTS trade_stats (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			market VARCHAR(20) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			profit_rate DOUBLE PRECISION NOT NULL,
			entry_z_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_exec_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_hour INT NOT NULL,
			success BOOLEAN NOT NULL,
			exit_reason VARCHAR(30) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_stats_exit_time ON trade_stats(exit_time)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_stats_entry_hour ON trade_stats(entry_hour)`,

		// Hour params: per-hour tuning rows the impulse strategy reads
		`CREATE TABLE IF NOT EXISTS hour_params (
			hour INT PRIMARY KEY CHECK (hour >= 0 AND hour <= 23),
			min_execution_strength DOUBLE PRECISION NOT NULL,
			min_z_score DOUBLE PRECISION NOT NULL,
			volume_multiplier DOUBLE PRECISION NOT NULL,
			sample_count INT NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_profit_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Simulation tasks: long-running backtest jobs
		`CREATE TABLE IF NOT EXISTS simulation_tasks (
			id UUID PRIMARY KEY,
			task_type VARCHAR(30) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			param_hash VARCHAR(64) NOT NULL,
			params JSONB NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			total INT NOT NULL DEFAULT 0,
			result JSONB,
			error_text TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			instance_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_simulation_tasks_hash ON simulation_tasks(param_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_simulation_tasks_status ON simulation_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_simulation_tasks_instance ON simulation_tasks(instance_id)`,

		// Candles: ingested minute bars, read-only to the engine
		`CREATE TABLE IF NOT EXISTS candles (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			unit INT NOT NULL,
			kst TIMESTAMPTZ NOT NULL,
			utc TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			value DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_candles_bar ON candles(market, unit, kst)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("database migrations completed")
	return nil
}
