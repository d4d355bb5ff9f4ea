package database

import (
	"encoding/json"
	"time"
)

// TradeRecord is the append-only log of one execution
type TradeRecord struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Market       string    `json:"market"`
	Side         string    `json:"side"` // bid or ask
	Price        float64   `json:"price"`
	Volume       float64   `json:"volume"`
	Fee          float64   `json:"fee"`
	KrwBalance   float64   `json:"krw_balance"`
	CoinBalance  float64   `json:"coin_balance"`
	TotalAsset   float64   `json:"total_asset"`
	ProfitRate   float64   `json:"profit_rate"`
	StrategyName string    `json:"strategy_name"`
	ExitReason   string    `json:"exit_reason"`
	ExecutedAt   time.Time `json:"executed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TradeStat is the per-trade outcome row written when a position closes.
// The tuner aggregates these by entry hour.
type TradeStat struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Market            string    `json:"market"`
	EntryTime         time.Time `json:"entry_time"`
	ExitTime          time.Time `json:"exit_time"`
	EntryPrice        float64   `json:"entry_price"`
	ExitPrice         float64   `json:"exit_price"`
	ProfitRate        float64   `json:"profit_rate"`
	EntryZScore       float64   `json:"entry_z_score"`
	EntryExecStrength float64   `json:"entry_exec_strength"`
	EntryHour         int       `json:"entry_hour"` // 0-23 local
	Success           bool      `json:"success"`
	ExitReason        string    `json:"exit_reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// HourParam is the per-hour tuning row for parameterized strategies
type HourParam struct {
	Hour                 int       `json:"hour"`
	MinExecutionStrength float64   `json:"min_execution_strength"`
	MinZScore            float64   `json:"min_z_score"`
	VolumeMultiplier     float64   `json:"volume_multiplier"`
	SampleCount          int       `json:"sample_count"`
	WinRate              float64   `json:"win_rate"`
	AvgProfitRate        float64   `json:"avg_profit_rate"`
	Enabled              bool      `json:"enabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// HourlyOutcome is one aggregation bucket over TradeStats
type HourlyOutcome struct {
	Hour          int     `json:"hour"`
	SampleCount   int     `json:"sample_count"`
	WinRate       float64 `json:"win_rate"`
	AvgProfitRate float64 `json:"avg_profit_rate"`
}

// Simulation task statuses
const (
	TaskPending   = "PENDING"
	TaskRunning   = "RUNNING"
	TaskCompleted = "COMPLETED"
	TaskFailed    = "FAILED"
	TaskCancelled = "CANCELLED"
)

// SimulationTask is the durable record of one long-running backtest job
type SimulationTask struct {
	ID              string          `json:"id"` // UUID
	TaskType        string          `json:"task_type"`
	Status          string          `json:"status"`
	ParamHash       string          `json:"param_hash"` // sha256 of canonical params JSON
	Params          json.RawMessage `json:"params"`
	Progress        int             `json:"progress"`
	Total           int             `json:"total"`
	Result          json.RawMessage `json:"result"`
	ErrorText       string          `json:"error_text"`
	CancelRequested bool            `json:"cancel_requested"`
	InstanceID      string          `json:"instance_id"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Terminal reports whether the task is in a final status
func (t *SimulationTask) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskCancelled
}
