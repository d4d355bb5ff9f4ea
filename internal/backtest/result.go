// Package backtest replays strategy logic over historical candles. The
// per-market runner is deterministic and single-threaded; multi-market runs
// fan out over the shared worker pool.
package backtest

import (
	"time"

	"upbit-trading-bot/internal/strategy"
)

// Trade is one simulated execution
type Trade struct {
	Market     string                `json:"market"`
	Side       string                `json:"side"` // BUY or SELL
	Time       time.Time             `json:"time"` // Bar KST timestamp
	Price      float64               `json:"price"`
	Volume     float64               `json:"volume"`
	Fee        float64               `json:"fee"`
	KrwBalance float64               `json:"krw_balance"`
	ProfitRate float64               `json:"profit_rate"` // Sells only
	ExitReason strategy.ExitReason   `json:"exit_reason,omitempty"`
}

// Result is the outcome of one per-market replay
type Result struct {
	Market         string    `json:"market"`
	Bars           int       `json:"bars"`
	StartTime      time.Time `json:"start_time"` // First evaluated bar
	EndTime        time.Time `json:"end_time"`

	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"` // Final total asset

	TotalProfitRate float64 `json:"total_profit_rate"`
	MaxProfitRate   float64 `json:"max_profit_rate"`
	MaxDrawdown     float64 `json:"max_drawdown"` // Peak-to-trough, 0..1
	BuyHoldRate     float64 `json:"buy_hold_rate"`

	BuyCount  int     `json:"buy_count"`
	SellCount int     `json:"sell_count"`
	WinCount  int     `json:"win_count"`
	LoseCount int     `json:"lose_count"`
	WinRate   float64 `json:"win_rate"`

	Trades      []Trade                     `json:"trades"`
	ExitReasons map[strategy.ExitReason]int `json:"exit_reasons"`
}

// Summary aggregates a multi-market run
type Summary struct {
	Results []*Result         `json:"results"`
	Failed  map[string]string `json:"failed,omitempty"` // market -> error

	Best    *Result `json:"best"`
	Worst   *Result `json:"worst"`
	Average float64 `json:"average"` // Mean total profit rate
}
