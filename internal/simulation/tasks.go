package simulation

import (
	"context"

	"upbit-trading-bot/internal/backtest"
)

// Task type tags
const (
	TypeMultiBacktest = "MULTI_BACKTEST"
)

// BacktestParams identifies one multi-market backtest submission. Equal
// values dedup to the same task.
type BacktestParams struct {
	Markets []string `json:"markets"`
	Unit    int      `json:"unit"`
	From    string   `json:"from"` // YYYYMMDD
	To      string   `json:"to"`   // YYYYMMDD
}

// BacktestTask wraps a multi-market replay as a TaskFunc. Progress advances
// per finished market; cancellation stops markets not yet started.
func BacktestTask(multi *backtest.MultiRunner, markets []backtest.MarketBars) TaskFunc {
	return func(ctx context.Context, report func(done, total int)) (interface{}, error) {
		summary, err := multi.Run(ctx, markets, report)
		if err != nil {
			return nil, err
		}
		return summary, nil
	}
}
