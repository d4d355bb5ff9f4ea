package logging

import (
	"context"
	"time"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context carrying the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TickContext creates a logger for one live trading tick
func TickContext(userID int64, market string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"user_id": userID,
		"market":  market,
	}).WithComponent("trader")
}

// SignalContext creates a logger for signal evaluation
func SignalContext(market, strategy string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"market":   market,
		"strategy": strategy,
	}).WithComponent("signal")
}

// RiskContext creates a logger for risk decisions
func RiskContext(userID int64, market string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"user_id": userID,
		"market":  market,
	}).WithComponent("risk")
}

// BacktestContext creates a logger for one backtest run
func BacktestContext(market string, from, to time.Time) *Logger {
	return Default().WithFields(map[string]interface{}{
		"market": market,
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	}).WithComponent("backtest")
}

// TunerContext creates a logger for parameter tuning runs
func TunerContext(day time.Time) *Logger {
	return Default().WithField("day", day.Format("2006-01-02")).WithComponent("tuner")
}

// TaskContext creates a logger for simulation tasks
func TaskContext(taskID, taskType string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"task_id":   taskID,
		"task_type": taskType,
	}).WithComponent("simulation")
}
