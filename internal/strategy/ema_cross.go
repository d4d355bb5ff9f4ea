package strategy

import (
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/upbit"
)

// EMACrossConfig tunes the trend-following crossover
type EMACrossConfig struct {
	FastPeriod     int
	SlowPeriod     int
	TakeProfitRate float64
	StopLossRate   float64 // Negative
}

func DefaultEMACrossConfig() EMACrossConfig {
	return EMACrossConfig{
		FastPeriod:     10,
		SlowPeriod:     30,
		TakeProfitRate: 0.05,
		StopLossRate:   -0.03,
	}
}

// EMACross buys a fresh fast-over-slow crossover and exits when the trend
// flips back, the target hits, or the stop hits.
type EMACross struct {
	baseStrategy
	config EMACrossConfig
}

func NewEMACross(config EMACrossConfig) *EMACross {
	return &EMACross{
		baseStrategy: newBaseStrategy(),
		config:       config,
	}
}

func (s *EMACross) Name() string { return "EMA_CROSS" }

func (s *EMACross) MinWindow() int {
	// One extra bar so the previous-bar EMAs are computable
	return s.config.SlowPeriod + 2
}

func (s *EMACross) Analyze(market string, window []upbit.Candle) (Signal, error) {
	return analyzeLive(&s.baseStrategy, s.MinWindow(), s.evaluate, market, window)
}

func (s *EMACross) AnalyzeForBacktest(market string, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	return analyzeBacktest(s.MinWindow(), s.evaluate, window, pos, scratch)
}

func (s *EMACross) evaluate(chron []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	last := chron[len(chron)-1]
	prior := chron[:len(chron)-1]

	fast, err := indicator.EMA(chron, s.config.FastPeriod)
	if err != nil {
		return Hold(), err
	}
	slow, err := indicator.EMA(chron, s.config.SlowPeriod)
	if err != nil {
		return Hold(), err
	}
	prevFast, err := indicator.EMA(prior, s.config.FastPeriod)
	if err != nil {
		return Hold(), err
	}
	prevSlow, err := indicator.EMA(prior, s.config.SlowPeriod)
	if err != nil {
		return Hold(), err
	}

	if pos.Holding() {
		profit := profitRate(pos, last.Close)
		if profit >= s.config.TakeProfitRate {
			return emitSell(scratch, ExitTakeProfit), nil
		}
		if profit <= s.config.StopLossRate {
			return emitSell(scratch, ExitStopLossFixed), nil
		}
		if fast < slow && prevFast >= prevSlow {
			return emitSell(scratch, ExitSignalInvalid), nil
		}
		return Hold(), nil
	}

	if fast > slow && prevFast <= prevSlow {
		entry := last.Close
		return Buy(entry, entry*(1+s.config.TakeProfitRate), entry*(1+s.config.StopLossRate)), nil
	}
	return Hold(), nil
}
