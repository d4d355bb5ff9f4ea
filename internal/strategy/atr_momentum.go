package strategy

import (
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/upbit"
)

// ATRMomentumConfig tunes the volatility-breakout strategy
type ATRMomentumConfig struct {
	ATRPeriod        int
	EntryMultiplier  float64 // Bar must advance this many ATRs over the previous close
	StopMultiplier   float64 // ATR stop distance below entry
	TrailingRate     float64 // Trailing distance from the highest close
	TrailingArmRate  float64 // Profit rate that arms the trailing exit
}

func DefaultATRMomentumConfig() ATRMomentumConfig {
	return ATRMomentumConfig{
		ATRPeriod:       14,
		EntryMultiplier: 1.0,
		StopMultiplier:  1.5,
		TrailingRate:    0.02,
		TrailingArmRate: 0.02,
	}
}

// ATRMomentum buys a single-bar advance exceeding one ATR and rides it with
// a trailing exit over an ATR stop.
type ATRMomentum struct {
	baseStrategy
	config ATRMomentumConfig
}

func NewATRMomentum(config ATRMomentumConfig) *ATRMomentum {
	return &ATRMomentum{
		baseStrategy: newBaseStrategy(),
		config:       config,
	}
}

func (s *ATRMomentum) Name() string { return "ATR_MOMENTUM" }

func (s *ATRMomentum) MinWindow() int { return 30 }

func (s *ATRMomentum) Analyze(market string, window []upbit.Candle) (Signal, error) {
	return analyzeLive(&s.baseStrategy, s.MinWindow(), s.evaluate, market, window)
}

func (s *ATRMomentum) AnalyzeForBacktest(market string, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	return analyzeBacktest(s.MinWindow(), s.evaluate, window, pos, scratch)
}

func (s *ATRMomentum) evaluate(chron []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	last := chron[len(chron)-1]
	prev := chron[len(chron)-2]

	atr, err := indicator.ATR(chron, s.config.ATRPeriod)
	if err != nil {
		return Hold(), err
	}

	if pos.Holding() {
		if last.Close <= pos.AvgEntryPrice-s.config.StopMultiplier*atr {
			return emitSell(scratch, ExitStopLossATR), nil
		}
		armed := pos.HighestPrice >= pos.AvgEntryPrice*(1+s.config.TrailingArmRate)
		if armed && last.Close <= pos.HighestPrice*(1-s.config.TrailingRate) {
			return emitSell(scratch, ExitTrailingStop), nil
		}
		return Hold(), nil
	}

	if atr > 0 && last.Close >= prev.Close+s.config.EntryMultiplier*atr {
		entry := last.Close
		return Buy(entry, entry*(1+2*s.config.TrailingRate), entry-s.config.StopMultiplier*atr), nil
	}
	return Hold(), nil
}
