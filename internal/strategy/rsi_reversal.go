package strategy

import (
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/upbit"
)

// RSIReversalConfig tunes the oversold-reversal strategy
type RSIReversalConfig struct {
	Period        int     // RSI lookback
	OversoldLevel float64 // Buy below this, with a turning-up close
	OverheatLevel float64 // Sell above this
	ATRPeriod     int
	ATRMultiplier float64 // Stop distance in ATRs below entry
	MaxHoldBars   int     // TIMEOUT after this many bars in position
}

func DefaultRSIReversalConfig() RSIReversalConfig {
	return RSIReversalConfig{
		Period:        14,
		OversoldLevel: 30,
		OverheatLevel: 70,
		ATRPeriod:     14,
		ATRMultiplier: 1.5,
		MaxHoldBars:   72,
	}
}

// RSIReversal buys an oversold bounce and exits overheated, stopped out on
// an ATR stop, or timed out.
type RSIReversal struct {
	baseStrategy
	config RSIReversalConfig
}

func NewRSIReversal(config RSIReversalConfig) *RSIReversal {
	return &RSIReversal{
		baseStrategy: newBaseStrategy(),
		config:       config,
	}
}

func (s *RSIReversal) Name() string { return "RSI_REVERSAL" }

func (s *RSIReversal) MinWindow() int { return 30 }

func (s *RSIReversal) Analyze(market string, window []upbit.Candle) (Signal, error) {
	return analyzeLive(&s.baseStrategy, s.MinWindow(), s.evaluate, market, window)
}

func (s *RSIReversal) AnalyzeForBacktest(market string, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	return analyzeBacktest(s.MinWindow(), s.evaluate, window, pos, scratch)
}

func (s *RSIReversal) evaluate(chron []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	last := chron[len(chron)-1]
	prev := chron[len(chron)-2]

	rsi, err := indicator.RSI(chron, s.config.Period)
	if err != nil {
		return Hold(), err
	}
	atr, err := indicator.ATR(chron, s.config.ATRPeriod)
	if err != nil {
		return Hold(), err
	}

	if pos.Holding() {
		if pos.BarsHeld >= s.config.MaxHoldBars {
			return emitSell(scratch, ExitTimeout), nil
		}
		if rsi >= s.config.OverheatLevel {
			return emitSell(scratch, ExitOverheated), nil
		}
		if last.Close <= pos.AvgEntryPrice-s.config.ATRMultiplier*atr {
			return emitSell(scratch, ExitStopLossATR), nil
		}
		return Hold(), nil
	}

	if rsi <= s.config.OversoldLevel && last.Close > prev.Close {
		entry := last.Close
		stop := entry - s.config.ATRMultiplier*atr
		// Target at the symmetric reversal distance
		return Buy(entry, entry+s.config.ATRMultiplier*atr*2, stop), nil
	}
	return Hold(), nil
}
