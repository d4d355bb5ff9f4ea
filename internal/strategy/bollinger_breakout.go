package strategy

import (
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/upbit"
)

// BollingerBreakoutConfig tunes the band breakout strategy
type BollingerBreakoutConfig struct {
	Period         int     // Band lookback
	BandK          float64 // Standard deviations
	VolumeSpike    float64 // Current volume vs mean multiple required on entry
	TakeProfitRate float64
	StopLossRate   float64 // Negative
}

// DefaultBollingerBreakoutConfig returns the stock parameters
func DefaultBollingerBreakoutConfig() BollingerBreakoutConfig {
	return BollingerBreakoutConfig{
		Period:         20,
		BandK:          2.0,
		VolumeSpike:    1.5,
		TakeProfitRate: 0.05,
		StopLossRate:   -0.03,
	}
}

// BollingerBreakout buys a close above the upper band confirmed by a volume
// spike and exits on target, stop, or a close back under the middle band.
type BollingerBreakout struct {
	baseStrategy
	config BollingerBreakoutConfig
}

func NewBollingerBreakout(config BollingerBreakoutConfig) *BollingerBreakout {
	return &BollingerBreakout{
		baseStrategy: newBaseStrategy(),
		config:       config,
	}
}

func (s *BollingerBreakout) Name() string { return "BOLLINGER_BREAKOUT" }

func (s *BollingerBreakout) MinWindow() int { return 30 }

func (s *BollingerBreakout) Analyze(market string, window []upbit.Candle) (Signal, error) {
	return analyzeLive(&s.baseStrategy, s.MinWindow(), s.evaluate, market, window)
}

func (s *BollingerBreakout) AnalyzeForBacktest(market string, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	return analyzeBacktest(s.MinWindow(), s.evaluate, window, pos, scratch)
}

func (s *BollingerBreakout) evaluate(chron []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	last := chron[len(chron)-1]
	prior := chron[:len(chron)-1]

	if pos.Holding() {
		profit := profitRate(pos, last.Close)
		if profit >= s.config.TakeProfitRate {
			return emitSell(scratch, ExitTakeProfit), nil
		}
		if profit <= s.config.StopLossRate {
			return emitSell(scratch, ExitStopLossFixed), nil
		}
		bands, err := indicator.Bollinger(prior, s.config.Period, s.config.BandK)
		if err != nil {
			return Hold(), err
		}
		// Breakout thesis is gone once price closes back under the midline
		if last.Close < bands.Middle {
			return emitSell(scratch, ExitSignalInvalid), nil
		}
		return Hold(), nil
	}

	bands, err := indicator.Bollinger(prior, s.config.Period, s.config.BandK)
	if err != nil {
		return Hold(), err
	}
	volMean, err := indicator.VolumeMean(prior, s.config.Period)
	if err != nil {
		return Hold(), err
	}

	if last.Close > bands.Upper && volMean > 0 && last.Volume >= s.config.VolumeSpike*volMean {
		entry := last.Close
		return Buy(entry, entry*(1+s.config.TakeProfitRate), entry*(1+s.config.StopLossRate)), nil
	}
	return Hold(), nil
}
