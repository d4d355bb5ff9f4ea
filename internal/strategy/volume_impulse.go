package strategy

import (
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/upbit"
)

// ImpulseParams are the per-hour tunable thresholds for the impulse entry.
// The tuner rewrites the persisted rows; strategies see them through
// HourParamProvider.
type ImpulseParams struct {
	MinExecStrength  float64
	MinZScore        float64
	VolumeMultiplier float64
	Enabled          bool
}

// DefaultImpulseParams returns the untuned thresholds used when an hour has
// no row or its row is disabled.
func DefaultImpulseParams() ImpulseParams {
	return ImpulseParams{
		MinExecStrength:  65.0,
		MinZScore:        1.5,
		VolumeMultiplier: 4.0,
		Enabled:          true,
	}
}

// HourParamProvider resolves impulse thresholds for an hour of day (0-23).
// Implementations fall back to DefaultImpulseParams on missing or disabled
// rows.
type HourParamProvider interface {
	Lookup(hour int) ImpulseParams
}

// StaticHourParams is a fixed in-memory provider, used by backtests so the
// pure path never touches persistence.
type StaticHourParams map[int]ImpulseParams

func (p StaticHourParams) Lookup(hour int) ImpulseParams {
	if params, ok := p[hour]; ok && params.Enabled {
		return params
	}
	return DefaultImpulseParams()
}

// VolumeImpulseConfig tunes the non-hour-dependent parts of the strategy
type VolumeImpulseConfig struct {
	VolumePeriod   int     // Z-score and mean lookback
	StrengthPeriod int     // Execution strength lookback
	TakeProfitRate float64
	StopLossRate   float64 // Negative
	OverheatRSI    float64 // RSI above this exits OVERHEATED
	ReboundMargin  float64 // Highest must exceed entry by this before FAKE_REBOUND applies
}

func DefaultVolumeImpulseConfig() VolumeImpulseConfig {
	return VolumeImpulseConfig{
		VolumePeriod:   20,
		StrengthPeriod: 10,
		TakeProfitRate: 0.05,
		StopLossRate:   -0.03,
		OverheatRSI:    80,
		ReboundMargin:  0.01,
	}
}

// VolumeImpulse buys sudden volume surges (z-score plus execution strength)
// using the per-hour tuned thresholds, and exits on fading volume, failed
// rebounds, overheating, target or stop.
type VolumeImpulse struct {
	baseStrategy
	config VolumeImpulseConfig
	params HourParamProvider
}

func NewVolumeImpulse(config VolumeImpulseConfig, params HourParamProvider) *VolumeImpulse {
	if params == nil {
		params = StaticHourParams{}
	}
	return &VolumeImpulse{
		baseStrategy: newBaseStrategy(),
		config:       config,
		params:       params,
	}
}

func (s *VolumeImpulse) Name() string { return "VOLUME_IMPULSE" }

func (s *VolumeImpulse) MinWindow() int { return 30 }

func (s *VolumeImpulse) Analyze(market string, window []upbit.Candle) (Signal, error) {
	return analyzeLive(&s.baseStrategy, s.MinWindow(), s.evaluate, market, window)
}

func (s *VolumeImpulse) AnalyzeForBacktest(market string, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	return analyzeBacktest(s.MinWindow(), s.evaluate, window, pos, scratch)
}

func (s *VolumeImpulse) evaluate(chron []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	last := chron[len(chron)-1]

	zScore, err := indicator.ZScore(indicator.Volumes(chron), s.config.VolumePeriod)
	if err != nil {
		return Hold(), err
	}
	strength, err := indicator.ExecutionStrength(chron, s.config.StrengthPeriod)
	if err != nil {
		return Hold(), err
	}
	if scratch != nil {
		scratch.ZScore = zScore
		scratch.ExecutionStrength = strength
	}

	if pos.Holding() {
		profit := profitRate(pos, last.Close)
		if profit <= s.config.StopLossRate {
			return emitSell(scratch, ExitStopLossFixed), nil
		}
		if profit >= s.config.TakeProfitRate {
			return emitSell(scratch, ExitTakeProfit), nil
		}
		rsi, err := indicator.RSI(chron, 14)
		if err == nil && rsi >= s.config.OverheatRSI {
			return emitSell(scratch, ExitOverheated), nil
		}
		// Price poked above entry and collapsed back under it
		if pos.HighestPrice >= pos.AvgEntryPrice*(1+s.config.ReboundMargin) && last.Close < pos.AvgEntryPrice {
			return emitSell(scratch, ExitFakeRebound), nil
		}
		// The impulse is spent once volume momentum turns negative underwater
		if zScore < 0 && profit < 0 {
			return emitSell(scratch, ExitVolumeDrop), nil
		}
		return Hold(), nil
	}

	// Entry thresholds come from the tuned row for the bar's KST hour
	params := s.params.Lookup(last.KST.Hour())
	volMean, err := indicator.VolumeMean(chron[:len(chron)-1], s.config.VolumePeriod)
	if err != nil {
		return Hold(), err
	}

	if zScore >= params.MinZScore &&
		strength >= params.MinExecStrength &&
		volMean > 0 && last.Volume >= params.VolumeMultiplier*volMean {
		entry := last.Close
		return Buy(entry, entry*(1+s.config.TakeProfitRate), entry*(1+s.config.StopLossRate)), nil
	}
	return Hold(), nil
}
