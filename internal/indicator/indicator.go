// Package indicator provides the pure numerical routines strategies build on.
// All functions take candles in chronological order (oldest first) and return
// an error when the input is shorter than the requested period.
package indicator

import (
	"errors"
	"math"

	"upbit-trading-bot/internal/upbit"
)

// ErrInsufficientData is returned when a window is shorter than the period
var ErrInsufficientData = errors.New("indicator: insufficient data for period")

// SMA returns the arithmetic mean of the last period closes
func SMA(candles []upbit.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average with smoothing 2/(period+1),
// seeded from the SMA of the first period closes.
func EMA(candles []upbit.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period {
		return 0, ErrInsufficientData
	}
	seed, err := SMA(candles[:period], period)
	if err != nil {
		return 0, err
	}
	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI returns the Wilder relative strength index over the last period price
// changes, in [0, 100]. Zero average loss yields 100.
func RSI(candles []upbit.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	var avgGain, avgLoss float64
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// ATR returns the Wilder average true range over the last period bars, where
// true range is max(h-l, |h-prevClose|, |l-prevClose|). Needs period+1 bars
// for the leading previous close.
func ATR(candles []upbit.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period+1 {
		return 0, ErrInsufficientData
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := math.Max(candles[i].High-candles[i].Low,
			math.Max(math.Abs(candles[i].High-prevClose), math.Abs(candles[i].Low-prevClose)))
		sum += tr
	}
	return sum / float64(period), nil
}

// Bands holds Bollinger band levels
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger returns middle=SMA and upper/lower at k population standard
// deviations over the last period closes.
func Bollinger(candles []upbit.Candle, period int, k float64) (Bands, error) {
	middle, err := SMA(candles, period)
	if err != nil {
		return Bands{}, err
	}
	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	sigma := math.Sqrt(variance / float64(period))
	return Bands{
		Upper:  middle + k*sigma,
		Middle: middle,
		Lower:  middle - k*sigma,
	}, nil
}

// ZScore returns (current-mean)/sigma for the last element over the trailing
// period samples. Zero variance yields 0.
func ZScore(samples []float64, period int) (float64, error) {
	if period <= 0 || len(samples) < period {
		return 0, ErrInsufficientData
	}
	window := samples[len(samples)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	sigma := math.Sqrt(variance / float64(period))
	if sigma == 0 {
		return 0, nil
	}
	return (window[len(window)-1] - mean) / sigma, nil
}

// Volumes extracts candle volumes in the same order as the input
func Volumes(candles []upbit.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// VolumeMean returns the average volume of the last period bars
func VolumeMean(candles []upbit.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period), nil
}

// ExecutionStrength approximates the buy-side share of traded volume over the
// last period bars, in percent. Volume on up-closing bars counts as buy
// pressure; a flat bar splits evenly.
func ExecutionStrength(candles []upbit.Candle, period int) (float64, error) {
	if period <= 0 || len(candles) < period {
		return 0, ErrInsufficientData
	}
	var buyVolume, totalVolume float64
	for i := len(candles) - period; i < len(candles); i++ {
		c := candles[i]
		totalVolume += c.Volume
		switch {
		case c.Close > c.Open:
			buyVolume += c.Volume
		case c.Close == c.Open:
			buyVolume += c.Volume / 2
		}
	}
	if totalVolume == 0 {
		return 0, nil
	}
	return buyVolume / totalVolume * 100, nil
}
