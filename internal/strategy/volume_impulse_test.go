package strategy

import (
	"testing"
	"time"

	"upbit-trading-bot/internal/upbit"
)

// impulseWindow builds a newest-first window from oldest-first closes and
// volumes, stamping every bar with the given KST hour.
func impulseWindow(closes, volumes []float64, hour int) []upbit.Candle {
	n := len(closes)
	out := make([]upbit.Candle, n)
	day := time.Date(2026, 4, 1, hour, 0, 0, 0, time.Local)
	for i := 0; i < n; i++ {
		c := closes[i]
		out[n-1-i] = upbit.Candle{
			KST:   day.Add(time.Duration(i-n) * 5 * time.Minute),
			Open:  c * 0.995, // up bars, full weight in execution strength
			High:  c * 1.005,
			Low:   c * 0.99,
			Close: c,
			Volume: volumes[i],
		}
	}
	// Newest bar keeps the hour the lookup should see
	out[0].KST = day
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func surgeWindow(hour int) []upbit.Candle {
	closes := make([]float64, 31)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.1
	}
	volumes := repeat(10, 31)
	volumes[30] = 100 // the surge bar
	return impulseWindow(closes, volumes, hour)
}

func TestVolumeImpulseEntry(t *testing.T) {
	s := NewVolumeImpulse(DefaultVolumeImpulseConfig(), nil)
	scratch := &Scratch{}

	sig, err := s.AnalyzeForBacktest("KRW-BTC", surgeWindow(9), nil, scratch)
	if err != nil {
		t.Fatalf("AnalyzeForBacktest: %v", err)
	}
	if sig.Action != ActionBuy {
		t.Fatalf("action = %s, want BUY on a volume surge", sig.Action)
	}
	if sig.EntryPrice == nil || sig.TargetPrice == nil || sig.StopLossPrice == nil {
		t.Fatal("buy signal missing advisory prices")
	}
	entry := *sig.EntryPrice
	if *sig.TargetPrice != entry*1.05 || *sig.StopLossPrice != entry*0.97 {
		t.Errorf("target/stop = %f/%f for entry %f", *sig.TargetPrice, *sig.StopLossPrice, entry)
	}
	if scratch.ZScore < 1.5 || scratch.ExecutionStrength < 65 {
		t.Errorf("scratch metrics z=%f strength=%f below thresholds", scratch.ZScore, scratch.ExecutionStrength)
	}
}

func TestVolumeImpulseHoldsWithoutSurge(t *testing.T) {
	s := NewVolumeImpulse(DefaultVolumeImpulseConfig(), nil)
	closes := make([]float64, 31)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.1
	}
	window := impulseWindow(closes, repeat(10, 31), 9)

	sig, err := s.AnalyzeForBacktest("KRW-BTC", window, nil, &Scratch{})
	if err != nil {
		t.Fatalf("AnalyzeForBacktest: %v", err)
	}
	if sig.Action != ActionHold {
		t.Errorf("action = %s, want HOLD on flat volume", sig.Action)
	}
}

func TestVolumeImpulseHourParams(t *testing.T) {
	// The tuned row for hour 9 demands an impossible z-score; hour 10 has no
	// row and falls back to the defaults
	params := StaticHourParams{
		9: {MinExecStrength: 65, MinZScore: 99, VolumeMultiplier: 4, Enabled: true},
	}
	s := NewVolumeImpulse(DefaultVolumeImpulseConfig(), params)

	sig, err := s.AnalyzeForBacktest("KRW-BTC", surgeWindow(9), nil, &Scratch{})
	if err != nil {
		t.Fatalf("AnalyzeForBacktest: %v", err)
	}
	if sig.Action != ActionHold {
		t.Errorf("tuned hour 9 = %s, want HOLD under the strict row", sig.Action)
	}

	sig, err = s.AnalyzeForBacktest("KRW-BTC", surgeWindow(10), nil, &Scratch{})
	if err != nil {
		t.Fatalf("AnalyzeForBacktest: %v", err)
	}
	if sig.Action != ActionBuy {
		t.Errorf("untuned hour 10 = %s, want BUY under defaults", sig.Action)
	}
}

func TestVolumeImpulseDisabledRowFallsBack(t *testing.T) {
	params := StaticHourParams{
		9: {MinExecStrength: 99, MinZScore: 99, VolumeMultiplier: 99, Enabled: false},
	}
	if got := params.Lookup(9); got != DefaultImpulseParams() {
		t.Errorf("disabled row = %+v, want defaults", got)
	}
	if got := params.Lookup(3); got != DefaultImpulseParams() {
		t.Errorf("missing row = %+v, want defaults", got)
	}
}

func TestVolumeImpulseExits(t *testing.T) {
	s := NewVolumeImpulse(DefaultVolumeImpulseConfig(), nil)

	// Alternating closes keep RSI near 50 so only the staged trigger fires
	alternating := make([]float64, 31)
	for i := range alternating {
		if i%2 == 0 {
			alternating[i] = 100
		} else {
			alternating[i] = 101
		}
	}
	alternating[30] = 100 // newest close

	rising := make([]float64, 31)
	for i := range rising {
		rising[i] = 80 + float64(i)*0.7
	}

	tests := []struct {
		name    string
		closes  []float64
		volumes []float64
		pos     *PositionView
		want    ExitReason
	}{
		{
			"fixed stop",
			alternating, repeat(10, 31),
			&PositionView{AvgEntryPrice: 104, Quantity: 1, HighestPrice: 104, BarsHeld: 3},
			ExitStopLossFixed,
		},
		{
			"take profit",
			alternating, repeat(10, 31),
			&PositionView{AvgEntryPrice: 95, Quantity: 1, HighestPrice: 101, BarsHeld: 3},
			ExitTakeProfit,
		},
		{
			"overheated",
			rising, repeat(10, 31),
			&PositionView{AvgEntryPrice: 99, Quantity: 1, HighestPrice: 101.5, BarsHeld: 3},
			ExitOverheated,
		},
		{
			"fake rebound",
			alternating, repeat(10, 31),
			&PositionView{AvgEntryPrice: 101.5, Quantity: 1, HighestPrice: 104, BarsHeld: 3},
			ExitFakeRebound,
		},
		{
			"volume drop underwater",
			alternating, append(repeat(10, 30), 5),
			&PositionView{AvgEntryPrice: 100.8, Quantity: 1, HighestPrice: 100.8, BarsHeld: 3},
			ExitVolumeDrop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := &Scratch{}
			sig, err := s.AnalyzeForBacktest("KRW-BTC", impulseWindow(tt.closes, tt.volumes, 9), tt.pos, scratch)
			if err != nil {
				t.Fatalf("AnalyzeForBacktest: %v", err)
			}
			if sig.Action != ActionSell {
				t.Fatalf("action = %s, want SELL", sig.Action)
			}
			if scratch.ExitReason != tt.want {
				t.Errorf("exit reason = %s, want %s", scratch.ExitReason, tt.want)
			}
		})
	}
}

func TestVolumeImpulseShortWindowHolds(t *testing.T) {
	s := NewVolumeImpulse(DefaultVolumeImpulseConfig(), nil)
	window := impulseWindow(repeat(100, 10), repeat(10, 10), 9)
	sig, err := s.AnalyzeForBacktest("KRW-BTC", window, nil, &Scratch{})
	if err != nil {
		t.Fatalf("AnalyzeForBacktest: %v", err)
	}
	if sig.Action != ActionHold {
		t.Errorf("action = %s, want HOLD below the minimum window", sig.Action)
	}
}
