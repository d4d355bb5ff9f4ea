package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"upbit-trading-bot/config"
)

type fakeCounters struct {
	activeCount int
	hasActive   bool
	todayLoss   float64
	losses      int
}

func (f *fakeCounters) CountActivePositions(ctx context.Context, userID int64) (int, error) {
	return f.activeCount, nil
}

func (f *fakeCounters) HasActivePosition(ctx context.Context, userID int64, market string) (bool, error) {
	return f.hasActive, nil
}

func (f *fakeCounters) TodayRealizedLoss(ctx context.Context, userID int64, now time.Time) (float64, error) {
	return f.todayLoss, nil
}

func (f *fakeCounters) ConsecutiveLosses(ctx context.Context, userID int64) (int, error) {
	return f.losses, nil
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxConcurrentPositions: 3,
		MaxPositionSizeRate:    0.3,
		MaxDailyLossRate:       0.05,
		MaxConsecutiveLosses:   3,
		CooldownMinutes:        60,
		StopLossAtrMultiplier:  1.5,
		StopLossMinRate:        0.01,
		StopLossMaxRate:        0.05,
		TrailingAtrMultiplier:  2.0,
		EntryRatio:             [3]float64{0.5, 0.3, 0.2},
	}
}

func baseRequest() CheckRequest {
	return CheckRequest{
		UserID:   1,
		Market:   "KRW-BTC",
		Balance:  1_000_000,
		Notional: 100_000,
		Now:      time.Now(),
	}
}

func TestCheckPipelineOrder(t *testing.T) {
	tests := []struct {
		name     string
		counters fakeCounters
		mutate   func(*CheckRequest)
		wantCode string
	}{
		{"all clear", fakeCounters{}, nil, ""},
		{"position cap", fakeCounters{activeCount: 3}, nil, CodeMaxPositions},
		{"duplicate pair", fakeCounters{hasActive: true}, nil, CodeDuplicatePosition},
		{
			"oversized notional",
			fakeCounters{},
			func(r *CheckRequest) { r.Notional = 400_000 },
			CodePositionSize,
		},
		{"daily loss cap", fakeCounters{todayLoss: -50_000}, nil, CodeDailyLoss},
		{"loss streak", fakeCounters{losses: 3}, nil, CodeConsecutiveLosses},
		{
			"cap beats duplicate when both violated",
			fakeCounters{activeCount: 3, hasActive: true},
			nil,
			CodeMaxPositions,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters := tt.counters
			m := NewManager(testRiskConfig(), &counters, NewCooldownRegistry(nil), nil)
			req := baseRequest()
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			decision, err := m.Check(context.Background(), req)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if tt.wantCode == "" {
				if !decision.Allowed {
					t.Errorf("denied with %s: %s", decision.Code, decision.Reason)
				}
				return
			}
			if decision.Allowed || decision.Code != tt.wantCode {
				t.Errorf("decision = %+v, want deny %s", decision, tt.wantCode)
			}
		})
	}
}

func TestConsecutiveLossesArmCooldown(t *testing.T) {
	counters := &fakeCounters{losses: 3}
	cooldowns := NewCooldownRegistry(nil)
	m := NewManager(testRiskConfig(), counters, cooldowns, nil)
	ctx := context.Background()

	decision, err := m.Check(ctx, baseRequest())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Code != CodeConsecutiveLosses {
		t.Fatalf("first denial = %s, want CONSECUTIVE_LOSSES", decision.Code)
	}

	// The armed cooldown now answers before the streak gate does
	decision, err = m.Check(ctx, baseRequest())
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if decision.Code != CodeCooldown {
		t.Errorf("second denial = %s, want COOLDOWN", decision.Code)
	}

	cooldowns.Clear(ctx, 1)
	counters.losses = 0
	decision, err = m.Check(ctx, baseRequest())
	if err != nil {
		t.Fatalf("third Check: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected allow after clear, got %+v", decision)
	}
}

func TestStopLossPriceClamps(t *testing.T) {
	m := NewManager(testRiskConfig(), &fakeCounters{}, NewCooldownRegistry(nil), nil)
	entry := 100_000.0

	tests := []struct {
		name string
		atr  float64
		want float64
	}{
		{"atr inside band", 2_000, entry - 1.5*2_000},
		{"tiny atr floors at min rate", 100, entry - 0.01*entry},
		{"huge atr caps at max rate", 10_000, entry - 0.05*entry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.StopLossPrice(entry, tt.atr); got != tt.want {
				t.Errorf("StopLossPrice = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestTrailingStopPrice(t *testing.T) {
	m := NewManager(testRiskConfig(), &fakeCounters{}, NewCooldownRegistry(nil), nil)
	highest := 100_000.0

	// ATR distance wider than the rate distance
	if got, want := m.TrailingStopPrice(highest, 2_000, 0.02), highest-4_000; got != want {
		t.Errorf("TrailingStopPrice = %f, want %f", got, want)
	}
	// Rate distance wider
	if got, want := m.TrailingStopPrice(highest, 500, 0.03), highest-3_000; got != want {
		t.Errorf("TrailingStopPrice = %f, want %f", got, want)
	}
}

func TestPositionSize(t *testing.T) {
	m := NewManager(testRiskConfig(), &fakeCounters{}, NewCooldownRegistry(nil), nil)
	balance := 1_000_000.0

	tests := []struct {
		phase int
		want  float64
	}{
		{1, balance * 0.3 * 0.5},
		{2, balance * 0.3 * 0.3},
		{3, balance * 0.3 * 0.2},
		{0, 0},
		{4, 0},
	}
	for _, tt := range tests {
		if got := m.PositionSize(balance, tt.phase); got != tt.want {
			t.Errorf("PositionSize(phase %d) = %f, want %f", tt.phase, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("composite weights", func(t *testing.T) {
		counters := &fakeCounters{activeCount: 3, todayLoss: -25_000, losses: 0}
		m := NewManager(testRiskConfig(), counters, NewCooldownRegistry(nil), nil)
		// Positions full (1.0), loss at half cap (0.5), streak empty (0)
		score, err := m.Score(ctx, 1, 1_000_000, now)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		want := 100 * (0.3*1.0 + 0.4*0.5 + 0.3*0)
		if math.Abs(score-want) > 1e-9 {
			t.Errorf("score = %f, want %f", score, want)
		}
		if Blocked(score) {
			t.Errorf("score %f should not block", score)
		}
	})

	t.Run("cooldown forces 100", func(t *testing.T) {
		cooldowns := NewCooldownRegistry(nil)
		if err := cooldowns.Activate(ctx, 1, time.Hour); err != nil {
			t.Fatalf("Activate: %v", err)
		}
		m := NewManager(testRiskConfig(), &fakeCounters{}, cooldowns, nil)
		score, err := m.Score(ctx, 1, 1_000_000, now)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if score != 100 || !Blocked(score) {
			t.Errorf("score = %f, want blocking 100", score)
		}
	})

	t.Run("utilization clamps at one", func(t *testing.T) {
		counters := &fakeCounters{activeCount: 10, todayLoss: -500_000, losses: 10}
		m := NewManager(testRiskConfig(), counters, NewCooldownRegistry(nil), nil)
		score, err := m.Score(ctx, 1, 1_000_000, now)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if score != 100 {
			t.Errorf("score = %f, want clamped 100", score)
		}
	})
}

func TestCooldownRegistryInMemory(t *testing.T) {
	ctx := context.Background()
	r := NewCooldownRegistry(nil)

	if _, active := r.Until(ctx, 1); active {
		t.Fatal("fresh registry reports an active cooldown")
	}
	if err := r.Activate(ctx, 1, time.Hour); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	until, active := r.Until(ctx, 1)
	if !active {
		t.Fatal("cooldown not active after Activate")
	}
	if remaining := time.Until(until); remaining < 59*time.Minute || remaining > time.Hour {
		t.Errorf("expiry %s off from one hour", remaining)
	}

	// Other users untouched
	if _, active := r.Until(ctx, 2); active {
		t.Error("cooldown leaked across users")
	}

	r.Clear(ctx, 1)
	if _, active := r.Until(ctx, 1); active {
		t.Error("cooldown survives Clear")
	}
}

func TestCooldownExpiry(t *testing.T) {
	ctx := context.Background()
	r := NewCooldownRegistry(nil)
	if err := r.Activate(ctx, 1, time.Millisecond); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, active := r.Until(ctx, 1); active {
		t.Error("expired cooldown still active")
	}
}
