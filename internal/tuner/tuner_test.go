package tuner

import (
	"context"
	"errors"
	"testing"
	"time"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/strategy"
)

type fakeStore struct {
	outcomes   []database.HourlyOutcome
	aggregated struct {
		from, to   time.Time
		minSamples int
	}
	upserted []*database.HourParam
	rows     map[int]*database.HourParam
	loadErr  error
	loads    int
}

func (f *fakeStore) AggregateHourlyOutcomes(ctx context.Context, from, to time.Time, minSamples int) ([]database.HourlyOutcome, error) {
	f.aggregated.from = from
	f.aggregated.to = to
	f.aggregated.minSamples = minSamples
	return f.outcomes, nil
}

func (f *fakeStore) UpsertHourParam(ctx context.Context, p *database.HourParam) error {
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakeStore) GetHourParams(ctx context.Context) (map[int]*database.HourParam, error) {
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.rows, nil
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		winRate float64
		want    band
	}{
		{0.30, band{70.0, 2.0, 5.0}},
		{0.449, band{70.0, 2.0, 5.0}},
		{0.45, band{65.0, 1.5, 4.0}}, // boundary belongs to the middle band
		{0.50, band{65.0, 1.5, 4.0}},
		{0.60, band{65.0, 1.5, 4.0}}, // boundary belongs to the middle band
		{0.601, band{60.0, 1.2, 3.5}},
		{0.80, band{60.0, 1.2, 3.5}},
	}
	for _, tt := range tests {
		if got := bandFor(tt.winRate); got != tt.want {
			t.Errorf("bandFor(%.3f) = %+v, want %+v", tt.winRate, got, tt.want)
		}
	}
}

func TestNextRun(t *testing.T) {
	runAt := 4*time.Hour + 30*time.Minute
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"before today's slot",
			time.Date(2026, 5, 10, 2, 0, 0, 0, time.Local),
			time.Date(2026, 5, 10, 4, 30, 0, 0, time.Local),
		},
		{
			"after today's slot rolls to tomorrow",
			time.Date(2026, 5, 10, 5, 0, 0, 0, time.Local),
			time.Date(2026, 5, 11, 4, 30, 0, 0, time.Local),
		},
		{
			"exactly at the slot rolls to tomorrow",
			time.Date(2026, 5, 10, 4, 30, 0, 0, time.Local),
			time.Date(2026, 5, 11, 4, 30, 0, 0, time.Local),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextRun(tt.now, runAt); !got.Equal(tt.want) {
				t.Errorf("nextRun = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunOnce(t *testing.T) {
	store := &fakeStore{
		outcomes: []database.HourlyOutcome{
			{Hour: 9, SampleCount: 30, WinRate: 0.70, AvgProfitRate: 0.012},
			{Hour: 14, SampleCount: 25, WinRate: 0.40, AvgProfitRate: -0.004},
		},
	}
	cfg := config.TunerConfig{Enabled: true, RunAt: "04:30", MinSamples: 20}
	tn := New(cfg, store, nil, nil)

	now := time.Date(2026, 5, 10, 4, 30, 0, 0, time.Local)
	if err := tn.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	wantTo := time.Date(2026, 5, 10, 0, 0, 0, 0, time.Local)
	wantFrom := wantTo.AddDate(0, 0, -1)
	if !store.aggregated.from.Equal(wantFrom) || !store.aggregated.to.Equal(wantTo) {
		t.Errorf("aggregated window %s..%s, want %s..%s",
			store.aggregated.from, store.aggregated.to, wantFrom, wantTo)
	}
	if store.aggregated.minSamples != 20 {
		t.Errorf("min samples = %d, want 20", store.aggregated.minSamples)
	}

	if len(store.upserted) != 2 {
		t.Fatalf("upserts = %d, want 2", len(store.upserted))
	}
	loose := store.upserted[0]
	if loose.Hour != 9 || loose.MinExecutionStrength != 60.0 || loose.MinZScore != 1.2 || !loose.Enabled {
		t.Errorf("winning hour row off: %+v", loose)
	}
	tight := store.upserted[1]
	if tight.Hour != 14 || tight.MinExecutionStrength != 70.0 || tight.VolumeMultiplier != 5.0 {
		t.Errorf("losing hour row off: %+v", tight)
	}
	if tight.SampleCount != 25 || tight.WinRate != 0.40 {
		t.Errorf("outcome stats not carried: %+v", tight)
	}
}

func TestRunOnceNothingSampled(t *testing.T) {
	store := &fakeStore{}
	tn := New(config.TunerConfig{Enabled: true, RunAt: "04:30", MinSamples: 20}, store, nil, nil)
	if err := tn.RunOnce(context.Background(), time.Now()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(store.upserted) != 0 {
		t.Errorf("upserts = %d, want none", len(store.upserted))
	}
}

func TestStartRejectsBadRunAt(t *testing.T) {
	tn := New(config.TunerConfig{Enabled: true, RunAt: "25:99"}, &fakeStore{}, nil, nil)
	if err := tn.Start(context.Background()); err == nil {
		t.Fatal("expected invalid run_at to fail Start")
	}
}

func TestProviderLookup(t *testing.T) {
	store := &fakeStore{
		rows: map[int]*database.HourParam{
			9:  {Hour: 9, MinExecutionStrength: 60.0, MinZScore: 1.2, VolumeMultiplier: 3.5, Enabled: true},
			14: {Hour: 14, MinExecutionStrength: 70.0, Enabled: false},
		},
	}
	p := NewProvider(store, nil)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got := p.Lookup(9)
	if got.MinExecStrength != 60.0 || got.MinZScore != 1.2 || got.VolumeMultiplier != 3.5 {
		t.Errorf("tuned hour = %+v", got)
	}

	// Disabled and missing hours both fall back to the defaults
	if got := p.Lookup(14); got != strategy.DefaultImpulseParams() {
		t.Errorf("disabled hour = %+v, want defaults", got)
	}
	if got := p.Lookup(3); got != strategy.DefaultImpulseParams() {
		t.Errorf("missing hour = %+v, want defaults", got)
	}

	// Fresh cache answers without another load
	loads := store.loads
	p.Lookup(9)
	if store.loads != loads {
		t.Errorf("loads = %d, want cache hit", store.loads)
	}
}

func TestProviderSurvivesLoadFailure(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("db down")}
	p := NewProvider(store, nil)

	// Stale cache plus failing store still answers with defaults
	if got := p.Lookup(9); got != strategy.DefaultImpulseParams() {
		t.Errorf("lookup under failure = %+v, want defaults", got)
	}
	if store.loads == 0 {
		t.Error("expected a refresh attempt")
	}
}
