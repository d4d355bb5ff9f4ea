// Package tuner rewrites the per-hour impulse thresholds once a day from the
// previous day's trade outcomes.
package tuner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/events"
	"upbit-trading-bot/internal/logging"
)

// Store is the persistence surface the tuner writes through
type Store interface {
	AggregateHourlyOutcomes(ctx context.Context, from, to time.Time, minSamples int) ([]database.HourlyOutcome, error)
	UpsertHourParam(ctx context.Context, p *database.HourParam) error
}

// band is one row of the win-rate threshold table
type band struct {
	minExecStrength  float64
	minZScore        float64
	volumeMultiplier float64
}

// bandFor maps a win rate to its threshold band: tighten under 0.45, loosen
// over 0.60, defaults in between.
func bandFor(winRate float64) band {
	switch {
	case winRate < 0.45:
		return band{minExecStrength: 70.0, minZScore: 2.0, volumeMultiplier: 5.0}
	case winRate > 0.60:
		return band{minExecStrength: 60.0, minZScore: 1.2, volumeMultiplier: 3.5}
	default:
		return band{minExecStrength: 65.0, minZScore: 1.5, volumeMultiplier: 4.0}
	}
}

// Tuner runs the daily parameter rewrite
type Tuner struct {
	config config.TunerConfig
	store  Store
	bus    *events.EventBus
	logger *logging.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a tuner; bus may be nil
func New(cfg config.TunerConfig, store Store, bus *events.EventBus, logger *logging.Logger) *Tuner {
	if logger == nil {
		logger = logging.WithComponent("tuner")
	}
	return &Tuner{
		config:   cfg,
		store:    store,
		bus:      bus,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the daily schedule. The first run fires at the next
// occurrence of the configured wall-clock time.
func (t *Tuner) Start(ctx context.Context) error {
	if !t.config.Enabled {
		t.logger.Info("tuner disabled")
		return nil
	}
	runAt, err := config.ParseRunAt(t.config.RunAt)
	if err != nil {
		return fmt.Errorf("parse tuner run_at: %w", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			wait := time.Until(nextRun(time.Now(), runAt))
			t.logger.Info("tuner scheduled", "next_run_in", wait.Round(time.Second).String())
			select {
			case <-time.After(wait):
				if err := t.RunOnce(ctx, time.Now()); err != nil {
					t.logger.Error("tuner run failed", "error", err)
				}
			case <-t.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts the schedule and waits for an in-flight run
func (t *Tuner) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()
}

// nextRun returns the next occurrence of the wall-clock offset after now
func nextRun(now time.Time, runAt time.Duration) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := day.Add(runAt)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce aggregates yesterday's outcomes relative to now and rewrites the
// hour rows that meet the sample floor. Under-sampled hours are untouched.
func (t *Tuner) RunOnce(ctx context.Context, now time.Time) error {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	from := dayStart.AddDate(0, 0, -1)

	outcomes, err := t.store.AggregateHourlyOutcomes(ctx, from, dayStart, t.config.MinSamples)
	if err != nil {
		return fmt.Errorf("aggregate hourly outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		t.logger.Info("no hour met the sample floor, nothing tuned",
			"min_samples", t.config.MinSamples, "window_start", from.Format(time.RFC3339))
		return nil
	}

	for _, outcome := range outcomes {
		b := bandFor(outcome.WinRate)
		row := &database.HourParam{
			Hour:                 outcome.Hour,
			MinExecutionStrength: b.minExecStrength,
			MinZScore:            b.minZScore,
			VolumeMultiplier:     b.volumeMultiplier,
			SampleCount:          outcome.SampleCount,
			WinRate:              outcome.WinRate,
			AvgProfitRate:        outcome.AvgProfitRate,
			Enabled:              true,
		}
		if err := t.store.UpsertHourParam(ctx, row); err != nil {
			return fmt.Errorf("upsert hour %d: %w", outcome.Hour, err)
		}
		t.logger.Info("hour params tuned",
			"hour", outcome.Hour, "win_rate", outcome.WinRate,
			"samples", outcome.SampleCount,
			"min_exec_strength", b.minExecStrength, "min_z_score", b.minZScore)
		if t.bus != nil {
			t.bus.PublishTunerApplied(outcome.Hour, outcome.WinRate, outcome.SampleCount)
		}
	}
	return nil
}
