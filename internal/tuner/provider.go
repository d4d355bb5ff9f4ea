package tuner

import (
	"context"
	"sync"
	"time"

	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/strategy"
)

// ParamSource loads the persisted hour rows
type ParamSource interface {
	GetHourParams(ctx context.Context) (map[int]*database.HourParam, error)
}

// refreshInterval bounds how stale the cached rows can get between the
// tuner's daily rewrites.
const refreshInterval = 10 * time.Minute

// Provider is the database-backed hour parameter lookup the impulse strategy
// reads at decision time. Rows are cached and refreshed lazily; missing or
// disabled hours fall back to the defaults.
type Provider struct {
	source ParamSource
	logger *logging.Logger

	mu        sync.RWMutex
	rows      map[int]*database.HourParam
	fetchedAt time.Time
}

var _ strategy.HourParamProvider = (*Provider)(nil)

// NewProvider creates a provider over the store
func NewProvider(source ParamSource, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.WithComponent("tuner")
	}
	return &Provider{source: source, logger: logger}
}

// Lookup resolves the thresholds for an hour of day (0-23)
func (p *Provider) Lookup(hour int) strategy.ImpulseParams {
	p.mu.RLock()
	stale := time.Since(p.fetchedAt) > refreshInterval
	row, ok := p.rows[hour]
	p.mu.RUnlock()

	if stale {
		if err := p.Refresh(context.Background()); err != nil {
			p.logger.Warn("hour param refresh failed, using cached rows", "error", err)
		} else {
			p.mu.RLock()
			row, ok = p.rows[hour]
			p.mu.RUnlock()
		}
	}

	if !ok || !row.Enabled {
		return strategy.DefaultImpulseParams()
	}
	return strategy.ImpulseParams{
		MinExecStrength:  row.MinExecutionStrength,
		MinZScore:        row.MinZScore,
		VolumeMultiplier: row.VolumeMultiplier,
		Enabled:          true,
	}
}

// Refresh reloads the cached rows from the store
func (p *Provider) Refresh(ctx context.Context) error {
	rows, err := p.source.GetHourParams(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.rows = rows
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	return nil
}
