package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/internal/strategy"
)

// Repository is the persistence surface the tracker needs
type Repository interface {
	CreatePosition(ctx context.Context, p *Position) error
	UpdatePosition(ctx context.Context, p *Position) error
	FindActivePosition(ctx context.Context, userID int64, market string) (*Position, error)
	CountActivePositions(ctx context.Context, userID int64) (int, error)
	FindStalePositions(ctx context.Context, olderThan time.Time) ([]*Position, error)
}

// Tracker serializes every state-machine step per (user, market) and
// persists transitions as they happen. All mutation of position rows goes
// through here.
type Tracker struct {
	repo   Repository
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker over the given repository
func NewTracker(repo Repository, logger zerolog.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock returns the per-(user, market) mutex, creating it on first use
func (t *Tracker) lock(userID int64, market string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, market)
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// WithLock runs fn while holding the pair's state-step mutex
func (t *Tracker) WithLock(userID int64, market string, fn func() error) error {
	l := t.lock(userID, market)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// persist writes an update, retrying the write once on conflict before
// giving up (read-modify-write collisions are rare but possible across
// instances).
func (t *Tracker) persist(ctx context.Context, p *Position) error {
	p.UpdatedAt = time.Now()
	if err := t.repo.UpdatePosition(ctx, p); err != nil {
		t.logger.Warn().Err(err).Int64("user_id", p.UserID).Str("market", p.Market).
			Msg("position update failed, retrying once")
		if err := t.repo.UpdatePosition(ctx, p); err != nil {
			return fmt.Errorf("persist position %d: %w", p.ID, err)
		}
	}
	return nil
}

// Transition moves the position along a lifecycle edge and persists it
func (t *Tracker) Transition(ctx context.Context, p *Position, to string) error {
	if p.Status == StatusClosed {
		return ErrClosedImmutable
	}
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	from := p.Status
	p.Status = to
	if err := t.persist(ctx, p); err != nil {
		p.Status = from
		return err
	}
	t.logger.Info().Int64("user_id", p.UserID).Str("market", p.Market).
		Str("from", from).Str("to", to).Msg("position transition")
	return nil
}

// OpenPending creates the PENDING row for an approved buy. The caller must
// have verified no open position exists for the pair.
func (t *Tracker) OpenPending(ctx context.Context, userID int64, market, strategyName string) (*Position, error) {
	now := time.Now()
	p := &Position{
		UserID:       userID,
		Market:       market,
		Status:       StatusPending,
		StrategyName: strategyName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := t.repo.CreatePosition(ctx, p); err != nil {
		return nil, fmt.Errorf("create position: %w", err)
	}
	return p, nil
}

// ApplyEntryFill folds one entry fill into the position: average entry,
// invested total, quantity, phase stamp, and the move to ACTIVE.
func (t *Tracker) ApplyEntryFill(ctx context.Context, p *Position, price, volume, invested, stopLoss float64) error {
	if p.Status != StatusEntering {
		return fmt.Errorf("%w: entry fill in %s", ErrInvalidTransition, p.Status)
	}
	if volume <= 0 || price <= 0 {
		p.Status = StatusFailed
		_ = t.persist(ctx, p)
		return fmt.Errorf("%w: non-positive fill volume=%f price=%f", ErrInvariant, volume, price)
	}

	newQuantity := p.Quantity + volume
	p.AvgEntryPrice = (p.AvgEntryPrice*p.Quantity + price*volume) / newQuantity
	p.Quantity = newQuantity
	p.TotalInvested += invested
	p.LastBuyPrice = price
	p.EntryPhase++
	if p.HighestPrice < price {
		p.HighestPrice = price
	}
	if stopLoss > 0 {
		p.StopLossPrice = stopLoss
	}

	now := time.Now()
	switch p.EntryPhase {
	case 1:
		p.Phase1At = &now
	case 2:
		p.Phase2At = &now
	default:
		p.Phase3At = &now
	}

	if err := p.CheckInvariants(); err != nil {
		p.Status = StatusFailed
		_ = t.persist(ctx, p)
		return err
	}

	p.Status = StatusActive
	return t.persist(ctx, p)
}

// UpdateTracking refreshes the highest-price tracker and, when supplied, the
// trailing stop. The trailing stop only ever ratchets upward.
func (t *Tracker) UpdateTracking(ctx context.Context, p *Position, price float64, trailing *float64) error {
	if p.Status != StatusActive {
		return nil
	}
	changed := false
	if price > p.HighestPrice {
		p.HighestPrice = price
		changed = true
	}
	if trailing != nil {
		stop := *trailing
		if stop < p.StopLossPrice {
			stop = p.StopLossPrice
		}
		if p.TrailingStopPrice == nil || stop > *p.TrailingStopPrice {
			p.TrailingStopPrice = &stop
			changed = true
		}
	}
	p.UnrealizedPnl = (price - p.AvgEntryPrice) * p.Quantity
	if !changed {
		return nil
	}
	return t.persist(ctx, p)
}

// ApplyExitFill finalizes the position: CLOSED, realized PnL from the net
// proceeds, exit stamp and reason. lastBuyPrice dies with the position.
func (t *Tracker) ApplyExitFill(ctx context.Context, p *Position, netProceeds float64, reason strategy.ExitReason) error {
	if p.Status != StatusExiting {
		return fmt.Errorf("%w: exit fill in %s", ErrInvalidTransition, p.Status)
	}
	now := time.Now()
	p.Status = StatusClosed
	p.RealizedPnl = netProceeds - p.TotalInvested
	p.UnrealizedPnl = 0
	p.FinalExitTime = &now
	p.ExitReason = string(reason)
	p.Quantity = 0
	p.LastBuyPrice = 0
	if err := t.persist(ctx, p); err != nil {
		return err
	}
	t.logger.Info().Int64("user_id", p.UserID).Str("market", p.Market).
		Float64("realized_pnl", p.RealizedPnl).Str("exit_reason", p.ExitReason).
		Msg("position closed")
	return nil
}

// FindActive loads the open position for a pair, nil when there is none
func (t *Tracker) FindActive(ctx context.Context, userID int64, market string) (*Position, error) {
	return t.repo.FindActivePosition(ctx, userID, market)
}

// FlagStale returns open positions older than the holding horizon
func (t *Tracker) FlagStale(ctx context.Context, maxHolding time.Duration) ([]*Position, error) {
	stale, err := t.repo.FindStalePositions(ctx, time.Now().Add(-maxHolding))
	if err != nil {
		return nil, err
	}
	for _, p := range stale {
		t.logger.Warn().Int64("user_id", p.UserID).Str("market", p.Market).
			Time("created_at", p.CreatedAt).Msg("position exceeds holding horizon")
	}
	return stale, nil
}

// EmergencyClose is the operator path for stuck positions: it forces CLOSED
// with EMERGENCY_CLOSE regardless of the in-flight status.
func (t *Tracker) EmergencyClose(ctx context.Context, p *Position, lastPrice float64) error {
	return t.WithLock(p.UserID, p.Market, func() error {
		if p.Status == StatusClosed {
			return nil
		}
		now := time.Now()
		p.Status = StatusClosed
		p.RealizedPnl = lastPrice*p.Quantity - p.TotalInvested
		p.FinalExitTime = &now
		p.ExitReason = string(strategy.ExitEmergencyClose)
		p.Quantity = 0
		p.LastBuyPrice = 0
		return t.persist(ctx, p)
	})
}
