package trader

import (
	"context"
	"sync"
	"time"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/logging"
)

// UserMarkets is one enabled user and the markets their loop covers
type UserMarkets struct {
	UserID  int64
	Markets []string
}

// Scheduler drives the periodic tick for every enabled user. Users are
// processed sequentially within a tick; a market failure is logged and
// skipped, never aborting the rest of the tick.
type Scheduler struct {
	config config.TradingConfig
	trader *Trader
	users  []UserMarkets
	logger *logging.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler over a fixed user set
func NewScheduler(cfg config.TradingConfig, trader *Trader, users []UserMarkets, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.WithComponent("scheduler")
	}
	return &Scheduler{
		config:   cfg,
		trader:   trader,
		users:    users,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start launches the tick loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info("live trading disabled")
		return
	}
	interval := time.Duration(s.config.TickIntervalMinutes) * time.Minute
	s.logger.Info("live trading scheduler started",
		"interval", interval.String(), "users", len(s.users))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.runTick(ctx)
		for {
			select {
			case <-ticker.C:
				s.runTick(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight tick
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("live trading scheduler stopped")
}

// runTick processes every (user, market) pair once
func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	for _, user := range s.users {
		for _, market := range user.Markets {
			if ctx.Err() != nil {
				return
			}
			if err := s.trader.Tick(ctx, user.UserID, market); err != nil {
				logging.TickContext(user.UserID, market).Error("tick failed", "error", err)
			}
		}
	}

	s.flagStale(ctx)
	s.logger.Debug("tick complete", "elapsed", time.Since(start).String())
}

// flagStale surfaces positions held past the holding horizon
func (s *Scheduler) flagStale(ctx context.Context) {
	maxHolding := time.Duration(s.config.MaxHoldingHours) * time.Hour
	if maxHolding <= 0 {
		return
	}
	if _, err := s.trader.tracker.FlagStale(ctx, maxHolding); err != nil {
		s.logger.Warn("stale position scan failed", "error", err)
	}
}
