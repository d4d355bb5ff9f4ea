// Package risk implements the pre-trade gate pipeline, position sizing, and
// the stop/trailing price math.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/logging"
)

// Deny codes returned to callers
const (
	CodeCooldown          = "COOLDOWN"
	CodeMaxPositions      = "MAX_POSITIONS"
	CodeDuplicatePosition = "DUPLICATE_POSITION"
	CodePositionSize      = "POSITION_SIZE"
	CodeDailyLoss         = "DAILY_LOSS"
	CodeConsecutiveLosses = "CONSECUTIVE_LOSSES"
)

// Decision is the outcome of the gate pipeline
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(code, format string, args ...interface{}) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Repository is the persisted-counter surface the gates read
type Repository interface {
	CountActivePositions(ctx context.Context, userID int64) (int, error)
	HasActivePosition(ctx context.Context, userID int64, market string) (bool, error)
	TodayRealizedLoss(ctx context.Context, userID int64, now time.Time) (float64, error)
	ConsecutiveLosses(ctx context.Context, userID int64) (int, error)
}

// CheckRequest is one proposed entry
type CheckRequest struct {
	UserID   int64
	Market   string
	Balance  float64 // Available KRW
	Notional float64 // Requested KRW to invest
	Now      time.Time
}

// Manager runs the ordered pre-trade checks and provides the shared price
// math. It is stateless over the persisted counters; repeated calls with the
// same inputs produce the same decision (consecutive-loss denials also arm
// the cooldown, which the next call reports as COOLDOWN).
type Manager struct {
	config    config.RiskConfig
	repo      Repository
	cooldowns *CooldownRegistry
	logger    *logging.Logger
}

// NewManager creates a risk manager
func NewManager(cfg config.RiskConfig, repo Repository, cooldowns *CooldownRegistry, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.WithComponent("risk")
	}
	return &Manager{config: cfg, repo: repo, cooldowns: cooldowns, logger: logger}
}

// Check runs the deny pipeline in its fixed order, short-circuiting on the
// first violated gate.
func (m *Manager) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	if until, active := m.cooldowns.Until(ctx, req.UserID); active {
		return deny(CodeCooldown, "cooldown active until %s", until.Format(time.RFC3339)), nil
	}

	count, err := m.repo.CountActivePositions(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("count active positions: %w", err)
	}
	if count >= m.config.MaxConcurrentPositions {
		return deny(CodeMaxPositions, "open positions %d at cap %d", count, m.config.MaxConcurrentPositions), nil
	}

	duplicate, err := m.repo.HasActivePosition(ctx, req.UserID, req.Market)
	if err != nil {
		return Decision{}, fmt.Errorf("find active position: %w", err)
	}
	if duplicate {
		return deny(CodeDuplicatePosition, "open position already exists for %s", req.Market), nil
	}

	maxNotional := req.Balance * m.config.MaxPositionSizeRate
	if req.Notional > maxNotional {
		return deny(CodePositionSize, "requested %.0f exceeds cap %.0f", req.Notional, maxNotional), nil
	}

	todayLoss, err := m.repo.TodayRealizedLoss(ctx, req.UserID, req.Now)
	if err != nil {
		return Decision{}, fmt.Errorf("today realized loss: %w", err)
	}
	if todayLoss <= -req.Balance*m.config.MaxDailyLossRate {
		return deny(CodeDailyLoss, "daily loss %.0f at cap %.0f", todayLoss, -req.Balance*m.config.MaxDailyLossRate), nil
	}

	losses, err := m.repo.ConsecutiveLosses(ctx, req.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("consecutive losses: %w", err)
	}
	if losses >= m.config.MaxConsecutiveLosses {
		cooldown := time.Duration(m.config.CooldownMinutes) * time.Minute
		if err := m.cooldowns.Activate(ctx, req.UserID, cooldown); err != nil {
			return Decision{}, fmt.Errorf("activate cooldown: %w", err)
		}
		m.logger.Warn("consecutive losses hit threshold, cooldown armed",
			"user_id", req.UserID, "losses", losses, "cooldown", cooldown.String())
		return deny(CodeConsecutiveLosses, "%d consecutive losses, cooldown %s", losses, cooldown), nil
	}

	return allow(), nil
}

// StopLossPrice returns entry minus the ATR distance, clamped between the
// configured min and max rates of entry.
func (m *Manager) StopLossPrice(entry, atr float64) float64 {
	distance := m.config.StopLossAtrMultiplier * atr
	minDistance := m.config.StopLossMinRate * entry
	maxDistance := m.config.StopLossMaxRate * entry
	if distance < minDistance {
		distance = minDistance
	}
	if distance > maxDistance {
		distance = maxDistance
	}
	return entry - distance
}

// TrailingStopPrice returns highest minus the wider of the ATR distance and
// the trailing-rate distance.
func (m *Manager) TrailingStopPrice(highest, atr float64, trailingRate float64) float64 {
	return highest - math.Max(m.config.TrailingAtrMultiplier*atr, trailingRate*highest)
}

// PositionSize returns the KRW notional for one staged entry phase (1-3)
func (m *Manager) PositionSize(balance float64, phase int) float64 {
	if phase < 1 || phase > len(m.config.EntryRatio) {
		return 0
	}
	return balance * m.config.MaxPositionSizeRate * m.config.EntryRatio[phase-1]
}

// Score returns the 0-100 composite risk score: 30% position utilization,
// 40% daily-loss utilization, 30% consecutive-loss utilization. An active
// cooldown forces 100. Scores at or above 100 block trading.
func (m *Manager) Score(ctx context.Context, userID int64, balance float64, now time.Time) (float64, error) {
	if _, active := m.cooldowns.Until(ctx, userID); active {
		return 100, nil
	}

	count, err := m.repo.CountActivePositions(ctx, userID)
	if err != nil {
		return 0, err
	}
	todayLoss, err := m.repo.TodayRealizedLoss(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	losses, err := m.repo.ConsecutiveLosses(ctx, userID)
	if err != nil {
		return 0, err
	}

	positionUtil := ratio(float64(count), float64(m.config.MaxConcurrentPositions))
	lossUtil := 0.0
	if balance > 0 {
		lossUtil = ratio(-todayLoss, balance*m.config.MaxDailyLossRate)
	}
	streakUtil := ratio(float64(losses), float64(m.config.MaxConsecutiveLosses))

	return 100 * (0.3*positionUtil + 0.4*lossUtil + 0.3*streakUtil), nil
}

// Blocked reports whether the score blocks new entries
func Blocked(score float64) bool { return score >= 100 }

func ratio(n, d float64) float64 {
	if d <= 0 {
		return 0
	}
	r := n / d
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
