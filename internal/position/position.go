// Package position owns the per-(user, market) position lifecycle: staged
// entries, the status state machine, exit-trigger evaluation, and the
// durable record behind them.
package position

import (
	"errors"
	"time"

	"upbit-trading-bot/internal/strategy"
)

// Position status constants
const (
	StatusPending  = "PENDING"  // Buy approved, order not yet placed
	StatusEntering = "ENTERING" // Entry order in flight
	StatusActive   = "ACTIVE"   // Entry filled, position open
	StatusExiting  = "EXITING"  // Exit order in flight
	StatusClosed   = "CLOSED"   // Terminal
	StatusFailed   = "FAILED"   // Invariant violation, manual review
)

// MaxEntryPhase bounds staged entry scaling
const MaxEntryPhase = 3

var (
	ErrInvalidTransition = errors.New("position: invalid status transition")
	ErrClosedImmutable   = errors.New("position: closed position is immutable")
	ErrInvariant         = errors.New("position: invariant violation")
)

// validTransitions is the lifecycle graph. ACTIVE may re-enter ENTERING for
// staged scaling while entryPhase < 3; EXITING may revert to ACTIVE when a
// sell fails outright.
var validTransitions = map[string][]string{
	StatusPending:  {StatusEntering, StatusClosed},
	StatusEntering: {StatusActive, StatusPending, StatusFailed},
	StatusActive:   {StatusEntering, StatusExiting, StatusFailed},
	StatusExiting:  {StatusClosed, StatusActive, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Position is the durable record of one (user, market) position. At most one
// non-CLOSED position exists per pair. CLOSED finalization fields are written
// once and never rewritten.
type Position struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Market string `json:"market"`
	Status string `json:"status"`

	EntryPhase    int     `json:"entry_phase"` // 1-3 staged scaling
	AvgEntryPrice float64 `json:"avg_entry_price"`
	TotalInvested float64 `json:"total_invested"`
	Quantity      float64 `json:"quantity"`
	LastBuyPrice  float64 `json:"last_buy_price"` // Tied to position lifetime, zeroed on CLOSE

	StopLossPrice     float64  `json:"stop_loss_price"`
	HighestPrice      float64  `json:"highest_price"`
	TrailingStopPrice *float64 `json:"trailing_stop_price"` // Nil until armed

	StrategyName string `json:"strategy_name"`

	Phase1At *time.Time `json:"phase1_at"`
	Phase2At *time.Time `json:"phase2_at"`
	Phase3At *time.Time `json:"phase3_at"`

	RealizedPnl   float64    `json:"realized_pnl"`
	UnrealizedPnl float64    `json:"unrealized_pnl"`
	FinalExitTime *time.Time `json:"final_exit_time"`
	ExitReason    string     `json:"exit_reason"`

	EntryZScore        float64 `json:"entry_z_score"`
	EntryExecStrength  float64 `json:"entry_exec_strength"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the position is in a non-terminal status
func (p *Position) Open() bool {
	return p.Status != StatusClosed && p.Status != StatusFailed
}

// CanEnter reports whether a further staged entry is allowed
func (p *Position) CanEnter() bool {
	return (p.Status == StatusEntering || p.Status == StatusActive) && p.EntryPhase < MaxEntryPhase
}

// ProfitRate returns the unrealized rate against the average entry
func (p *Position) ProfitRate(price float64) float64 {
	if p.AvgEntryPrice == 0 {
		return 0
	}
	return (price - p.AvgEntryPrice) / p.AvgEntryPrice
}

// View projects the position into the read-only snapshot strategies consume
func (p *Position) View(barsHeld int) *strategy.PositionView {
	if p == nil || !p.Open() || p.Quantity == 0 {
		return nil
	}
	return &strategy.PositionView{
		AvgEntryPrice: p.AvgEntryPrice,
		Quantity:      p.Quantity,
		HighestPrice:  p.HighestPrice,
		BarsHeld:      barsHeld,
	}
}

// CheckInvariants returns ErrInvariant when the record is out of range
func (p *Position) CheckInvariants() error {
	if p.Quantity < 0 || p.TotalInvested < 0 || p.AvgEntryPrice < 0 {
		return ErrInvariant
	}
	if p.HighestPrice > 0 && p.AvgEntryPrice > 0 && p.HighestPrice < p.AvgEntryPrice {
		// Highest tracks from entry; below entry means tracking went backwards
		return ErrInvariant
	}
	if p.TrailingStopPrice != nil && *p.TrailingStopPrice < p.StopLossPrice {
		return ErrInvariant
	}
	return nil
}

// ExitCheck carries everything the fixed-order trigger evaluation needs
type ExitCheck struct {
	Price        float64
	SellQuorum   bool    // Aggregator sell vote passed
	QuorumReason strategy.ExitReason
	MaxLossRate  float64 // Negative; per-position floor from the risk manager
}

// EvaluateExit applies the exit triggers in their fixed order and returns the
// first that fires: hard stop, trailing stop, strategy quorum, max loss.
func (p *Position) EvaluateExit(check ExitCheck) (bool, strategy.ExitReason) {
	if p.StopLossPrice > 0 && check.Price <= p.StopLossPrice {
		return true, strategy.ExitStopLossFixed
	}
	if p.TrailingStopPrice != nil && check.Price <= *p.TrailingStopPrice {
		return true, strategy.ExitTrailingStop
	}
	if check.SellQuorum {
		reason := check.QuorumReason
		if reason == "" {
			reason = strategy.ExitSignalInvalid
		}
		return true, reason
	}
	if check.MaxLossRate < 0 && p.ProfitRate(check.Price) <= check.MaxLossRate {
		return true, strategy.ExitStopLossFixed
	}
	return false, ""
}
