package strategy

// Action is the outcome of one strategy evaluation
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionHold Action = "HOLD"
	ActionSell Action = "SELL"
)

// ExitReason labels which trigger produced a sell
type ExitReason string

const (
	ExitStopLossFixed  ExitReason = "STOP_LOSS_FIXED"
	ExitStopLossATR    ExitReason = "STOP_LOSS_ATR"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitSignalInvalid  ExitReason = "SIGNAL_INVALID"
	ExitFakeRebound    ExitReason = "FAKE_REBOUND"
	ExitVolumeDrop     ExitReason = "VOLUME_DROP"
	ExitOverheated     ExitReason = "OVERHEATED"
	ExitTimeout        ExitReason = "TIMEOUT"
	ExitEmergencyClose ExitReason = "EMERGENCY_CLOSE"
)

// Signal is the result of evaluating one strategy over a candle window.
// Advisory prices are optional.
type Signal struct {
	Action        Action
	TargetPrice   *float64
	StopLossPrice *float64
	EntryPrice    *float64
	ExitReason    ExitReason // Set only on Sell
}

// Hold is the neutral signal
func Hold() Signal { return Signal{Action: ActionHold} }

// Buy builds a buy signal with advisory prices
func Buy(entry, target, stop float64) Signal {
	return Signal{
		Action:        ActionBuy,
		EntryPrice:    &entry,
		TargetPrice:   &target,
		StopLossPrice: &stop,
	}
}

// Sell builds a sell signal tagged with its reason
func Sell(reason ExitReason) Signal {
	return Signal{Action: ActionSell, ExitReason: reason}
}

// Scratch is the per-call scratch area for the backtest path. It carries the
// strategy-chosen exit reason back to the executor without widening the
// return value, and is reset before every invocation.
type Scratch struct {
	ExitReason ExitReason
	ZScore     float64
	ExecutionStrength float64
}

// Reset clears the scratch for the next invocation
func (s *Scratch) Reset() {
	s.ExitReason = ""
	s.ZScore = 0
	s.ExecutionStrength = 0
}

// PositionView is the read-only position snapshot a strategy sees during
// evaluation. Quantity zero means no position.
type PositionView struct {
	AvgEntryPrice float64
	Quantity      float64
	HighestPrice  float64
	BarsHeld      int
}

// Holding reports whether the view represents an open position
func (p *PositionView) Holding() bool {
	return p != nil && p.Quantity > 0
}
