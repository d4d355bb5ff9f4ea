// Package strategy holds the trading strategies and the majority-vote
// aggregator. Strategies receive candle windows newest-first; the backtest
// path is pure given (window, position) and carries its exit reason through
// the per-call Scratch.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"upbit-trading-bot/internal/upbit"
)

// Strategy is a named signal generator. Analyze is the live path and may
// update per-market memoized state; AnalyzeForBacktest must be pure.
type Strategy interface {
	Name() string

	// MinWindow returns the minimum candle count the strategy needs
	MinWindow() int

	// Analyze evaluates the live window (newest-first)
	Analyze(market string, window []upbit.Candle) (Signal, error)

	// AnalyzeForBacktest evaluates one bar during replay. pos is nil when no
	// position is held; scratch is reset before the call.
	AnalyzeForBacktest(market string, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error)

	// Advisory price accessors, nil until the strategy has computed them
	TargetPrice(market string) *float64
	StopLossPrice(market string) *float64
	EntryPrice(market string) *float64

	// ClearPosition drops all memoized state for the market
	ClearPosition(market string)
}

// marketState is the per-market memo a live strategy keeps between ticks
type marketState struct {
	entryPrice  *float64
	targetPrice *float64
	stopLoss    *float64
	highest     float64
	barsHeld    int
}

// baseStrategy provides the shared per-market state handling. Embedding
// strategies implement evaluate() against chronological candles.
type baseStrategy struct {
	mu     sync.Mutex
	states map[string]*marketState
}

func newBaseStrategy() baseStrategy {
	return baseStrategy{states: make(map[string]*marketState)}
}

// state returns the memo for a market, creating it when missing. Caller must
// hold mu.
func (b *baseStrategy) state(market string) *marketState {
	st, ok := b.states[market]
	if !ok {
		st = &marketState{}
		b.states[market] = st
	}
	return st
}

// view converts the memoized live state into the position view the pure core
// expects. Caller must hold mu.
func (b *baseStrategy) view(market string) *PositionView {
	st := b.state(market)
	if st.entryPrice == nil {
		return nil
	}
	return &PositionView{
		AvgEntryPrice: *st.entryPrice,
		Quantity:      1, // live quantity is owned by the position tracker
		HighestPrice:  st.highest,
		BarsHeld:      st.barsHeld,
	}
}

// absorb records the outcome of a live evaluation into the memo. Caller must
// hold mu.
func (b *baseStrategy) absorb(market string, window []upbit.Candle, sig Signal) {
	st := b.state(market)
	switch sig.Action {
	case ActionBuy:
		st.entryPrice = sig.EntryPrice
		st.targetPrice = sig.TargetPrice
		st.stopLoss = sig.StopLossPrice
		if len(window) > 0 {
			st.highest = window[0].Close
		}
		st.barsHeld = 0
	case ActionSell:
		b.states[market] = &marketState{}
	default:
		if st.entryPrice != nil && len(window) > 0 {
			if window[0].Close > st.highest {
				st.highest = window[0].Close
			}
			st.barsHeld++
		}
	}
}

func (b *baseStrategy) TargetPrice(market string) *float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(market).targetPrice
}

func (b *baseStrategy) StopLossPrice(market string) *float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(market).stopLoss
}

func (b *baseStrategy) EntryPrice(market string) *float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state(market).entryPrice
}

func (b *baseStrategy) ClearPosition(market string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, market)
}

// Chronological returns a copy of a newest-first window in oldest-first order
// for the indicator routines.
func Chronological(window []upbit.Candle) []upbit.Candle {
	out := make([]upbit.Candle, len(window))
	for i, c := range window {
		out[len(window)-1-i] = c
	}
	return out
}

// Registry maps strategy names to instances. Strategy selection by name is
// user-facing configuration, so lookups are by the stable Name().
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy; duplicate names are an error
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name()]; exists {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

// Get returns a strategy by name
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Enabled returns the strategies matching names, in name order. An empty
// names list selects everything registered.
func (r *Registry) Enabled(names []string) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var selected []Strategy
	if len(names) == 0 {
		for _, s := range r.strategies {
			selected = append(selected, s)
		}
	} else {
		for _, name := range names {
			if s, ok := r.strategies[name]; ok {
				selected = append(selected, s)
			}
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name() < selected[j].Name() })
	return selected
}

// Names lists all registered strategy names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
