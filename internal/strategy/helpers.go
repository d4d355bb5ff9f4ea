package strategy

import "upbit-trading-bot/internal/upbit"

// evalFunc is the pure evaluation core shared by the live and backtest paths.
// Candles arrive oldest-first.
type evalFunc func(chron []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error)

// analyzeLive wraps an evaluation core with the per-market memo handling of
// the live path. A window below the minimum is a Hold, not an error.
func analyzeLive(b *baseStrategy, minWindow int, eval evalFunc, market string, window []upbit.Candle) (Signal, error) {
	if len(window) < minWindow {
		return Hold(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sig, err := eval(Chronological(window), b.view(market), nil)
	if err != nil {
		return Hold(), err
	}
	b.absorb(market, window, sig)
	return sig, nil
}

// analyzeBacktest wraps an evaluation core for replay: no memo access, the
// scratch is reset before evaluation.
func analyzeBacktest(minWindow int, eval evalFunc, window []upbit.Candle, pos *PositionView, scratch *Scratch) (Signal, error) {
	if scratch != nil {
		scratch.Reset()
	}
	if len(window) < minWindow {
		return Hold(), nil
	}
	return eval(Chronological(window), pos, scratch)
}

// emitSell tags the scratch with the chosen exit reason and returns the sell
func emitSell(scratch *Scratch, reason ExitReason) Signal {
	if scratch != nil {
		scratch.ExitReason = reason
	}
	return Sell(reason)
}

func profitRate(pos *PositionView, price float64) float64 {
	if pos == nil || pos.AvgEntryPrice == 0 {
		return 0
	}
	return (price - pos.AvgEntryPrice) / pos.AvgEntryPrice
}
