package backtest

import (
	"errors"
	"fmt"
	"sort"

	"upbit-trading-bot/internal/strategy"
	"upbit-trading-bot/internal/upbit"
)

// ErrNotEnoughBars means the candle sequence is shorter than the evaluator's
// minimum window plus one tradable bar.
var ErrNotEnoughBars = errors.New("backtest: not enough bars")

// Evaluator is the decision surface the runner replays. The aggregator
// satisfies it; SingleStrategy adapts one strategy to it.
type Evaluator interface {
	MinWindow() int
	EvaluateBacktest(market string, window []upbit.Candle, pos *strategy.PositionView) strategy.Tally
}

// SingleStrategy adapts one strategy to the Evaluator surface with a quorum
// of one.
type SingleStrategy struct {
	S strategy.Strategy
}

func (e SingleStrategy) MinWindow() int { return e.S.MinWindow() }

func (e SingleStrategy) EvaluateBacktest(market string, window []upbit.Candle, pos *strategy.PositionView) strategy.Tally {
	scratch := &strategy.Scratch{}
	sig, err := e.S.AnalyzeForBacktest(market, window, pos, scratch)
	if err != nil {
		return strategy.Tally{
			Action: strategy.ActionHold,
			Votes:  []strategy.Vote{{Strategy: e.S.Name(), Err: err}},
		}
	}
	tally := strategy.Tally{
		Action:            sig.Action,
		Participants:      1,
		Threshold:         1,
		Votes:             []strategy.Vote{{Strategy: e.S.Name(), Action: sig.Action}},
		ExitReason:        scratch.ExitReason,
		ZScore:            scratch.ZScore,
		ExecutionStrength: scratch.ExecutionStrength,
	}
	switch sig.Action {
	case strategy.ActionBuy:
		tally.BuyVotes = 1
		if pos.Holding() {
			tally.Action = strategy.ActionHold
		}
	case strategy.ActionSell:
		tally.SellVotes = 1
		if !pos.Holding() {
			tally.Action = strategy.ActionHold
		}
	}
	return tally
}

// Runner replays one market bar by bar. Runs with identical inputs produce
// identical trade lists.
type Runner struct {
	eval           Evaluator
	feeRate        float64
	feeBuffer      float64
	initialBalance float64
}

// NewRunner creates a runner. feeBuffer is the fraction of the KRW balance a
// buy commits, leaving headroom for the taker fee.
func NewRunner(eval Evaluator, feeRate, feeBuffer, initialBalance float64) *Runner {
	return &Runner{
		eval:           eval,
		feeRate:        feeRate,
		feeBuffer:      feeBuffer,
		initialBalance: initialBalance,
	}
}

// Run replays the bars for one market. Bars may arrive in any order; they are
// sorted oldest-first before the loop.
func (r *Runner) Run(market string, bars []upbit.Candle) (*Result, error) {
	sorted := make([]upbit.Candle, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].KST.Before(sorted[j].KST) })

	minRequired := r.eval.MinWindow()
	if len(sorted) <= minRequired {
		return nil, fmt.Errorf("%w: have %d, need more than %d for %s",
			ErrNotEnoughBars, len(sorted), minRequired, market)
	}

	result := &Result{
		Market:         market,
		Bars:           len(sorted),
		StartTime:      sorted[minRequired].KST,
		EndTime:        sorted[len(sorted)-1].KST,
		InitialBalance: r.initialBalance,
		ExitReasons:    make(map[strategy.ExitReason]int),
	}

	krw := r.initialBalance
	coin := 0.0
	lastBuy := 0.0
	highest := 0.0
	invested := 0.0
	entryIndex := 0

	peakAsset := r.initialBalance
	window := make([]upbit.Candle, minRequired)

	for i := minRequired; i < len(sorted); i++ {
		bar := sorted[i]

		// Newest-first window of exactly minRequired bars ending at this bar,
		// matching live semantics
		for j := 0; j < minRequired; j++ {
			window[j] = sorted[i-j]
		}

		var pos *strategy.PositionView
		if coin > 0 {
			if bar.High > highest {
				highest = bar.High
			}
			pos = &strategy.PositionView{
				AvgEntryPrice: lastBuy,
				Quantity:      coin,
				HighestPrice:  highest,
				BarsHeld:      i - entryIndex,
			}
		}

		tally := r.eval.EvaluateBacktest(market, window, pos)

		switch tally.Action {
		case strategy.ActionBuy:
			if coin > 0 {
				break
			}
			spend := r.feeBuffer * krw
			fee := spend * r.feeRate
			volume := (spend - fee) / bar.Close
			if volume <= 0 {
				break
			}
			krw -= spend
			coin += volume
			lastBuy = bar.Close
			highest = bar.Close
			invested = spend
			entryIndex = i
			result.BuyCount++
			result.Trades = append(result.Trades, Trade{
				Market: market, Side: "BUY", Time: bar.KST,
				Price: bar.Close, Volume: volume, Fee: fee, KrwBalance: krw,
			})

		case strategy.ActionSell:
			if coin <= 0 {
				break
			}
			gross := coin * bar.Close
			fee := gross * r.feeRate
			proceeds := gross - fee
			profitRate := 0.0
			if invested > 0 {
				profitRate = (proceeds - invested) / invested
			}

			reason := tally.ExitReason
			if reason == "" {
				if profitRate >= 0 {
					reason = strategy.ExitTakeProfit
				} else {
					reason = strategy.ExitStopLossFixed
				}
			}
			result.ExitReasons[reason]++
			result.SellCount++
			if profitRate > 0 {
				result.WinCount++
			} else {
				result.LoseCount++
			}

			volume := coin
			krw += proceeds
			coin = 0
			lastBuy = 0
			highest = 0
			invested = 0
			result.Trades = append(result.Trades, Trade{
				Market: market, Side: "SELL", Time: bar.KST,
				Price: bar.Close, Volume: volume, Fee: fee, KrwBalance: krw,
				ProfitRate: profitRate, ExitReason: reason,
			})
		}

		asset := krw + coin*bar.Close
		if asset > peakAsset {
			peakAsset = asset
		}
		if peakAsset > 0 {
			if dd := (peakAsset - asset) / peakAsset; dd > result.MaxDrawdown {
				result.MaxDrawdown = dd
			}
		}
		if rate := (asset - r.initialBalance) / r.initialBalance; rate > result.MaxProfitRate {
			result.MaxProfitRate = rate
		}
	}

	final := krw + coin*sorted[len(sorted)-1].Close
	result.FinalBalance = final
	result.TotalProfitRate = (final - r.initialBalance) / r.initialBalance

	firstClose := sorted[minRequired].Close
	if firstClose > 0 {
		result.BuyHoldRate = (sorted[len(sorted)-1].Close - firstClose) / firstClose
	}

	if result.SellCount > 0 {
		result.WinRate = float64(result.WinCount) / float64(result.SellCount)
	}
	return result, nil
}
