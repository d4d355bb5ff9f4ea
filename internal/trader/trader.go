// Package trader drives the live loop: evaluate the window on each tick, run
// the risk gates, place orders, confirm fills, and keep the position record
// and trade history in step with the exchange.
package trader

import (
	"context"
	"fmt"
	"time"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/events"
	"upbit-trading-bot/internal/indicator"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/position"
	"upbit-trading-bot/internal/risk"
	"upbit-trading-bot/internal/strategy"
	"upbit-trading-bot/internal/upbit"
)

// atrPeriod is the lookback for stop and trailing distance math
const atrPeriod = 14

// TradeStore persists the execution and outcome history
type TradeStore interface {
	InsertTradeRecord(ctx context.Context, rec *database.TradeRecord) error
	InsertTradeStat(ctx context.Context, stat *database.TradeStat) error
}

// Trader executes one user's strategy decisions against the exchange
type Trader struct {
	config     config.TradingConfig
	exchange   upbit.Exchange
	aggregator *strategy.Aggregator
	tracker    *position.Tracker
	risk       *risk.Manager
	store      TradeStore
	bus        *events.EventBus
	logger     *logging.Logger
}

// New creates a trader; bus may be nil
func New(
	cfg config.TradingConfig,
	exchange upbit.Exchange,
	aggregator *strategy.Aggregator,
	tracker *position.Tracker,
	riskManager *risk.Manager,
	store TradeStore,
	bus *events.EventBus,
	logger *logging.Logger,
) *Trader {
	if logger == nil {
		logger = logging.WithComponent("trader")
	}
	return &Trader{
		config:     cfg,
		exchange:   exchange,
		aggregator: aggregator,
		tracker:    tracker,
		risk:       riskManager,
		store:      store,
		bus:        bus,
		logger:     logger,
	}
}

// Tick evaluates one (user, market) pair once: exit management when a
// position is open, entry evaluation otherwise.
func (t *Trader) Tick(ctx context.Context, userID int64, market string) error {
	window, err := t.exchange.MinuteCandles(ctx, market, t.config.CandleUnit, t.aggregator.MinWindow())
	if err != nil {
		return fmt.Errorf("fetch candles for %s: %w", market, err)
	}
	if len(window) == 0 {
		return fmt.Errorf("no candles for %s", market)
	}

	pos, err := t.tracker.FindActive(ctx, userID, market)
	if err != nil {
		return fmt.Errorf("load position for %s: %w", market, err)
	}

	if pos != nil {
		if pos.Status != position.StatusActive {
			// Entry or exit from a previous tick is still in flight
			t.logger.Warn("position in transitional status, skipping tick",
				"user_id", userID, "market", market, "status", pos.Status)
			return nil
		}
		return t.manageActive(ctx, userID, market, window, pos)
	}
	return t.tryEnter(ctx, userID, market, window)
}

// manageActive updates tracking state, evaluates the exit triggers in their
// fixed order, and scales the entry when a further buy quorum appears.
func (t *Trader) manageActive(ctx context.Context, userID int64, market string, window []upbit.Candle, pos *position.Position) error {
	price := window[0].Close
	tally := t.aggregator.Evaluate(market, window, true)

	atr, err := indicator.ATR(strategy.Chronological(window), atrPeriod)
	if err != nil {
		atr = 0
	}

	var trailing *float64
	highest := pos.HighestPrice
	if price > highest {
		highest = price
	}
	if pos.TrailingStopPrice != nil || pos.ProfitRate(price) >= t.config.TrailingArmRate {
		stop := t.risk.TrailingStopPrice(highest, atr, t.config.TrailingStopRate)
		trailing = &stop
	}
	if err := t.tracker.UpdateTracking(ctx, pos, price, trailing); err != nil {
		return err
	}

	triggered, reason := pos.EvaluateExit(position.ExitCheck{
		Price:        price,
		SellQuorum:   tally.Action == strategy.ActionSell,
		QuorumReason: tally.ExitReason,
		MaxLossRate:  t.config.StopLossRate,
	})
	if triggered {
		return t.exitPosition(ctx, userID, market, pos, reason)
	}

	// Buy votes reaching quorum while holding scale the next entry phase
	if tally.BuyVotes >= tally.Threshold && tally.Threshold > 0 && pos.CanEnter() {
		return t.scaleEntry(ctx, userID, market, window, pos, atr)
	}
	return nil
}

// tryEnter runs the aggregator and, on a buy quorum that passes the risk
// gates, opens and fills the first entry phase.
func (t *Trader) tryEnter(ctx context.Context, userID int64, market string, window []upbit.Candle) error {
	tally := t.aggregator.Evaluate(market, window, false)
	if tally.Action != strategy.ActionBuy {
		return nil
	}
	price := window[0].Close
	if t.bus != nil {
		t.bus.PublishSignal(userID, market, string(tally.Action), "aggregate", price)
	}

	balance, err := t.krwBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	notional := t.risk.PositionSize(balance, 1)

	decision, err := t.risk.Check(ctx, risk.CheckRequest{
		UserID:   userID,
		Market:   market,
		Balance:  balance,
		Notional: notional,
		Now:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("risk check: %w", err)
	}
	if !decision.Allowed {
		t.logger.Info("entry denied by risk gate",
			"user_id", userID, "market", market, "code", decision.Code, "reason", decision.Reason)
		if t.bus != nil {
			t.bus.PublishRiskDenied(userID, market, decision.Code, decision.Reason)
		}
		return nil
	}

	atr, err := indicator.ATR(strategy.Chronological(window), atrPeriod)
	if err != nil {
		atr = 0
	}

	return t.tracker.WithLock(userID, market, func() error {
		pos, err := t.tracker.OpenPending(ctx, userID, market, "aggregate")
		if err != nil {
			return err
		}
		pos.EntryZScore = tally.ZScore
		pos.EntryExecStrength = tally.ExecutionStrength
		return t.fillEntryPhase(ctx, userID, market, pos, notional, atr, position.StatusPending)
	})
}

// scaleEntry fills the next staged entry phase of an ACTIVE position
func (t *Trader) scaleEntry(ctx context.Context, userID int64, market string, window []upbit.Candle, pos *position.Position, atr float64) error {
	balance, err := t.krwBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	notional := t.risk.PositionSize(balance, pos.EntryPhase+1)
	if notional <= 0 {
		return nil
	}
	return t.tracker.WithLock(userID, market, func() error {
		return t.fillEntryPhase(ctx, userID, market, pos, notional, atr, position.StatusActive)
	})
}

// fillEntryPhase places a market buy for one phase, confirms the fill, and
// folds it into the position. revertTo is where the position goes when the
// order cannot be placed or confirmed.
func (t *Trader) fillEntryPhase(ctx context.Context, userID int64, market string, pos *position.Position, notional float64, atr float64, revertTo string) error {
	if err := t.tracker.Transition(ctx, pos, position.StatusEntering); err != nil {
		return err
	}

	abort := func(cause error) error {
		if err := t.tracker.Transition(ctx, pos, revertTo); err != nil {
			t.logger.Error("entry revert failed", "user_id", userID, "market", market, "error", err)
		} else if revertTo == position.StatusPending {
			// A first-phase entry that never filled is abandoned outright
			if err := t.tracker.Transition(ctx, pos, position.StatusClosed); err != nil {
				t.logger.Error("pending abandon failed", "user_id", userID, "market", market, "error", err)
			}
		}
		return cause
	}

	spend := notional * t.config.FeeBuffer()
	order, err := t.exchange.BuyMarket(ctx, userID, market, spend)
	if err != nil {
		return abort(fmt.Errorf("market buy %s: %w", market, err))
	}

	filled, err := t.settleOrAbort(ctx, userID, market, order)
	if err != nil {
		return abort(fmt.Errorf("confirm buy fill %s: %w", market, err))
	}

	avgPrice := filled.ExecutedFunds / filled.ExecutedVolume
	invested := filled.ExecutedFunds + filled.PaidFee
	stopLoss := t.risk.StopLossPrice(avgPrice, atr)

	if err := t.tracker.ApplyEntryFill(ctx, pos, avgPrice, filled.ExecutedVolume, invested, stopLoss); err != nil {
		return err
	}

	t.recordFill(ctx, userID, market, upbit.SideBid, avgPrice, filled.ExecutedVolume, filled.PaidFee, 0, "")
	if t.bus != nil {
		t.bus.PublishOrderFilled(userID, market, upbit.SideBid, filled.UUID, avgPrice, filled.ExecutedVolume)
		t.bus.PublishPositionOpened(userID, market, pos.AvgEntryPrice, pos.Quantity, pos.EntryPhase)
	}
	t.logger.Info("entry phase filled",
		"user_id", userID, "market", market, "phase", pos.EntryPhase,
		"price", avgPrice, "volume", filled.ExecutedVolume, "stop_loss", stopLoss)
	return nil
}

// exitPosition sells the whole position at market and finalizes the record
func (t *Trader) exitPosition(ctx context.Context, userID int64, market string, pos *position.Position, reason strategy.ExitReason) error {
	return t.tracker.WithLock(userID, market, func() error {
		if err := t.tracker.Transition(ctx, pos, position.StatusExiting); err != nil {
			return err
		}

		revert := func(cause error) error {
			if err := t.tracker.Transition(ctx, pos, position.StatusActive); err != nil {
				t.logger.Error("exit revert failed", "user_id", userID, "market", market, "error", err)
			}
			return cause
		}

		order, err := t.exchange.SellMarket(ctx, userID, market, pos.Quantity)
		if err != nil {
			return revert(fmt.Errorf("market sell %s: %w", market, err))
		}
		filled, err := t.settleOrAbort(ctx, userID, market, order)
		if err != nil {
			return revert(fmt.Errorf("confirm sell fill %s: %w", market, err))
		}

		entryPrice := pos.AvgEntryPrice
		invested := pos.TotalInvested
		entryTime := pos.CreatedAt
		if pos.Phase1At != nil {
			entryTime = *pos.Phase1At
		}
		netProceeds := filled.ExecutedFunds

		if err := t.tracker.ApplyExitFill(ctx, pos, netProceeds, reason); err != nil {
			return err
		}

		profitRate := 0.0
		if invested > 0 {
			profitRate = pos.RealizedPnl / invested
		}
		exitPrice := filled.ExecutedFunds / filled.ExecutedVolume

		t.recordFill(ctx, userID, market, upbit.SideAsk, exitPrice, filled.ExecutedVolume, filled.PaidFee, profitRate, string(reason))

		now := time.Now()
		stat := &database.TradeStat{
			UserID:            userID,
			Market:            market,
			EntryTime:         entryTime,
			ExitTime:          now,
			EntryPrice:        entryPrice,
			ExitPrice:         exitPrice,
			ProfitRate:        profitRate,
			EntryZScore:       pos.EntryZScore,
			EntryExecStrength: pos.EntryExecStrength,
			EntryHour:         entryTime.Hour(),
			Success:           profitRate > 0,
			ExitReason:        string(reason),
		}
		if err := t.store.InsertTradeStat(ctx, stat); err != nil {
			t.logger.Error("trade stat insert failed", "user_id", userID, "market", market, "error", err)
		}

		for _, s := range t.aggregator.Strategies() {
			s.ClearPosition(market)
		}
		if t.bus != nil {
			t.bus.PublishOrderFilled(userID, market, upbit.SideAsk, filled.UUID, exitPrice, filled.ExecutedVolume)
			t.bus.PublishPositionClosed(userID, market, pos.RealizedPnl, string(reason))
		}
		return nil
	})
}

// recordFill appends one TradeRecord with the post-fill balances
func (t *Trader) recordFill(ctx context.Context, userID int64, market, side string, price, volume, fee, profitRate float64, exitReason string) {
	krw, coin := 0.0, 0.0
	if accounts, err := t.exchange.Accounts(ctx, userID); err == nil {
		coinSym := market
		for i := 0; i < len(market); i++ {
			if market[i] == '-' {
				coinSym = market[i+1:]
				break
			}
		}
		for _, acct := range accounts {
			switch acct.Currency {
			case "KRW":
				krw = acct.Balance
			case coinSym:
				coin = acct.Balance
			}
		}
	}

	rec := &database.TradeRecord{
		UserID:       userID,
		Market:       market,
		Side:         side,
		Price:        price,
		Volume:       volume,
		Fee:          fee,
		KrwBalance:   krw,
		CoinBalance:  coin,
		TotalAsset:   krw + coin*price,
		ProfitRate:   profitRate,
		StrategyName: "aggregate",
		ExitReason:   exitReason,
		ExecutedAt:   time.Now(),
	}
	if err := t.store.InsertTradeRecord(ctx, rec); err != nil {
		t.logger.Error("trade record insert failed",
			"user_id", userID, "market", market, "side", side, "error", err)
	}
}

// krwBalance returns the user's available KRW
func (t *Trader) krwBalance(ctx context.Context, userID int64) (float64, error) {
	accounts, err := t.exchange.Accounts(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, acct := range accounts {
		if acct.Currency == "KRW" {
			return acct.Balance, nil
		}
	}
	return 0, nil
}
