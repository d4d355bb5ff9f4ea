package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upbit-trading-bot/internal/upbit"
)

var (
	// ErrFillTimeout means the order did not reach a terminal state within
	// the polling budget
	ErrFillTimeout = errors.New("trader: order fill confirmation timed out")

	// ErrOrderCancelled means the exchange reported the order cancelled
	ErrOrderCancelled = errors.New("trader: order was cancelled")
)

// awaitFill polls the order until it reaches a terminal state, at the
// configured interval up to the retry cap. Returns the final order on done,
// ErrOrderCancelled on cancel, ErrFillTimeout when the budget runs out.
func (t *Trader) awaitFill(ctx context.Context, userID int64, order *upbit.Order) (*upbit.Order, error) {
	if order.Done() {
		return order, nil
	}
	if order.Cancelled() {
		return nil, ErrOrderCancelled
	}

	interval := time.Duration(t.config.OrderCheckIntervalMs) * time.Millisecond
	for attempt := 0; attempt < t.config.OrderCheckMaxRetry; attempt++ {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		current, err := t.exchange.GetOrder(ctx, userID, order.UUID)
		if err != nil {
			t.logger.Warn("order poll failed",
				"order_id", order.UUID, "attempt", attempt+1, "error", err)
			continue
		}
		if current.Done() {
			return current, nil
		}
		if current.Cancelled() {
			return nil, ErrOrderCancelled
		}
	}
	return nil, fmt.Errorf("%w: order %s after %d polls",
		ErrFillTimeout, order.UUID, t.config.OrderCheckMaxRetry)
}

// settleOrAbort confirms the fill; on timeout it cancels the outstanding
// order and, when enabled, retries the unfilled remainder at market. Returns
// the filled order or an error after every path is exhausted.
func (t *Trader) settleOrAbort(ctx context.Context, userID int64, market string, order *upbit.Order) (*upbit.Order, error) {
	filled, err := t.awaitFill(ctx, userID, order)
	if err == nil {
		return filled, nil
	}
	if errors.Is(err, ErrOrderCancelled) {
		return nil, err
	}
	if !errors.Is(err, ErrFillTimeout) {
		return nil, err
	}

	if cancelErr := t.exchange.CancelOrder(ctx, userID, order.UUID); cancelErr != nil {
		t.logger.Warn("cancel of timed-out order failed",
			"order_id", order.UUID, "error", cancelErr)
	}
	if t.bus != nil {
		t.bus.PublishOrderCancelled(userID, market, order.UUID, "fill timeout")
	}

	if !t.config.MarketFallback {
		return nil, err
	}

	// Re-read the order once so a fill that raced the cancel is not lost
	current, getErr := t.exchange.GetOrder(ctx, userID, order.UUID)
	if getErr == nil && current.Done() {
		return current, nil
	}

	remainder := order.Volume
	if getErr == nil {
		remainder = order.Volume - current.ExecutedVolume
	}
	if remainder <= 0 || order.Side != upbit.SideAsk {
		return nil, err
	}

	t.logger.Info("falling back to market sell for unfilled remainder",
		"market", market, "remainder", remainder)
	fallback, fbErr := t.exchange.SellMarket(ctx, userID, market, remainder)
	if fbErr != nil {
		return nil, fmt.Errorf("market fallback after timeout: %w", fbErr)
	}
	return t.awaitFill(ctx, userID, fallback)
}
