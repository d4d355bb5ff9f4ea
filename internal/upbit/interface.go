package upbit

import "context"

// Exchange defines the capability set the engine needs from the exchange.
// The concrete HTTP/JWT client lives outside this module; tests and dry runs
// use MockExchange.
//
// Order semantics: BuyMarket takes a KRW notional, SellMarket takes a coin
// volume. Limit prices must be tick-aligned before submission (see TickPrice).
type Exchange interface {
	ListMarkets(ctx context.Context) ([]Market, error)

	// MinuteCandles returns up to count bars newest-first
	MinuteCandles(ctx context.Context, market string, unit, count int) ([]Candle, error)
	DayCandles(ctx context.Context, market string, count int) ([]Candle, error)
	Ticker(ctx context.Context, markets []string) ([]Ticker, error)
	Orderbook(ctx context.Context, market string) (*Orderbook, error)

	Accounts(ctx context.Context, userID int64) ([]Account, error)

	BuyMarket(ctx context.Context, userID int64, market string, krwAmount float64) (*Order, error)
	SellMarket(ctx context.Context, userID int64, market string, volume float64) (*Order, error)
	BuyLimit(ctx context.Context, userID int64, market string, volume, price float64) (*Order, error)
	SellLimit(ctx context.Context, userID int64, market string, volume, price float64) (*Order, error)
	GetOrder(ctx context.Context, userID int64, uuid string) (*Order, error)
	CancelOrder(ctx context.Context, userID int64, uuid string) error
}

var _ Exchange = (*MockExchange)(nil)
