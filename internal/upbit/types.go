package upbit

import "time"

// Candle is one minute-resolution bar. Close carries the Upbit trade_price.
// Windows handed to strategies are ordered newest-first; persisted ranges are
// ordered by ascending KST timestamp.
type Candle struct {
	Market string    `json:"market"`
	KST    time.Time `json:"candle_date_time_kst"`
	UTC    time.Time `json:"candle_date_time_utc"`
	Open   float64   `json:"opening_price"`
	High   float64   `json:"high_price"`
	Low    float64   `json:"low_price"`
	Close  float64   `json:"trade_price"`
	Volume float64   `json:"candle_acc_trade_volume"`
	Value  float64   `json:"candle_acc_trade_price"`
	Unit   int       `json:"unit"`
}

// Market is one tradable KRW pair
type Market struct {
	Market  string `json:"market"`
	Warning string `json:"market_warning,omitempty"`
}

// Ticker is a current-price snapshot
type Ticker struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
	AccVolume  float64 `json:"acc_trade_volume_24h"`
	AccValue   float64 `json:"acc_trade_price_24h"`
	ChangeRate float64 `json:"signed_change_rate"`
}

// OrderbookEntry is one price level
type OrderbookEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Orderbook is a depth snapshot for one market
type Orderbook struct {
	Market    string           `json:"market"`
	Bids      []OrderbookEntry `json:"bids"`
	Asks      []OrderbookEntry `json:"asks"`
	TotalBid  float64          `json:"total_bid_size"`
	TotalAsk  float64          `json:"total_ask_size"`
	Timestamp time.Time        `json:"timestamp"`
}

// Account is one currency balance
type Account struct {
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Locked      float64 `json:"locked"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}

// Order states as reported by the exchange
const (
	OrderStateWait   = "wait"
	OrderStateWatch  = "watch"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

// Order sides
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Order is an order placement or lookup result
type Order struct {
	UUID           string    `json:"uuid"`
	Market         string    `json:"market"`
	Side           string    `json:"side"`
	OrdType        string    `json:"ord_type"` // price (market buy), market (market sell), limit
	State          string    `json:"state"`
	Price          float64   `json:"price"`
	Volume         float64   `json:"volume"`
	ExecutedVolume float64   `json:"executed_volume"`
	ExecutedFunds  float64   `json:"executed_funds"`
	PaidFee        float64   `json:"paid_fee"`
	CreatedAt      time.Time `json:"created_at"`
}

// Done reports whether the order reached a terminal filled state
func (o *Order) Done() bool { return o.State == OrderStateDone }

// Cancelled reports whether the order reached a terminal cancelled state
func (o *Order) Cancelled() bool { return o.State == OrderStateCancel }
