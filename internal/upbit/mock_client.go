package upbit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockExchange is an in-memory Exchange used by tests and dry runs. Candles
// and balances are scripted by the caller; market orders fill after
// FillAfterPolls calls to GetOrder (0 = immediately).
type MockExchange struct {
	mu sync.Mutex

	Markets       []Market
	CandlesByUnit map[string]map[int][]Candle // market -> unit -> newest-first
	Tickers       map[string]Ticker
	Orderbooks    map[string]*Orderbook
	Balances      map[int64]map[string]*Account // userID -> currency

	FillAfterPolls int
	FeeRate        float64
	OrderErr       error // forced error on order placement

	orders    map[string]*mockOrder
	orderSeq  int
	pollCount map[string]int
}

type mockOrder struct {
	order  Order
	userID int64
}

// NewMockExchange creates an empty mock with a 0.05% fee
func NewMockExchange() *MockExchange {
	return &MockExchange{
		CandlesByUnit: make(map[string]map[int][]Candle),
		Tickers:       make(map[string]Ticker),
		Orderbooks:    make(map[string]*Orderbook),
		Balances:      make(map[int64]map[string]*Account),
		FeeRate:       0.0005,
		orders:        make(map[string]*mockOrder),
		pollCount:     make(map[string]int),
	}
}

// SetCandles scripts the candle response for one market/unit, newest-first
func (m *MockExchange) SetCandles(market string, unit int, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CandlesByUnit[market] == nil {
		m.CandlesByUnit[market] = make(map[int][]Candle)
	}
	m.CandlesByUnit[market][unit] = candles
}

// SetBalance scripts one currency balance for a user
func (m *MockExchange) SetBalance(userID int64, currency string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Balances[userID] == nil {
		m.Balances[userID] = make(map[string]*Account)
	}
	m.Balances[userID][currency] = &Account{Currency: currency, Balance: balance}
}

func (m *MockExchange) ListMarkets(ctx context.Context) ([]Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Markets) > 0 {
		return m.Markets, nil
	}
	out := make([]Market, 0, len(m.CandlesByUnit))
	for market := range m.CandlesByUnit {
		out = append(out, Market{Market: market})
	}
	return out, nil
}

func (m *MockExchange) MinuteCandles(ctx context.Context, market string, unit, count int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUnit, ok := m.CandlesByUnit[market]
	if !ok {
		return nil, fmt.Errorf("mock: no candles for %s", market)
	}
	candles := byUnit[unit]
	if len(candles) > count {
		candles = candles[:count]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (m *MockExchange) DayCandles(ctx context.Context, market string, count int) ([]Candle, error) {
	return m.MinuteCandles(ctx, market, 1440, count)
}

func (m *MockExchange) Ticker(ctx context.Context, markets []string) ([]Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Ticker, 0, len(markets))
	for _, market := range markets {
		if t, ok := m.Tickers[market]; ok {
			out = append(out, t)
			continue
		}
		// Fall back to the newest scripted candle
		if byUnit, ok := m.CandlesByUnit[market]; ok {
			for _, candles := range byUnit {
				if len(candles) > 0 {
					out = append(out, Ticker{Market: market, TradePrice: candles[0].Close})
					break
				}
			}
		}
	}
	return out, nil
}

func (m *MockExchange) Orderbook(ctx context.Context, market string) (*Orderbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ob, ok := m.Orderbooks[market]; ok {
		return ob, nil
	}
	return nil, fmt.Errorf("mock: no orderbook for %s", market)
}

func (m *MockExchange) Accounts(ctx context.Context, userID int64) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Account, 0, len(m.Balances[userID]))
	for _, acct := range m.Balances[userID] {
		out = append(out, *acct)
	}
	return out, nil
}

func (m *MockExchange) currentPrice(market string) float64 {
	if t, ok := m.Tickers[market]; ok {
		return t.TradePrice
	}
	if byUnit, ok := m.CandlesByUnit[market]; ok {
		for _, candles := range byUnit {
			if len(candles) > 0 {
				return candles[0].Close
			}
		}
	}
	return 0
}

func (m *MockExchange) placeOrder(userID int64, market, side, ordType string, volume, price float64) (*Order, error) {
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}
	m.orderSeq++
	order := Order{
		UUID:      fmt.Sprintf("mock-order-%d", m.orderSeq),
		Market:    market,
		Side:      side,
		OrdType:   ordType,
		State:     OrderStateWait,
		Price:     price,
		Volume:    volume,
		CreatedAt: time.Now(),
	}
	m.orders[order.UUID] = &mockOrder{order: order, userID: userID}
	if m.FillAfterPolls == 0 {
		m.fill(m.orders[order.UUID])
	}
	result := m.orders[order.UUID].order
	return &result, nil
}

// fill executes the order against the scripted price and settles balances
func (m *MockExchange) fill(mo *mockOrder) {
	price := m.currentPrice(mo.order.Market)
	if mo.order.OrdType == "limit" {
		price = mo.order.Price
	}
	if price <= 0 {
		mo.order.State = OrderStateCancel
		return
	}

	coin := coinCurrency(mo.order.Market)
	if m.Balances[mo.userID] == nil {
		m.Balances[mo.userID] = make(map[string]*Account)
	}
	balances := m.Balances[mo.userID]
	if balances["KRW"] == nil {
		balances["KRW"] = &Account{Currency: "KRW"}
	}
	if balances[coin] == nil {
		balances[coin] = &Account{Currency: coin}
	}

	if mo.order.Side == SideBid {
		// Market buys carry the KRW notional in Price
		funds := mo.order.Price
		if mo.order.OrdType == "limit" {
			funds = mo.order.Volume * price
		}
		fee := funds * m.FeeRate
		volume := (funds - fee) / price
		balances["KRW"].Balance -= funds
		balances[coin].Balance += volume
		balances[coin].AvgBuyPrice = price
		mo.order.ExecutedVolume = volume
		mo.order.ExecutedFunds = funds - fee
		mo.order.PaidFee = fee
	} else {
		funds := mo.order.Volume * price
		fee := funds * m.FeeRate
		balances[coin].Balance -= mo.order.Volume
		balances["KRW"].Balance += funds - fee
		mo.order.ExecutedVolume = mo.order.Volume
		mo.order.ExecutedFunds = funds - fee
		mo.order.PaidFee = fee
	}
	mo.order.State = OrderStateDone
}

func (m *MockExchange) BuyMarket(ctx context.Context, userID int64, market string, krwAmount float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeOrder(userID, market, SideBid, "price", 0, krwAmount)
}

func (m *MockExchange) SellMarket(ctx context.Context, userID int64, market string, volume float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeOrder(userID, market, SideAsk, "market", volume, 0)
}

func (m *MockExchange) BuyLimit(ctx context.Context, userID int64, market string, volume, price float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeOrder(userID, market, SideBid, "limit", volume, TickPrice(price))
}

func (m *MockExchange) SellLimit(ctx context.Context, userID int64, market string, volume, price float64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeOrder(userID, market, SideAsk, "limit", volume, TickPrice(price))
}

func (m *MockExchange) GetOrder(ctx context.Context, userID int64, uuid string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo, ok := m.orders[uuid]
	if !ok {
		return nil, fmt.Errorf("mock: order %s not found", uuid)
	}
	if mo.order.State == OrderStateWait {
		m.pollCount[uuid]++
		if m.pollCount[uuid] >= m.FillAfterPolls {
			m.fill(mo)
		}
	}
	result := mo.order
	return &result, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, userID int64, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo, ok := m.orders[uuid]
	if !ok {
		return fmt.Errorf("mock: order %s not found", uuid)
	}
	if mo.order.State == OrderStateWait || mo.order.State == OrderStateWatch {
		mo.order.State = OrderStateCancel
	}
	return nil
}

// coinCurrency extracts the coin symbol from a KRW-XXX market code
func coinCurrency(market string) string {
	for i := 0; i < len(market); i++ {
		if market[i] == '-' {
			return market[i+1:]
		}
	}
	return market
}
