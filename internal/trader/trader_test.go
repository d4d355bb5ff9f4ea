package trader

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/position"
	"upbit-trading-bot/internal/risk"
	"upbit-trading-bot/internal/strategy"
	"upbit-trading-bot/internal/upbit"
)

// voteStrategy casts a fixed vote; the action can be swapped between ticks
type voteStrategy struct {
	mu     sync.Mutex
	action strategy.Action
	reason strategy.ExitReason
}

func (s *voteStrategy) set(action strategy.Action) {
	s.mu.Lock()
	s.action = action
	s.mu.Unlock()
}

func (s *voteStrategy) Name() string   { return "vote" }
func (s *voteStrategy) MinWindow() int { return 1 }

func (s *voteStrategy) Analyze(market string, window []upbit.Candle) (strategy.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strategy.Signal{Action: s.action, ExitReason: s.reason}, nil
}

func (s *voteStrategy) AnalyzeForBacktest(market string, window []upbit.Candle, pos *strategy.PositionView, scratch *strategy.Scratch) (strategy.Signal, error) {
	return s.Analyze(market, window)
}

func (s *voteStrategy) TargetPrice(market string) *float64   { return nil }
func (s *voteStrategy) StopLossPrice(market string) *float64 { return nil }
func (s *voteStrategy) EntryPrice(market string) *float64    { return nil }
func (s *voteStrategy) ClearPosition(market string)          {}

// posRepo is an in-memory position store shared by the tracker and the risk
// gates
type posRepo struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]*position.Position
}

func newPosRepo() *posRepo {
	return &posRepo{positions: make(map[int64]*position.Position)}
}

func (r *posRepo) CreatePosition(ctx context.Context, p *position.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.positions[p.ID] = &cp
	return nil
}

func (r *posRepo) UpdatePosition(ctx context.Context, p *position.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.positions[p.ID] = &cp
	return nil
}

func (r *posRepo) FindActivePosition(ctx context.Context, userID int64, market string) (*position.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.positions {
		if p.UserID == userID && p.Market == market && p.Open() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *posRepo) CountActivePositions(ctx context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.positions {
		if p.UserID == userID && p.Open() {
			n++
		}
	}
	return n, nil
}

func (r *posRepo) HasActivePosition(ctx context.Context, userID int64, market string) (bool, error) {
	p, err := r.FindActivePosition(ctx, userID, market)
	return p != nil, err
}

func (r *posRepo) TodayRealizedLoss(ctx context.Context, userID int64, now time.Time) (float64, error) {
	return 0, nil
}

func (r *posRepo) ConsecutiveLosses(ctx context.Context, userID int64) (int, error) {
	return 0, nil
}

func (r *posRepo) FindStalePositions(ctx context.Context, olderThan time.Time) ([]*position.Position, error) {
	return nil, nil
}

// captureStore records inserted trade rows
type captureStore struct {
	mu      sync.Mutex
	records []*database.TradeRecord
	stats   []*database.TradeStat
}

func (s *captureStore) InsertTradeRecord(ctx context.Context, rec *database.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *captureStore) InsertTradeStat(ctx context.Context, stat *database.TradeStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, stat)
	return nil
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		Enabled:              true,
		CandleUnit:           5,
		TradeFeeRate:         0.0005,
		StopLossRate:         -0.05,
		TrailingStopRate:     0.02,
		TrailingArmRate:      0.03,
		OrderCheckMaxRetry:   10,
		OrderCheckIntervalMs: 1,
		MarketFallback:       true,
	}
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxConcurrentPositions: 3,
		MaxPositionSizeRate:    0.3,
		MaxDailyLossRate:       0.05,
		MaxConsecutiveLosses:   3,
		CooldownMinutes:        60,
		StopLossAtrMultiplier:  1.5,
		TrailingAtrMultiplier:  2.0,
		StopLossMinRate:        0.01,
		StopLossMaxRate:        0.05,
		EntryRatio:             [3]float64{0.5, 0.3, 0.2},
	}
}

type harness struct {
	trader   *Trader
	exchange *upbit.MockExchange
	repo     *posRepo
	store    *captureStore
	vote     *voteStrategy
}

func newHarness(t *testing.T, cfg config.TradingConfig) *harness {
	t.Helper()
	exchange := upbit.NewMockExchange()
	repo := newPosRepo()
	store := &captureStore{}
	vote := &voteStrategy{action: strategy.ActionHold}

	aggregator := strategy.NewAggregator([]strategy.Strategy{vote}, nil)
	tracker := position.NewTracker(repo, zerolog.Nop())
	riskManager := risk.NewManager(testRiskConfig(), repo, risk.NewCooldownRegistry(nil), nil)

	return &harness{
		trader:   New(cfg, exchange, aggregator, tracker, riskManager, store, nil, nil),
		exchange: exchange,
		repo:     repo,
		store:    store,
		vote:     vote,
	}
}

func scriptedCandles(close float64, count int) []upbit.Candle {
	out := make([]upbit.Candle, count)
	now := time.Now()
	for i := range out {
		out[i] = upbit.Candle{
			KST:   now.Add(-time.Duration(i) * 5 * time.Minute),
			Open:  close, High: close * 1.01, Low: close * 0.99, Close: close,
			Volume: 10,
		}
	}
	return out
}

func TestTickEntryFillsFirstPhase(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)
	h.vote.set(strategy.ActionBuy)

	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	pos, err := h.repo.FindActivePosition(ctx, 1, "KRW-BTC")
	if err != nil || pos == nil {
		t.Fatalf("no position after buy tick: %v", err)
	}
	if pos.Status != position.StatusActive || pos.EntryPhase != 1 {
		t.Fatalf("position = %s phase %d, want ACTIVE phase 1", pos.Status, pos.EntryPhase)
	}
	if math.Abs(pos.AvgEntryPrice-50_000) > 1e-6 {
		t.Errorf("avg entry = %f, want 50000", pos.AvgEntryPrice)
	}

	// Invested equals the committed spend: notional scaled by the fee buffer
	cfg := testTradingConfig()
	notional := 1_000_000 * 0.3 * 0.5
	wantInvested := notional * cfg.FeeBuffer()
	if math.Abs(pos.TotalInvested-wantInvested) > 1e-6 {
		t.Errorf("invested = %f, want %f", pos.TotalInvested, wantInvested)
	}
	if pos.StopLossPrice <= 0 || pos.StopLossPrice >= 50_000 {
		t.Errorf("stop loss = %f, want below entry", pos.StopLossPrice)
	}

	if len(h.store.records) != 1 || h.store.records[0].Side != upbit.SideBid {
		t.Errorf("trade records = %+v, want one bid", h.store.records)
	}
}

func TestTickHoldDoesNothing(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)

	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC"); pos != nil {
		t.Errorf("hold vote opened a position: %+v", pos)
	}
	if len(h.store.records) != 0 {
		t.Errorf("hold vote recorded trades: %+v", h.store.records)
	}
}

func TestTickQuorumExitClosesPosition(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)

	h.vote.set(strategy.ActionBuy)
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("entry tick: %v", err)
	}

	// Price moves up, the lone strategy flips to sell
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(55_000, 20))
	h.vote.set(strategy.ActionSell)
	h.vote.reason = strategy.ExitTakeProfit
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("exit tick: %v", err)
	}

	if pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC"); pos != nil {
		t.Fatalf("position still open after exit: %+v", pos)
	}

	if len(h.store.stats) != 1 {
		t.Fatalf("trade stats = %d, want 1", len(h.store.stats))
	}
	stat := h.store.stats[0]
	if !stat.Success || stat.ProfitRate <= 0 {
		t.Errorf("stat = success=%v rate=%f, want a win", stat.Success, stat.ProfitRate)
	}
	if stat.ExitReason != string(strategy.ExitTakeProfit) {
		t.Errorf("exit reason = %s", stat.ExitReason)
	}
	if stat.EntryHour < 0 || stat.EntryHour > 23 {
		t.Errorf("entry hour = %d", stat.EntryHour)
	}

	// Buy record then sell record
	if len(h.store.records) != 2 || h.store.records[1].Side != upbit.SideAsk {
		t.Fatalf("records = %+v, want bid then ask", h.store.records)
	}
	if h.store.records[1].ProfitRate <= 0 {
		t.Errorf("sell record profit rate = %f", h.store.records[1].ProfitRate)
	}
}

func TestTickHardStopBeatsQuorum(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)

	h.vote.set(strategy.ActionBuy)
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("entry tick: %v", err)
	}
	pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC")

	// Price crashes through the hard stop; the hold vote provides no quorum,
	// the stop fires anyway
	crash := pos.StopLossPrice * 0.99
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(crash, 20))
	h.vote.set(strategy.ActionHold)
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("stop tick: %v", err)
	}

	if pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC"); pos != nil {
		t.Fatalf("position survived the hard stop: %+v", pos)
	}
	stat := h.store.stats[0]
	if stat.Success || stat.ExitReason != string(strategy.ExitStopLossFixed) {
		t.Errorf("stat = %+v, want fixed-stop loss", stat)
	}
}

func TestTickRiskDenialBlocksEntry(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetCandles("KRW-ETH", 5, scriptedCandles(3_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)

	// Fill the concurrent-position cap with seeded rows
	for i, market := range []string{"KRW-XRP", "KRW-SOL", "KRW-ADA"} {
		_ = h.repo.CreatePosition(ctx, &position.Position{
			UserID: 1, Market: market, Status: position.StatusActive,
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}

	h.vote.set(strategy.ActionBuy)
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC"); pos != nil {
		t.Errorf("entry opened past the position cap: %+v", pos)
	}
}

func TestTickSkipsTransitionalPosition(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))

	_ = h.repo.CreatePosition(ctx, &position.Position{
		UserID: 1, Market: "KRW-BTC", Status: position.StatusExiting,
		Quantity: 1, AvgEntryPrice: 50_000,
	})

	h.vote.set(strategy.ActionSell)
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(h.store.records) != 0 {
		t.Errorf("transitional position traded: %+v", h.store.records)
	}
}

func TestAwaitFillPolling(t *testing.T) {
	h := newHarness(t, testTradingConfig())
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)
	h.exchange.FillAfterPolls = 3

	h.vote.set(strategy.ActionBuy)
	if err := h.trader.Tick(ctx, 1, "KRW-BTC"); err != nil {
		t.Fatalf("Tick with delayed fill: %v", err)
	}
	pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC")
	if pos == nil || pos.Status != position.StatusActive {
		t.Fatalf("delayed fill did not land: %+v", pos)
	}
}

func TestEntryTimeoutAbandonsPending(t *testing.T) {
	cfg := testTradingConfig()
	cfg.OrderCheckMaxRetry = 2
	cfg.MarketFallback = false
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.exchange.SetCandles("KRW-BTC", 5, scriptedCandles(50_000, 20))
	h.exchange.SetBalance(1, "KRW", 1_000_000)
	h.exchange.FillAfterPolls = 100 // never fills within budget

	h.vote.set(strategy.ActionBuy)
	err := h.trader.Tick(ctx, 1, "KRW-BTC")
	if !errors.Is(err, ErrFillTimeout) {
		t.Fatalf("expected fill timeout, got %v", err)
	}

	// The abandoned first phase must not block the pair
	if pos, _ := h.repo.FindActivePosition(ctx, 1, "KRW-BTC"); pos != nil {
		t.Errorf("abandoned entry left an open position: %+v", pos)
	}
}
