// Command backtest replays the strategy set over stored candles for a date
// range and prints the per-market results and the aggregate summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/backtest"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/strategy"
	"upbit-trading-bot/internal/workerpool"
)

func main() {
	var (
		marketsFlag  = flag.String("markets", "", "comma-separated markets (empty = all stored)")
		strategyFlag = flag.String("strategy", "", "single strategy name (empty = aggregator)")
		unitFlag     = flag.Int("unit", 0, "minute-candle unit (0 = configured default)")
		fromFlag     = flag.String("from", "", "start date, YYYYMMDD (required)")
		toFlag       = flag.String("to", "", "end date, YYYYMMDD (required)")
		balanceFlag  = flag.Float64("balance", 0, "initial KRW balance (0 = configured default)")
	)
	flag.Parse()

	if *fromFlag == "" || *toFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	from, err := parseDay(*fromFlag, false)
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}
	to, err := parseDay(*toFlag, true)
	if err != nil {
		log.Fatalf("invalid -to: %v", err)
	}
	if to.Before(from) {
		log.Fatalf("-to %s is before -from %s", *toFlag, *fromFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logging.SetDefault(logging.New(&logging.Config{
		Level:      "WARN",
		Output:     "stderr",
		JSONFormat: false,
		Component:  "backtest",
	}))

	unit := cfg.TradingConfig.CandleUnit
	if *unitFlag > 0 {
		unit = *unitFlag
	}
	balance := cfg.BacktestConfig.InitialBalance
	if *balanceFlag > 0 {
		balance = *balanceFlag
	}

	ctx := context.Background()
	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	eval, err := buildEvaluator(ctx, cfg, repo, *strategyFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	marketNames := splitMarkets(*marketsFlag)
	if len(marketNames) == 0 {
		marketNames, err = repo.CandleMarkets(ctx, unit)
		if err != nil {
			log.Fatalf("failed to list stored markets: %v", err)
		}
		if len(marketNames) == 0 {
			log.Fatalf("no stored candles for unit %d", unit)
		}
	}

	markets := make([]backtest.MarketBars, 0, len(marketNames))
	for _, market := range marketNames {
		bars, err := repo.CandleRange(ctx, market, unit, from, to)
		if err != nil {
			log.Fatalf("candle load failed for %s: %v", market, err)
		}
		markets = append(markets, backtest.MarketBars{Market: market, Bars: bars})
	}

	runner := backtest.NewRunner(eval, cfg.TradingConfig.TradeFeeRate,
		cfg.TradingConfig.FeeBuffer(), balance)
	pool := workerpool.New(cfg.BacktestConfig.WorkerCore,
		cfg.BacktestConfig.WorkerMax, cfg.BacktestConfig.QueueSize)
	multi := backtest.NewMultiRunner(runner, pool, nil)

	summary, err := multi.Run(ctx, markets, nil)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	printSummary(summary)
}

// parseDay expands YYYYMMDD to a local day bound: start of day, or end of
// day when endOfDay is set.
func parseDay(s string, endOfDay bool) (time.Time, error) {
	t, err := time.ParseInLocation("20060102", s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

func splitMarkets(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// buildEvaluator assembles the decision surface: the full aggregator, or one
// strategy when -strategy names it. Hour parameters are snapshotted up front
// so the replay itself never touches the database.
func buildEvaluator(ctx context.Context, cfg *config.Config, repo *database.Repository, single string) (backtest.Evaluator, error) {
	static := strategy.StaticHourParams{}
	if rows, err := repo.GetHourParams(ctx); err == nil {
		for hour, row := range rows {
			static[hour] = strategy.ImpulseParams{
				MinExecStrength:  row.MinExecutionStrength,
				MinZScore:        row.MinZScore,
				VolumeMultiplier: row.VolumeMultiplier,
				Enabled:          row.Enabled,
			}
		}
	}

	registry := strategy.NewRegistry()
	for _, s := range []strategy.Strategy{
		strategy.NewBollingerBreakout(strategy.DefaultBollingerBreakoutConfig()),
		strategy.NewVolumeImpulse(strategy.DefaultVolumeImpulseConfig(), static),
		strategy.NewRSIReversal(strategy.DefaultRSIReversalConfig()),
		strategy.NewEMACross(strategy.DefaultEMACrossConfig()),
		strategy.NewATRMomentum(strategy.DefaultATRMomentumConfig()),
	} {
		if err := registry.Register(s); err != nil {
			return nil, err
		}
	}

	if single != "" {
		s, ok := registry.Get(single)
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q (have: %s)",
				single, strings.Join(registry.Names(), ", "))
		}
		return backtest.SingleStrategy{S: s}, nil
	}
	return strategy.NewAggregator(registry.Enabled(cfg.TradingConfig.EnabledStrategies), nil), nil
}

func printSummary(summary *backtest.Summary) {
	fmt.Printf("%-12s %8s %8s %8s %6s %6s %6s\n",
		"MARKET", "PROFIT%", "MDD%", "B&H%", "BUYS", "SELLS", "WIN%")
	for _, r := range summary.Results {
		fmt.Printf("%-12s %8.2f %8.2f %8.2f %6d %6d %6.1f\n",
			r.Market, r.TotalProfitRate*100, r.MaxDrawdown*100, r.BuyHoldRate*100,
			r.BuyCount, r.SellCount, r.WinRate*100)

		if len(r.ExitReasons) > 0 {
			reasons := make([]string, 0, len(r.ExitReasons))
			for reason, count := range r.ExitReasons {
				reasons = append(reasons, fmt.Sprintf("%s=%d", reason, count))
			}
			sort.Strings(reasons)
			fmt.Printf("  exits: %s\n", strings.Join(reasons, " "))
		}
	}

	for market, msg := range summary.Failed {
		fmt.Printf("%-12s FAILED: %s\n", market, msg)
	}

	fmt.Printf("\nbest %s (%.2f%%)  worst %s (%.2f%%)  average %.2f%%\n",
		summary.Best.Market, summary.Best.TotalProfitRate*100,
		summary.Worst.Market, summary.Worst.TotalProfitRate*100,
		summary.Average*100)
}
