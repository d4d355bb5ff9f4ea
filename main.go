package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/backtest"
	"upbit-trading-bot/internal/database"
	"upbit-trading-bot/internal/events"
	"upbit-trading-bot/internal/logging"
	"upbit-trading-bot/internal/position"
	"upbit-trading-bot/internal/risk"
	"upbit-trading-bot/internal/simulation"
	"upbit-trading-bot/internal/strategy"
	"upbit-trading-bot/internal/trader"
	"upbit-trading-bot/internal/tuner"
	"upbit-trading-bot/internal/upbit"
	"upbit-trading-bot/internal/workerpool"
)

// shutdownDrain bounds how long in-flight work may finish after a stop signal
const shutdownDrain = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()

	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		logger.Fatal("database connection failed", "error", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("database migrations failed", "error", err)
	}
	repo := database.NewRepository(db)

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cooldowns fall back to memory", "error", err)
		}
	}
	cooldowns := risk.NewCooldownRegistry(redisClient)

	var exchange upbit.Exchange
	if cfg.UpbitConfig.MockMode {
		logger.Warn("mock exchange enabled, orders are simulated")
		exchange = upbit.NewMockExchange()
	} else {
		logger.Fatal("no live exchange client configured; set upbit.mock_mode for dry runs")
	}

	// Strategy set: hour-parameterized impulse reads the tuner's rows
	hourParams := tuner.NewProvider(repo, nil)
	if err := hourParams.Refresh(ctx); err != nil {
		logger.Warn("hour param preload failed, defaults apply", "error", err)
	}
	registry := buildRegistry(hourParams)
	enabled := registry.Enabled(cfg.TradingConfig.EnabledStrategies)
	if len(enabled) == 0 {
		logger.Fatal("no enabled strategies", "requested", cfg.TradingConfig.EnabledStrategies)
	}
	aggregator := strategy.NewAggregator(enabled, nil)
	logger.Info("strategies enabled", "count", len(enabled))

	positionLog := zerolog.New(os.Stdout).With().
		Timestamp().Str("component", "position").Logger()
	tracker := position.NewTracker(repo, positionLog)

	riskManager := risk.NewManager(cfg.RiskConfig, repo, cooldowns, nil)

	liveTrader := trader.New(
		cfg.TradingConfig, exchange, aggregator, tracker, riskManager,
		repo, eventBus, nil,
	)
	scheduler := trader.NewScheduler(cfg.TradingConfig, liveTrader, liveUsers(cfg), nil)
	scheduler.Start(ctx)

	dailyTuner := tuner.New(cfg.TunerConfig, repo, eventBus, nil)
	if err := dailyTuner.Start(ctx); err != nil {
		logger.Fatal("tuner start failed", "error", err)
	}

	pool := workerpool.New(
		cfg.BacktestConfig.WorkerCore,
		cfg.BacktestConfig.WorkerMax,
		cfg.BacktestConfig.QueueSize,
	)
	supervisor := simulation.NewSupervisor(repo, pool, eventBus, cfg.SimulationConfig.InstanceID, nil)
	if err := supervisor.ReclaimInterrupted(ctx); err != nil {
		logger.Error("task reclaim failed", "error", err)
	}

	submitNightlyReplay(ctx, cfg, repo, supervisor, aggregator, pool, logger)

	logger.Info("engine started",
		"instance_id", cfg.SimulationConfig.InstanceID,
		"trading_enabled", cfg.TradingConfig.Enabled,
		"tuner_enabled", cfg.TunerConfig.Enabled)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	scheduler.Stop()
	dailyTuner.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		logger.Error("worker pool drain timed out", "error", err)
	}
	logger.Info("engine stopped")
}

// buildRegistry registers the bounded strategy set
func buildRegistry(hourParams strategy.HourParamProvider) *strategy.Registry {
	registry := strategy.NewRegistry()
	must := func(err error) {
		if err != nil {
			log.Fatalf("strategy registration failed: %v", err)
		}
	}
	must(registry.Register(strategy.NewBollingerBreakout(strategy.DefaultBollingerBreakoutConfig())))
	must(registry.Register(strategy.NewVolumeImpulse(strategy.DefaultVolumeImpulseConfig(), hourParams)))
	must(registry.Register(strategy.NewRSIReversal(strategy.DefaultRSIReversalConfig())))
	must(registry.Register(strategy.NewEMACross(strategy.DefaultEMACrossConfig())))
	must(registry.Register(strategy.NewATRMomentum(strategy.DefaultATRMomentumConfig())))
	return registry
}

// submitNightlyReplay queues a multi-market replay over the last week of
// stored candles when BACKTEST_ON_START is set. Duplicate submissions (same
// markets and window) dedup to the running task.
func submitNightlyReplay(
	ctx context.Context,
	cfg *config.Config,
	repo *database.Repository,
	supervisor *simulation.Supervisor,
	aggregator *strategy.Aggregator,
	pool *workerpool.Pool,
	logger *logging.Logger,
) {
	if os.Getenv("BACKTEST_ON_START") != "true" {
		return
	}

	unit := cfg.TradingConfig.CandleUnit
	to := time.Now()
	from := to.AddDate(0, 0, -7)

	marketNames, err := repo.CandleMarkets(ctx, unit)
	if err != nil || len(marketNames) == 0 {
		logger.Warn("startup replay skipped, no stored candles", "error", err)
		return
	}

	markets := make([]backtest.MarketBars, 0, len(marketNames))
	for _, market := range marketNames {
		bars, err := repo.CandleRange(ctx, market, unit, from, to)
		if err != nil {
			logger.Warn("candle load failed, market excluded", "market", market, "error", err)
			continue
		}
		markets = append(markets, backtest.MarketBars{Market: market, Bars: bars})
	}
	if len(markets) == 0 {
		return
	}

	runner := backtest.NewRunner(
		aggregator,
		cfg.TradingConfig.TradeFeeRate,
		cfg.TradingConfig.FeeBuffer(),
		cfg.BacktestConfig.InitialBalance,
	)
	multi := backtest.NewMultiRunner(runner, pool, nil)

	params := simulation.BacktestParams{
		Markets: marketNames,
		Unit:    unit,
		From:    from.Format("20060102"),
		To:      to.Format("20060102"),
	}
	taskID, err := supervisor.Submit(ctx, simulation.TypeMultiBacktest, params,
		len(markets), simulation.BacktestTask(multi, markets))
	if err != nil {
		logger.Error("startup replay submission failed", "error", err)
		return
	}
	logger.Info("startup replay submitted", "task_id", taskID, "markets", len(markets))
}

// liveUsers resolves the enabled user set. Single-operator deployments run
// one user over the configured markets.
func liveUsers(cfg *config.Config) []trader.UserMarkets {
	userID := int64(1)
	if raw := os.Getenv("TRADING_USER_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			userID = parsed
		}
	}
	return []trader.UserMarkets{{UserID: userID, Markets: cfg.TradingConfig.Markets}}
}
