package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	UpbitConfig      UpbitConfig      `json:"upbit"`
	TradingConfig    TradingConfig    `json:"trading"`
	RiskConfig       RiskConfig       `json:"risk"`
	BacktestConfig   BacktestConfig   `json:"backtest"`
	TunerConfig      TunerConfig      `json:"tuner"`
	SimulationConfig SimulationConfig `json:"simulation"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// UpbitConfig holds exchange adapter configuration
type UpbitConfig struct {
	BaseURL        string `json:"base_url"`
	ConnectTimeout int    `json:"connect_timeout_seconds"` // Connect timeout for market data calls
	ReadTimeout    int    `json:"read_timeout_seconds"`    // Read timeout for market data calls
	MockMode       bool   `json:"mock_mode"`               // Use simulated data when the exchange is unavailable
}

// TradingConfig holds live trading loop configuration
type TradingConfig struct {
	Enabled              bool     `json:"enabled"`                 // Gate the live scheduler
	TickIntervalMinutes  int      `json:"tick_interval_minutes"`   // Evaluation period per user
	CandleUnit           int      `json:"candle_unit"`             // Minute-candle unit
	TradeFeeRate         float64  `json:"trade_fee_rate"`          // Applied symmetrically on both sides
	StopLossRate         float64  `json:"stop_loss_rate"`          // Default stop-loss rate (negative)
	TakeProfitRate       float64  `json:"take_profit_rate"`        // Default take-profit rate
	TrailingStopRate     float64  `json:"trailing_stop_rate"`      // Trailing distance from highest
	TrailingArmRate      float64  `json:"trailing_arm_rate"`       // Profit rate that arms the trailing stop
	MinWindowAggregate   int      `json:"min_window_aggregate"`    // Candle window for the aggregator path
	MinWindowSingle      int      `json:"min_window_single"`       // Candle window for single-strategy paths
	EnabledStrategies    []string `json:"enabled_strategies"`      // Empty = all registered
	Markets              []string `json:"markets"`                 // Markets the live loop covers
	OrderCheckMaxRetry   int      `json:"order_check_max_retry"`   // Fill-confirmation poll attempts
	OrderCheckIntervalMs int      `json:"order_check_interval_ms"` // Fill-confirmation poll interval
	MarketFallback       bool     `json:"market_fallback"`         // Convert unfilled remainder to market order
	MaxHoldingHours      int      `json:"max_holding_hours"`       // Flag positions older than this
}

type RiskConfig struct {
	MaxConcurrentPositions int        `json:"max_concurrent_positions"`
	MaxPositionSizeRate    float64    `json:"max_position_size_rate"` // Of balance, per position
	MaxDailyLossRate       float64    `json:"max_daily_loss_rate"`    // Of balance, per day
	MaxConsecutiveLosses   int        `json:"max_consecutive_losses"`
	CooldownMinutes        int        `json:"cooldown_minutes"`
	StopLossAtrMultiplier  float64    `json:"stop_loss_atr_multiplier"`
	TrailingAtrMultiplier  float64    `json:"trailing_atr_multiplier"`
	StopLossMinRate        float64    `json:"stop_loss_min_rate"` // Clamp floor for ATR stops
	StopLossMaxRate        float64    `json:"stop_loss_max_rate"` // Clamp ceiling for ATR stops
	EntryRatio             [3]float64 `json:"entry_ratio"`        // Phase sizing ratios, phases 1-3
}

type BacktestConfig struct {
	WorkerCore     int     `json:"worker_core"`
	WorkerMax      int     `json:"worker_max"`
	QueueSize      int     `json:"queue_size"`
	InitialBalance float64 `json:"initial_balance"`
}

type TunerConfig struct {
	Enabled    bool   `json:"enabled"`
	RunAt      string `json:"run_at"`      // "HH:MM" local time, once per day
	MinSamples int    `json:"min_samples"` // Hours with fewer trades are skipped
}

type SimulationConfig struct {
	InstanceID string `json:"instance_id"` // Owner tag for task rows, defaults to hostname
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// Default returns a configuration with every documented default applied.
func Default() *Config {
	return &Config{
		UpbitConfig: UpbitConfig{
			BaseURL:        "https://api.upbit.com",
			ConnectTimeout: 3,
			ReadTimeout:    3,
		},
		TradingConfig: TradingConfig{
			Enabled:              false,
			TickIntervalMinutes:  5,
			CandleUnit:           5,
			TradeFeeRate:         0.0005,
			StopLossRate:         -0.03,
			TakeProfitRate:       0.05,
			TrailingStopRate:     0.02,
			TrailingArmRate:      0.02,
			MinWindowAggregate:   100,
			MinWindowSingle:      30,
			Markets:              []string{"KRW-BTC"},
			OrderCheckMaxRetry:   10,
			OrderCheckIntervalMs: 500,
			MarketFallback:       true,
			MaxHoldingHours:      6,
		},
		RiskConfig: RiskConfig{
			MaxConcurrentPositions: 3,
			MaxPositionSizeRate:    0.3,
			MaxDailyLossRate:       0.05,
			MaxConsecutiveLosses:   3,
			CooldownMinutes:        30,
			StopLossAtrMultiplier:  1.5,
			TrailingAtrMultiplier:  2.0,
			StopLossMinRate:        0.01,
			StopLossMaxRate:        0.05,
			EntryRatio:             [3]float64{0.5, 0.3, 0.2},
		},
		BacktestConfig: BacktestConfig{
			WorkerCore:     2,
			WorkerMax:      4,
			QueueSize:      10,
			InitialBalance: 1_000_000,
		},
		TunerConfig: TunerConfig{
			Enabled:    true,
			RunAt:      "04:30",
			MinSamples: 20,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "upbit_bot",
			Password: "upbit_bot_password",
			Database: "upbit_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// MajorityThreshold returns the minimum Buy or Sell votes needed for a
// quorum among n participating strategies.
func MajorityThreshold(n int) int {
	return n/2 + 1
}

// FeeBuffer returns the fraction of available KRW a market buy may spend.
// The 0.99 headroom assumed a fee rate below 1%; keep the buffer a function
// of the configured rate so a raised fee never starves the fill.
func (c *TradingConfig) FeeBuffer() float64 {
	buffer := 1 - 2*c.TradeFeeRate
	if buffer > 0.99 {
		return 0.99
	}
	return buffer
}

// Load reads configuration from CONFIG_FILE (default config.json when the
// file exists), then applies environment overrides on top of defaults.
func Load() (*Config, error) {
	// Best effort; a missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	path := getEnvOrDefault("CONFIG_FILE", "config.json")
	if _, err := os.Stat(path); err == nil {
		loaded, err := loadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.TradingConfig.TradeFeeRate < 0 || c.TradingConfig.TradeFeeRate >= 0.5 {
		return fmt.Errorf("trade_fee_rate out of range: %f", c.TradingConfig.TradeFeeRate)
	}
	if c.TradingConfig.StopLossRate >= 0 {
		return fmt.Errorf("stop_loss_rate must be negative, got %f", c.TradingConfig.StopLossRate)
	}
	if c.TradingConfig.MinWindowAggregate < c.TradingConfig.MinWindowSingle {
		return fmt.Errorf("min_window_aggregate (%d) below min_window_single (%d)",
			c.TradingConfig.MinWindowAggregate, c.TradingConfig.MinWindowSingle)
	}
	if c.BacktestConfig.WorkerCore < 1 || c.BacktestConfig.WorkerMax < c.BacktestConfig.WorkerCore {
		return fmt.Errorf("invalid backtest worker bounds core=%d max=%d",
			c.BacktestConfig.WorkerCore, c.BacktestConfig.WorkerMax)
	}
	var ratioSum float64
	for _, r := range c.RiskConfig.EntryRatio {
		if r < 0 {
			return fmt.Errorf("entry_ratio must be non-negative")
		}
		ratioSum += r
	}
	if ratioSum > 1.0+1e-9 {
		return fmt.Errorf("entry_ratio sum %f exceeds 1.0", ratioSum)
	}
	if _, err := ParseRunAt(c.TunerConfig.RunAt); err != nil {
		return fmt.Errorf("invalid tuner run_at: %w", err)
	}
	return nil
}

// ParseRunAt parses an "HH:MM" wall-clock time into hour and minute.
func ParseRunAt(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.TradingConfig.Enabled = getEnvOrDefault("TRADING_ENABLED", boolStr(cfg.TradingConfig.Enabled)) == "true"
	cfg.TradingConfig.TickIntervalMinutes = getEnvIntOrDefault("TRADING_TICK_INTERVAL_MINUTES", cfg.TradingConfig.TickIntervalMinutes)
	cfg.TradingConfig.TradeFeeRate = getEnvFloatOrDefault("TRADING_FEE_RATE", cfg.TradingConfig.TradeFeeRate)
	if markets := os.Getenv("TRADING_MARKETS"); markets != "" {
		cfg.TradingConfig.Markets = strings.Split(markets, ",")
	}

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)

	if cfg.SimulationConfig.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		cfg.SimulationConfig.InstanceID = getEnvOrDefault("INSTANCE_ID", host)
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
