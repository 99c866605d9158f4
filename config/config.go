package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"autotrader-simv1/internal/execution"
	"autotrader-simv1/internal/risk"
	"autotrader-simv1/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Simulation
	InitialBalance float64
	Simulator      execution.Config
	Risk           risk.Limits
	Engine         strategy.Config
	StrategiesFile string

	// Market data
	FeedURL     string
	Instruments string // comma-separated; empty = every strategy's instrument
	RecordTicks bool
	RecordBar   time.Duration // recorded ticks are compacted into bars this wide

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	SQLitePath    string // recorded ticks
	JournalPath   string // orders and trades
	HTTPAddr      string
	MetricsAddr   string

	// Logging
	LogLevel string
	LogFile  string

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	sim := execution.DefaultConfig()
	lim := risk.DefaultLimits()
	eng := strategy.DefaultConfig()

	return &Config{
		InitialBalance: getFloat("SIM_INITIAL_BALANCE", 100000),
		Simulator: execution.Config{
			PlacementDelay:     getDuration("SIM_PLACEMENT_DELAY", sim.PlacementDelay),
			FillDelay:          getDuration("SIM_FILL_DELAY", sim.FillDelay),
			PartialFillDelay:   getDuration("SIM_PARTIAL_FILL_DELAY", sim.PartialFillDelay),
			SlippagePct:        getFloat("SIM_SLIPPAGE_PCT", sim.SlippagePct),
			RejectionRate:      getFloat("SIM_REJECTION_RATE", sim.RejectionRate),
			PartialFillProb:    getFloat("SIM_PARTIAL_FILL_PROB", sim.PartialFillProb),
			MinPartialFraction: getFloat("SIM_MIN_PARTIAL_FRACTION", sim.MinPartialFraction),
			Seed:               int64(getInt("SIM_SEED", 0)),
		},
		Risk: risk.Limits{
			MaxLossPerDay:         getFloat("RISK_MAX_LOSS_PER_DAY", lim.MaxLossPerDay),
			MaxTradesPerDay:       getInt("RISK_MAX_TRADES_PER_DAY", lim.MaxTradesPerDay),
			MaxCapitalPerOrderPct: getFloat("RISK_MAX_CAPITAL_PER_ORDER_PCT", lim.MaxCapitalPerOrderPct),
			MaxOpenPositions:      getInt("RISK_MAX_OPEN_POSITIONS", lim.MaxOpenPositions),
			MaxDrawdownPct:        getFloat("RISK_MAX_DRAWDOWN_PCT", lim.MaxDrawdownPct),
		},
		Engine: strategy.Config{
			Workers:           getInt("ENGINE_WORKERS", eng.Workers),
			QueueSize:         getInt("ENGINE_QUEUE_SIZE", eng.QueueSize),
			MaxInflightOrders: getInt("ENGINE_MAX_INFLIGHT_ORDERS", eng.MaxInflightOrders),
			MarginRate:        getFloat("ENGINE_MARGIN_RATE", eng.MarginRate),
			WindowSize:        getInt("ENGINE_WINDOW_SIZE", eng.WindowSize),
		},
		StrategiesFile: getEnv("STRATEGIES_FILE", "config/strategies.yaml"),

		FeedURL:     getEnv("FEED_URL", "ws://localhost:8765/ws"),
		Instruments: getEnv("INSTRUMENTS", ""),
		RecordTicks: getBool("RECORD_TICKS", true),
		RecordBar:   getDuration("RECORD_BAR", time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisPrefix:   getEnv("REDIS_PREFIX", "simengine"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/ticks.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// ParseInstruments splits Instruments into a trimmed list.
func (c *Config) ParseInstruments() []string {
	parts := strings.Split(c.Instruments, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
