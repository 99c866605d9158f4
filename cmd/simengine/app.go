package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"autotrader-simv1/config"
	"autotrader-simv1/internal/activity"
	"autotrader-simv1/internal/execution"
	"autotrader-simv1/internal/logger"
	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/notification"
	"autotrader-simv1/internal/portfolio"
	"autotrader-simv1/internal/risk"
	redisstore "autotrader-simv1/internal/store/redis"
	"autotrader-simv1/internal/strategy"
)

// app is the wired engine and its collaborators.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	bus      *activity.Bus
	sim      *execution.Simulator
	guard    *risk.Guard
	engine   *strategy.Engine
	journal  *execution.Journal
	redis    *redisstore.Publisher

	closers []func()
}

type appOptions struct {
	service string
	clock   func() time.Time // nil = wall clock
	journal bool
	redis   bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	logger.Init(opts.service, logger.ParseLevel(cfg.LogLevel), logger.WithFile(cfg.LogFile, 100, 5, 28))

	a := &app{cfg: cfg, registry: prometheus.NewRegistry(), health: metrics.NewHealthStatus()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)

	a.bus = activity.New(1000)
	a.bus.OnPublish = a.metrics.Event
	a.sim = execution.NewSimulator(cfg.Simulator)
	a.guard = risk.NewGuard(cfg.Risk)
	if opts.clock != nil {
		a.bus.SetClock(opts.clock)
		a.sim.SetClock(opts.clock)
		a.guard.SetClock(opts.clock)
	}

	reg := strategy.NewRegistry()
	if n, err := config.SeedRegistry(reg, cfg.StrategiesFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		slog.Warn("strategy file not found, starting empty", "path", cfg.StrategiesFile)
	} else {
		slog.Info("strategies loaded", "count", n, "path", cfg.StrategiesFile)
	}

	engOpts := []strategy.Option{strategy.WithMetrics(a.metrics), strategy.WithHealth(a.health)}
	if opts.clock != nil {
		engOpts = append(engOpts, strategy.WithClock(opts.clock))
	}
	if opts.journal {
		if err := ensureDir(cfg.JournalPath); err != nil {
			return nil, err
		}
		j, err := execution.NewJournal(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		a.journal = j
		a.closers = append(a.closers, func() { j.Close() })
		engOpts = append(engOpts, strategy.WithRecorder(j))
	}

	a.engine = strategy.NewEngine(cfg.Engine, reg, a.sim,
		portfolio.NewWallet(cfg.InitialBalance), portfolio.NewLedger(), a.guard, a.bus, engOpts...)
	a.closers = append(a.closers, a.engine.Close)

	a.closers = append(a.closers, notification.Forward(a.bus, notifier(cfg), 10*time.Second))

	if opts.redis && cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisPrefix,
		}, a.metrics)
		if err != nil {
			slog.Warn("redis unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
		} else {
			a.redis = pub
			a.health.SetRedisEnabled(true)
			a.closers = append(a.closers, func() { pub.Close() })
		}
	}
	return a, nil
}

// start launches the background publishers and health probes.
func (a *app) start(ctx context.Context) {
	var rdb *goredis.Client
	if a.redis != nil {
		rdb = a.redis.Client()
		go a.redis.Run(ctx, a.bus.Channel(ctx, 1024))
		go a.redis.RunSnapshots(ctx, 5*time.Second, func() map[string]any {
			return map[string]any{
				"engine":    a.engine.Snapshot(),
				"positions": a.engine.OpenPositions(),
			}
		})
	}
	if a.journal != nil || rdb != nil {
		a.health.StartLivenessChecker(ctx, rdb, a.journalDB(), 10*time.Second)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.metrics.Wallet(a.engine.Wallet(), len(a.engine.OpenPositions()))
			}
		}
	}()
}

// close releases everything in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.bus.Close()
}

func (a *app) journalDB() *sql.DB {
	if a.journal == nil {
		return nil
	}
	return a.journal.DB()
}

func notifier(cfg *config.Config) notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		multi = append(multi, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return multi
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return nil
}

// autostart starts the engine when the seed file activated a strategy.
func autostart(eng *strategy.Engine) error {
	if eng.Registry().Count(model.StrategyActive) == 0 {
		slog.Info("no active strategies, engine left stopped")
		return nil
	}
	return eng.Start()
}
