package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autotrader-simv1/internal/gateway"
	"autotrader-simv1/internal/marketdata/agg"
	"autotrader-simv1/internal/marketdata/tee"
	"autotrader-simv1/internal/marketdata/wsfeed"
	"autotrader-simv1/internal/metrics"
	"autotrader-simv1/internal/model"
	sqlitestore "autotrader-simv1/internal/store/sqlite"
)

var (
	runNoStart bool
	runFeedURL string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against the live tick feed with the REST/WebSocket API",
	RunE:  runLive,
}

func init() {
	runCmd.Flags().BoolVar(&runNoStart, "no-start", false, "leave the engine stopped until POST /api/v1/engine/start")
	runCmd.Flags().StringVar(&runFeedURL, "feed", "", "tick WebSocket URL (overrides FEED_URL)")
}

func runLive(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if runFeedURL != "" {
		cfg.FeedURL = runFeedURL
	}

	a, err := newApp(cfg, appOptions{service: "simengine", journal: true, redis: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Feed, optionally teed into the tick store ----
	feed, err := wsfeed.New(wsfeed.Config{URL: cfg.FeedURL, Buffer: 1024}, a.metrics, a.health)
	if err != nil {
		return err
	}
	source := tee.New(feed)
	if cfg.RecordTicks {
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return err
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			return err
		}
		defer w.Close()
		bars := make(chan model.Candle, 1024)
		go agg.New(cfg.RecordBar).Run(ctx, source.Tap(4096), bars)
		go w.Run(ctx, bars)
		slog.Info("recording ticks", "path", cfg.SQLitePath, "bar", cfg.RecordBar)
	}

	a.start(ctx)

	// ---- Metrics + health ----
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, a.registry, a.health)
	metricsSrv.Start()

	// ---- REST + WebSocket API ----
	hub := gateway.NewHub(a.bus)
	hub.Start()
	defer hub.Stop()
	api := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: gateway.NewServer(a.engine, hub, gateway.WithHistory(a.journal)).Router(),
	}
	go func() {
		slog.Info("api listening", "addr", cfg.HTTPAddr)
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "error", err)
			stop()
		}
	}()

	if !runNoStart {
		if err := autostart(a.engine); err != nil {
			slog.Warn("engine not started", "error", err)
		}
	}

	err = a.engine.Run(ctx, source, cfg.ParseInstruments()...)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.engine.Stop()
	a.engine.Wait()
	if err := api.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api shutdown", "error", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown", "error", err)
	}
	return err
}
