package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autotrader-simv1/internal/execution"
	"autotrader-simv1/internal/marketdata/replay"
	"autotrader-simv1/internal/marketdata/tee"
	"autotrader-simv1/internal/markethours"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/report"
	sqlitestore "autotrader-simv1/internal/store/sqlite"
)

var (
	btFrom    string
	btSpeed   float64
	btInstant bool
	btReport  string
	btDB      string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay recorded ticks through the engine",
	Long: `backtest replays ticks recorded by "simengine run" through a fresh engine.
Every ACTIVE strategy in the strategy file is started. Time inside the
engine follows the recorded tick timestamps.`,
	RunE: runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&btFrom, "from", "", "first IST day to replay, YYYY-MM-DD (default: everything)")
	f.Float64Var(&btSpeed, "speed", 0, "replay speed multiplier, 0 = as fast as possible")
	f.BoolVar(&btInstant, "instant", true, "zero placement and fill delays")
	f.StringVar(&btReport, "report", "", "write an XLSX trade report to this path")
	f.StringVar(&btDB, "db", "", "tick database (overrides SQLITE_PATH)")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if btDB != "" {
		cfg.SQLitePath = btDB
	}
	if btInstant {
		cfg.Simulator.PlacementDelay = 0
		cfg.Simulator.FillDelay = 0
		cfg.Simulator.PartialFillDelay = 0
	}

	var from time.Time
	if btFrom != "" {
		d, err := time.ParseInLocation("2006-01-02", btFrom, markethours.IST)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		from = d
	}

	clock := newTickClock(time.Unix(0, 0))
	a, err := newApp(cfg, appOptions{service: "backtest", clock: clock.Now})
	if err != nil {
		return err
	}
	defer a.close()

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	source := tee.New(replay.New(reader, from, btSpeed))
	source.OnTick = clock.Observe

	if err := a.engine.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	err = a.engine.Run(ctx, source)
	a.engine.Wait()
	a.engine.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	trades := a.engine.Trades()
	w := a.engine.Wallet()
	sum := report.Summarize(trades)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backtest finished in %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(out, "  orders:        %d (%d rejected)\n", len(a.engine.Orders()), countRejected(a.sim))
	fmt.Fprintf(out, "  trades:        %d (win rate %.1f%%)\n", sum.Trades, sum.WinRate)
	fmt.Fprintf(out, "  net pnl:       %.2f\n", sum.NetPnL)
	fmt.Fprintf(out, "  balance:       %.2f -> %.2f\n", w.InitialBalance, w.Balance)
	fmt.Fprintf(out, "  max drawdown:  %.2f%%\n", w.DrawdownPct)
	if st := a.engine.Risk(); st.Locked {
		fmt.Fprintf(out, "  risk locked:   %s\n", st.LockReason)
	}

	if btReport != "" {
		if err := report.Save(btReport, trades, w); err != nil {
			return err
		}
		fmt.Fprintf(out, "report written to %s\n", btReport)
	}
	return nil
}

func countRejected(sim *execution.Simulator) int {
	n := 0
	for _, o := range sim.Orders() {
		if o.Status == model.OrderRejected {
			n++
		}
	}
	return n
}
