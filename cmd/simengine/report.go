package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autotrader-simv1/internal/execution"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
	"autotrader-simv1/internal/report"
)

var (
	reportOut   string
	reportLimit int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export the trade journal as an XLSX workbook",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "trades.xlsx", "output path")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 10000, "newest trades to export")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	j, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	trades, err := j.GetTrades(cmd.Context(), reportLimit)
	if err != nil {
		return err
	}
	w := journalWallet(cfg.InitialBalance, trades)
	if err := report.Save(reportOut, trades, w); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d trades written to %s\n", len(trades), reportOut)
	return nil
}

// journalWallet rebuilds the realized side of the wallet from closed trades.
func journalWallet(initial float64, trades []model.Trade) model.Wallet {
	w := model.Wallet{InitialBalance: initial, Balance: initial, PeakBalance: initial}
	for i := len(trades) - 1; i >= 0; i-- { // journal returns newest first
		w.Balance = money.Add(w.Balance, trades[i].RealizedPnL)
		w.RealizedPnL = money.Add(w.RealizedPnL, trades[i].RealizedPnL)
		if w.Balance > w.PeakBalance {
			w.PeakBalance = w.Balance
		}
		if dd := money.Sub(w.PeakBalance, w.Balance); dd > w.Drawdown {
			w.Drawdown = dd
			w.DrawdownPct = money.Percent(dd, w.PeakBalance)
		}
	}
	w.AvailableMargin = w.Balance
	return w
}
