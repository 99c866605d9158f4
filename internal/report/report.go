// Package report exports closed trades and a session summary as an XLSX
// workbook.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"autotrader-simv1/internal/markethours"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
)

var tradeHeaders = []string{
	"Executed (IST)", "Trade ID", "Strategy", "Instrument", "Side",
	"Quantity", "Entry", "Exit", "Realized PnL", "Position ID",
}

// Summary aggregates a set of trades.
type Summary struct {
	Trades      int
	Wins        int
	Losses      int
	WinRate     float64 // percent
	NetPnL      float64
	GrossProfit float64
	GrossLoss   float64
	Best        float64
	Worst       float64
	ByStrategy  map[string]float64
}

// Summarize computes win/loss statistics over trades.
func Summarize(trades []model.Trade) Summary {
	s := Summary{Trades: len(trades), ByStrategy: make(map[string]float64)}
	for i, t := range trades {
		pnl := t.RealizedPnL
		s.NetPnL = money.Add(s.NetPnL, pnl)
		s.ByStrategy[t.StrategyID] = money.Add(s.ByStrategy[t.StrategyID], pnl)
		switch {
		case pnl > 0:
			s.Wins++
			s.GrossProfit = money.Add(s.GrossProfit, pnl)
		case pnl < 0:
			s.Losses++
			s.GrossLoss = money.Add(s.GrossLoss, pnl)
		}
		if i == 0 || pnl > s.Best {
			s.Best = pnl
		}
		if i == 0 || pnl < s.Worst {
			s.Worst = pnl
		}
	}
	if s.Trades > 0 {
		s.WinRate = money.Percent(float64(s.Wins), float64(s.Trades))
	}
	return s
}

// Build creates the workbook. Trades are written oldest first.
func Build(trades []model.Trade, wallet model.Wallet) (*excelize.File, error) {
	sorted := append([]model.Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt) })

	f := excelize.NewFile()
	idx, err := f.NewSheet(tradesSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create trades sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for i, h := range tradeHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(tradesSheet, cell, h)
	}
	for i, t := range sorted {
		row := i + 2
		values := []any{
			t.ExecutedAt.In(markethours.IST).Format("2006-01-02 15:04:05"),
			t.ID, t.StrategyID, t.Instrument, string(t.Side),
			t.Quantity, t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.PositionID,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(tradesSheet, cell, v)
		}
	}
	f.SetColWidth(tradesSheet, "A", "A", 20)
	f.SetColWidth(tradesSheet, "B", "D", 38)
	f.SetColWidth(tradesSheet, "E", "I", 12)
	f.SetColWidth(tradesSheet, "J", "J", 38)

	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	sum := Summarize(sorted)
	rows := [][]any{
		{"Initial balance", wallet.InitialBalance},
		{"Balance", wallet.Balance},
		{"Realized PnL", wallet.RealizedPnL},
		{"Unrealized PnL", wallet.UnrealizedPnL},
		{"Peak balance", wallet.PeakBalance},
		{"Drawdown %", wallet.DrawdownPct},
		{"Trades", sum.Trades},
		{"Wins", sum.Wins},
		{"Losses", sum.Losses},
		{"Win rate %", sum.WinRate},
		{"Net PnL", sum.NetPnL},
		{"Gross profit", sum.GrossProfit},
		{"Gross loss", sum.GrossLoss},
		{"Best trade", sum.Best},
		{"Worst trade", sum.Worst},
	}
	strategies := make([]string, 0, len(sum.ByStrategy))
	for id := range sum.ByStrategy {
		strategies = append(strategies, id)
	}
	sort.Strings(strategies)
	for _, id := range strategies {
		rows = append(rows, []any{"PnL " + id, sum.ByStrategy[id]})
	}
	for i, r := range rows {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), r[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), r[1])
	}
	f.SetColWidth(summarySheet, "A", "A", 48)
	f.SetColWidth(summarySheet, "B", "B", 16)
	return f, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, trades []model.Trade, wallet model.Wallet) error {
	f, err := Build(trades, wallet)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Save writes the workbook to path.
func Save(path string, trades []model.Trade, wallet model.Wallet) error {
	f, err := Build(trades, wallet)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
