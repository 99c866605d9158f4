package portfolio

import (
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
)

// ExitReason names why a position should be auto-closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitSquareOff  ExitReason = "square_off"
	ExitRiskLock   ExitReason = "risk_lock"
)

// PnLPercent returns unrealized P&L as a percent of entry notional.
func PnLPercent(p model.Position) float64 {
	return money.Percent(p.UnrealizedPnL, money.Notional(p.EntryPrice, p.Quantity))
}

// CheckAutoExit reports whether the position breached the strategy's
// stop-loss or take-profit. A nil config, or a zero threshold, never fires.
func CheckAutoExit(p model.Position, rc *model.RiskConfig) (ExitReason, bool) {
	if rc == nil || p.Status != model.PositionOpen || p.Quantity == 0 {
		return "", false
	}
	pct := PnLPercent(p)
	if rc.StopLossPct > 0 && pct <= -rc.StopLossPct {
		return ExitStopLoss, true
	}
	if rc.TakeProfitPct > 0 && pct >= rc.TakeProfitPct {
		return ExitTakeProfit, true
	}
	return "", false
}
