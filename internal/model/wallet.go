package model

import "time"

// Wallet is a point-in-time view of the cash and margin ledger.
type Wallet struct {
	InitialBalance  float64 `json:"initial_balance"`
	Balance         float64 `json:"balance"`
	UsedMargin      float64 `json:"used_margin"`
	AvailableMargin float64 `json:"available_margin"` // balance - used + unrealized
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	PeakBalance     float64 `json:"peak_balance"`
	Drawdown        float64 `json:"drawdown"`
	DrawdownPct     float64 `json:"drawdown_pct"`
}

// LockKind records what put the risk guard into the locked state.
type LockKind string

const (
	LockNone     LockKind = ""
	LockLoss     LockKind = "daily_loss"
	LockDrawdown LockKind = "drawdown"
	LockMargin   LockKind = "margin"
	LockManual   LockKind = "manual"
)

// RiskState is a point-in-time view of the risk guard.
type RiskState struct {
	Day             string    `json:"day"`
	DailyLoss       float64   `json:"daily_loss"`
	DailyTrades     int       `json:"daily_trades"`
	Locked          bool      `json:"locked"`
	LockReason      string    `json:"lock_reason,omitempty"`
	LockKind        LockKind  `json:"lock_kind,omitempty"`
	LockedAt        time.Time `json:"locked_at,omitempty"`
	MaxLossPerDay   float64   `json:"max_loss_per_day"`
	MaxTradesPerDay int       `json:"max_trades_per_day"`
}
