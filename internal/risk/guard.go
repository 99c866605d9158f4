// Package risk is the admission gate in front of the order simulator and the
// lock state machine that halts trading once a daily limit is breached.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autotrader-simv1/internal/markethours"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
)

// Limits defines configurable risk thresholds. A zero value disables the
// corresponding check.
type Limits struct {
	MaxLossPerDay         float64 `json:"max_loss_per_day"`
	MaxTradesPerDay       int     `json:"max_trades_per_day"`
	MaxCapitalPerOrderPct float64 `json:"max_capital_per_order_pct"` // order notional as % of balance
	MaxOpenPositions      int     `json:"max_open_positions"`
	MaxDrawdownPct        float64 `json:"max_drawdown_pct"`
}

// DefaultLimits returns conservative intraday limits.
func DefaultLimits() Limits {
	return Limits{
		MaxLossPerDay:         5000,
		MaxTradesPerDay:       20,
		MaxCapitalPerOrderPct: 25,
		MaxOpenPositions:      5,
	}
}

// Denial codes returned in Decision.Code.
const (
	CodeLocked        = "RISK_LOCKED"
	CodeMaxTrades     = "MAX_TRADES_PER_DAY"
	CodeCapital       = "MAX_CAPITAL_PER_ORDER"
	CodeOpenPositions = "MAX_OPEN_POSITIONS"
)

// Decision is the result of a pre-trade check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func deny(code, format string, args ...any) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Guard tracks daily counters and the lock. Every method first rolls the
// counters over if the IST trading day changed.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time

	day         string
	dailyLoss   float64
	dailyTrades int
	locked      bool
	lockKind    model.LockKind
	lockReason  string
	lockedAt    time.Time
}

// NewGuard creates an unlocked guard.
func NewGuard(limits Limits) *Guard {
	g := &Guard{limits: limits, now: time.Now}
	g.day = markethours.DayKey(g.now())
	return g
}

// SetClock overrides the clock used for the day key.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	g.day = markethours.DayKey(now())
}

// Limits returns the configured limits.
func (g *Guard) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// PreTradeCheck decides whether an entry order may be sent. Checks run in a
// fixed order and the first failure wins: lock, trade count, capital per
// order, open positions.
func (g *Guard) PreTradeCheck(intent model.OrderIntent, price float64, w model.Wallet, openPositions int) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()

	if g.locked {
		return deny(CodeLocked, "trading locked: %s", g.lockReason)
	}
	if g.limits.MaxTradesPerDay > 0 && g.dailyTrades >= g.limits.MaxTradesPerDay {
		return deny(CodeMaxTrades, "daily trade limit reached (%d/%d)", g.dailyTrades, g.limits.MaxTradesPerDay)
	}
	if g.limits.MaxCapitalPerOrderPct > 0 {
		notional := money.Notional(price, intent.Quantity)
		pct := money.Percent(notional, w.Balance)
		if w.Balance <= 0 || pct > g.limits.MaxCapitalPerOrderPct {
			return deny(CodeCapital, "order value %.2f is %.2f%% of balance, limit %.2f%%",
				notional, pct, g.limits.MaxCapitalPerOrderPct)
		}
	}
	if g.limits.MaxOpenPositions > 0 && openPositions >= g.limits.MaxOpenPositions {
		return deny(CodeOpenPositions, "open position limit reached (%d/%d)", openPositions, g.limits.MaxOpenPositions)
	}
	return Decision{Allowed: true}
}

// RecordFill counts a filled entry toward the daily trade cap. Rejected and
// cancelled orders are never counted.
func (g *Guard) RecordFill() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	g.dailyTrades++
}

// RecordTrade books a realized P&L and, in the same call, locks the guard if
// the daily loss or drawdown limit is now breached. It returns true only when
// this call caused the lock.
func (g *Guard) RecordTrade(pnl, drawdownPct float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()

	if pnl < 0 {
		g.dailyLoss = money.Sub(g.dailyLoss, pnl)
	}
	if g.limits.MaxLossPerDay > 0 && g.dailyLoss >= g.limits.MaxLossPerDay {
		return g.lockLocked(model.LockLoss,
			fmt.Sprintf("daily loss %.2f reached limit %.2f", g.dailyLoss, g.limits.MaxLossPerDay))
	}
	if g.limits.MaxDrawdownPct > 0 && drawdownPct >= g.limits.MaxDrawdownPct {
		return g.lockLocked(model.LockDrawdown,
			fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", drawdownPct, g.limits.MaxDrawdownPct))
	}
	return false
}

// Lock locks the guard with the given kind and reason. Locking an already
// locked guard keeps the original reason and returns false.
func (g *Guard) Lock(kind model.LockKind, reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return g.lockLocked(kind, reason)
}

// Locked reports whether trading is halted.
func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return g.locked
}

// Reset is the administrative unlock. It zeroes the daily counters.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.day = markethours.DayKey(g.now())
	g.resetLocked()
	slog.Info("risk guard reset")
}

// State returns a point-in-time copy.
func (g *Guard) State() model.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked()
	return model.RiskState{
		Day:             g.day,
		DailyLoss:       g.dailyLoss,
		DailyTrades:     g.dailyTrades,
		Locked:          g.locked,
		LockReason:      g.lockReason,
		LockKind:        g.lockKind,
		LockedAt:        g.lockedAt,
		MaxLossPerDay:   g.limits.MaxLossPerDay,
		MaxTradesPerDay: g.limits.MaxTradesPerDay,
	}
}

// ── internals (callers hold g.mu) ──

func (g *Guard) lockLocked(kind model.LockKind, reason string) bool {
	if g.locked {
		return false
	}
	g.locked = true
	g.lockKind = kind
	g.lockReason = reason
	g.lockedAt = g.now()
	slog.Warn("risk guard locked", "kind", string(kind), "reason", reason)
	return true
}

// rollLocked resets the counters when the trading day changes. Manual and
// drawdown locks survive the roll since neither is a daily measure; loss and
// margin locks are cleared.
func (g *Guard) rollLocked() {
	day := markethours.DayKey(g.now())
	if day == g.day {
		return
	}
	slog.Info("risk day rolled", "from", g.day, "to", day)
	g.day = day
	sticky := g.locked && (g.lockKind == model.LockManual || g.lockKind == model.LockDrawdown)
	if sticky {
		g.dailyLoss = 0
		g.dailyTrades = 0
		return
	}
	g.resetLocked()
}

func (g *Guard) resetLocked() {
	g.dailyLoss = 0
	g.dailyTrades = 0
	g.locked = false
	g.lockKind = model.LockNone
	g.lockReason = ""
	g.lockedAt = time.Time{}
}
