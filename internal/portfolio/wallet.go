package portfolio

import (
	"errors"
	"fmt"
	"sync"

	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
)

var (
	// ErrInsufficientMargin is returned when a reservation would drive
	// available margin negative. The wallet is left untouched.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrOverRelease is returned when releasing more margin than is reserved.
	ErrOverRelease = errors.New("release exceeds used margin")
)

// Wallet is the cash and margin ledger. All methods are safe for concurrent use.
type Wallet struct {
	mu         sync.Mutex
	initial    float64
	balance    float64
	used       float64
	realized   float64
	unrealized float64
	peak       float64
}

// NewWallet creates a wallet funded with initial.
func NewWallet(initial float64) *Wallet {
	b := money.Round(initial)
	return &Wallet{initial: b, balance: b, peak: b}
}

// Reserve blocks amount as margin.
func (w *Wallet) Reserve(amount float64) error {
	amount = money.Round(amount)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.availableLocked()-amount < 0 {
		return fmt.Errorf("reserve %.2f of %.2f available: %w", amount, w.availableLocked(), ErrInsufficientMargin)
	}
	w.used = money.Add(w.used, amount)
	return nil
}

// Release returns previously reserved margin.
func (w *Wallet) Release(amount float64) error {
	amount = money.Round(amount)
	w.mu.Lock()
	defer w.mu.Unlock()

	if amount > w.used {
		return fmt.Errorf("release %.2f of %.2f used: %w", amount, w.used, ErrOverRelease)
	}
	w.used = money.Sub(w.used, amount)
	return nil
}

// MarkUnrealized replaces the aggregate unrealized P&L. It returns the
// resulting available margin, which can go negative on adverse moves.
func (w *Wallet) MarkUnrealized(total float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unrealized = money.Round(total)
	return w.availableLocked()
}

// RecordRealized books realized P&L into balance. The peak balance only
// moves up.
func (w *Wallet) RecordRealized(pnl float64) model.Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()

	pnl = money.Round(pnl)
	w.balance = money.Add(w.balance, pnl)
	w.realized = money.Add(w.realized, pnl)
	if w.balance > w.peak {
		w.peak = w.balance
	}
	return w.snapshotLocked()
}

// Snapshot returns a point-in-time copy.
func (w *Wallet) Snapshot() model.Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wallet) availableLocked() float64 {
	return money.Add(money.Sub(w.balance, w.used), w.unrealized)
}

func (w *Wallet) snapshotLocked() model.Wallet {
	dd := money.Sub(w.peak, w.balance)
	var ddPct float64
	if w.peak > 0 {
		ddPct = money.Round(money.Percent(dd, w.peak))
	}
	return model.Wallet{
		InitialBalance:  w.initial,
		Balance:         w.balance,
		UsedMargin:      w.used,
		AvailableMargin: w.availableLocked(),
		RealizedPnL:     w.realized,
		UnrealizedPnL:   w.unrealized,
		PeakBalance:     w.peak,
		Drawdown:        dd,
		DrawdownPct:     ddPct,
	}
}
