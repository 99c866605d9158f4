// Package portfolio tracks positions, P&L, and the cash/margin wallet.
//
// The Ledger owns every position ever opened; positions move OPEN → CLOSED
// and are never deleted. The Wallet owns balance and margin. Both round every
// monetary mutation to cents through internal/money.
package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/money"
)

var (
	// ErrPositionNotOpen is returned when mutating a closed or unknown position.
	ErrPositionNotOpen = errors.New("position not open")

	// ErrInvalidQuantity is returned for a non-positive fill or close quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// CloseResult is the outcome of a full or partial close.
type CloseResult struct {
	Position       model.Position `json:"position"`
	Trade          model.Trade    `json:"trade"`
	ReleasedMargin float64        `json:"released_margin"`
}

// Ledger tracks all open and closed positions plus the trade log.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	seq       []string
	trades    []model.Trade
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*model.Position)}
}

// Open creates a position from an entry order's first fill.
func (l *Ledger) Open(o model.Order, fillPrice float64, qty int64, margin float64, at time.Time) model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	price := money.Round(fillPrice)
	p := &model.Position{
		ID:           uuid.New().String(),
		StrategyID:   o.StrategyID,
		Instrument:   o.Instrument,
		EntryOrderID: o.ID,
		Side:         model.SideFor(o.Side),
		Quantity:     qty,
		EntryPrice:   price,
		CurrentPrice: price,
		MarginUsed:   money.Round(margin),
		Status:       model.PositionOpen,
		OpenedAt:     at,
	}
	l.positions[p.ID] = p
	l.seq = append(l.seq, p.ID)
	return *p
}

// AddTo adds a fill to an open position. Entry price becomes the
// quantity-weighted average; margin grows with the added quantity.
func (l *Ledger) AddTo(id string, fillPrice float64, qty int64, margin float64) (model.Position, error) {
	if qty <= 0 {
		return model.Position{}, ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.open(id)
	if err != nil {
		return model.Position{}, err
	}
	p.EntryPrice = money.WeightedAverage(p.EntryPrice, p.Quantity, fillPrice, qty)
	p.Quantity += qty
	p.MarginUsed = money.Add(p.MarginUsed, margin)
	p.UnrealizedPnL = money.PnL(p.Side.Direction(), p.EntryPrice, p.CurrentPrice, p.Quantity)
	return *p, nil
}

// MarkToMarket revalues an open position at price.
func (l *Ledger) MarkToMarket(id string, price float64) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.open(id)
	if err != nil {
		return model.Position{}, err
	}
	mark(p, price)
	return *p, nil
}

// MarkInstrument revalues every open position on instrument and returns them.
func (l *Ledger) MarkInstrument(instrument string, price float64) []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.Position
	for _, id := range l.seq {
		p := l.positions[id]
		if p.Status != model.PositionOpen || p.Instrument != instrument {
			continue
		}
		mark(p, price)
		out = append(out, *p)
	}
	return out
}

// Close realizes the whole position at exitPrice.
func (l *Ledger) Close(id string, exitPrice float64, at time.Time) (CloseResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.open(id)
	if err != nil {
		return CloseResult{}, err
	}
	return l.closeQty(p, exitPrice, p.Quantity, at), nil
}

// PartialClose realizes qty units at exitPrice. qty >= the position's
// quantity behaves exactly like Close.
func (l *Ledger) PartialClose(id string, exitPrice float64, qty int64, at time.Time) (CloseResult, error) {
	if qty <= 0 {
		return CloseResult{}, ErrInvalidQuantity
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.open(id)
	if err != nil {
		return CloseResult{}, err
	}
	if qty > p.Quantity {
		qty = p.Quantity
	}
	return l.closeQty(p, exitPrice, qty, at), nil
}

// Get returns a copy of a position in any status.
func (l *Ledger) Get(id string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// OpenFor returns the strategy's open position, if any.
func (l *Ledger) OpenFor(strategyID string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.seq {
		p := l.positions[id]
		if p.Status == model.PositionOpen && p.StrategyID == strategyID {
			return *p, true
		}
	}
	return model.Position{}, false
}

// OpenPositions returns copies of all open positions, oldest first.
func (l *Ledger) OpenPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0)
	for _, id := range l.seq {
		if p := l.positions[id]; p.Status == model.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, p := range l.positions {
		if p.Status == model.PositionOpen {
			n++
		}
	}
	return n
}

// Positions returns copies of every position, oldest first.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.seq))
	for _, id := range l.seq {
		out = append(out, *l.positions[id])
	}
	return out
}

// Trades returns the trade log, oldest first.
func (l *Ledger) Trades() []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// TotalUnrealized sums unrealized P&L across open positions.
func (l *Ledger) TotalUnrealized() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		if p.Status == model.PositionOpen {
			total = money.Add(total, p.UnrealizedPnL)
		}
	}
	return total
}

// ── internals (callers hold l.mu) ──

func (l *Ledger) open(id string) (*model.Position, error) {
	p, ok := l.positions[id]
	if !ok || p.Status != model.PositionOpen {
		return nil, fmt.Errorf("position %s: %w", id, ErrPositionNotOpen)
	}
	return p, nil
}

func mark(p *model.Position, price float64) {
	p.CurrentPrice = money.Round(price)
	p.UnrealizedPnL = money.PnL(p.Side.Direction(), p.EntryPrice, p.CurrentPrice, p.Quantity)
}

func (l *Ledger) closeQty(p *model.Position, exitPrice float64, qty int64, at time.Time) CloseResult {
	exit := money.Round(exitPrice)
	pnl := money.PnL(p.Side.Direction(), p.EntryPrice, exit, qty)
	released := money.Prorate(p.MarginUsed, qty, p.Quantity)

	t := model.Trade{
		ID:          uuid.New().String(),
		PositionID:  p.ID,
		StrategyID:  p.StrategyID,
		Instrument:  p.Instrument,
		Side:        p.Side.OpeningSide().Opposite(),
		Quantity:    qty,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		ExecutedAt:  at,
	}
	l.trades = append(l.trades, t)

	p.Quantity -= qty
	p.MarginUsed = money.Sub(p.MarginUsed, released)
	p.RealizedPnL = money.Add(p.RealizedPnL, pnl)
	p.CurrentPrice = exit
	if p.Quantity == 0 {
		p.Status = model.PositionClosed
		p.ClosedAt = at
		p.UnrealizedPnL = 0
		p.MarginUsed = 0
	} else {
		p.UnrealizedPnL = money.PnL(p.Side.Direction(), p.EntryPrice, exit, p.Quantity)
	}
	return CloseResult{Position: *p, Trade: t, ReleasedMargin: released}
}
