package model

import "time"

// PositionSide is LONG or SHORT.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// SideFor maps the opening order side to the position side.
func SideFor(s Side) PositionSide {
	if s == SideSell {
		return Short
	}
	return Long
}

// Direction is +1 for LONG and -1 for SHORT.
func (p PositionSide) Direction() int {
	if p == Short {
		return -1
	}
	return 1
}

// OpeningSide returns the order side that opened a position of this side.
func (p PositionSide) OpeningSide() Side {
	if p == Short {
		return SideSell
	}
	return SideBuy
}

// PositionStatus is OPEN or CLOSED.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position tracks exposure opened by a strategy's entry order.
type Position struct {
	ID            string         `json:"id"`
	StrategyID    string         `json:"strategy_id"`
	Instrument    string         `json:"instrument"`
	EntryOrderID  string         `json:"entry_order_id"`
	Side          PositionSide   `json:"side"`
	Quantity      int64          `json:"quantity"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	MarginUsed    float64        `json:"margin_used"`
	Status        PositionStatus `json:"status"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      time.Time      `json:"closed_at,omitempty"`
}

// Trade is the immutable record of a full or partial position close.
type Trade struct {
	ID          string    `json:"id"`
	PositionID  string    `json:"position_id"`
	StrategyID  string    `json:"strategy_id"`
	Instrument  string    `json:"instrument"`
	Side        Side      `json:"side"` // inverse of the position's opening side
	Quantity    int64     `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	ExecutedAt  time.Time `json:"executed_at"`
}
