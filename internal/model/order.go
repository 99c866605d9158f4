package model

import (
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// OrderType is MARKET or LIMIT.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is a step in the simulated order lifecycle.
type OrderStatus string

const (
	OrderCreated         OrderStatus = "CREATED"
	OrderPlaced          OrderStatus = "PLACED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderClosed          OrderStatus = "CLOSED"
)

// orderTransitions lists the allowed forward moves. Anything not listed is
// a regression or a jump and is refused.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderCreated:         {OrderPlaced, OrderRejected, OrderCancelled},
	OrderPlaced:          {OrderPartiallyFilled, OrderFilled, OrderRejected, OrderCancelled},
	OrderPartiallyFilled: {OrderFilled},
	OrderFilled:          {OrderClosed},
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Rank orders statuses along the lifecycle; used to assert monotonicity.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderCreated:
		return 0
	case OrderPlaced:
		return 1
	case OrderPartiallyFilled:
		return 2
	case OrderFilled, OrderRejected, OrderCancelled:
		return 3
	case OrderClosed:
		return 4
	}
	return -1
}

// Terminal reports whether no further fill or cancel can happen.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled || s == OrderClosed
}

// OrderIntent is what the engine asks the simulator to execute.
type OrderIntent struct {
	StrategyID string    `json:"strategy_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	Type       OrderType `json:"type"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	PositionID string    `json:"position_id,omitempty"` // set on exit orders
}

// StatusChange records when an order entered a status.
type StatusChange struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
}

// Order is a simulated broker order. Only the order simulator mutates it.
type Order struct {
	ID              string         `json:"id"`
	StrategyID      string         `json:"strategy_id"`
	Instrument      string         `json:"instrument"`
	Side            Side           `json:"side"`
	Quantity        int64          `json:"quantity"`
	Type            OrderType      `json:"type"`
	LimitPrice      float64        `json:"limit_price,omitempty"`
	PositionID      string         `json:"position_id,omitempty"`
	Status          OrderStatus    `json:"status"`
	ReferencePrice  float64        `json:"reference_price"`
	FilledQuantity  int64          `json:"filled_quantity"`
	FilledPrice     float64        `json:"filled_price"` // volume-weighted over all fills
	RejectionReason string         `json:"rejection_reason,omitempty"`
	History         []StatusChange `json:"history"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsExit reports whether the order unwinds an existing position.
func (o *Order) IsExit() bool { return o.PositionID != "" }

// Transition moves the order to status `to` at time `at`, refusing any move
// that is not forward along the lifecycle.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("order %s: %s -> %s not allowed", o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	o.History = append(o.History, StatusChange{Status: to, At: at})
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (o *Order) Clone() Order {
	cp := *o
	cp.History = make([]StatusChange, len(o.History))
	copy(cp.History, o.History)
	return cp
}
