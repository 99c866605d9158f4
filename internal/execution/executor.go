// Package execution turns order intents into simulated broker orders.
//
// The Simulator models the artifacts of a real venue: placement latency,
// random rejection, adverse slippage and partial fills. Every order walks the
// lifecycle CREATED → PLACED → [PARTIALLY_FILLED →] FILLED, or ends early in
// REJECTED or CANCELLED; no status ever moves backwards.
package execution

import (
	"context"
	"errors"
	"time"

	"autotrader-simv1/internal/model"
)

var (
	// ErrOrderRejected is returned when the venue refuses an order at placement.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderCancelled is returned when a pending order was cancelled before
	// the suspended step completed.
	ErrOrderCancelled = errors.New("order cancelled")

	// ErrUnknownOrder is returned for an order id the executor never created.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrInvalidTransition is returned when a step is requested out of order.
	ErrInvalidTransition = errors.New("invalid order transition")
)

// Fill is one execution against an order. An order that partially fills
// produces two fills; the second has Final set.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Price    float64   `json:"price"`
	Quantity int64     `json:"quantity"`
	Slippage float64   `json:"slippage"`
	Final    bool      `json:"final"`
	At       time.Time `json:"at"`
}

// Executor is the order contract the strategy engine drives. The Simulator
// implements it; a broker router exposing the same contract can replace it.
type Executor interface {
	// Create registers a new order in CREATED status.
	Create(intent model.OrderIntent) model.Order

	// Place submits the order at refPrice. Blocks for the placement delay.
	// Returns ErrOrderRejected or ErrOrderCancelled on failure.
	Place(ctx context.Context, orderID string, refPrice float64) (model.Order, error)

	// Fill executes a placed order, calling onFill for every execution.
	// Blocks for the fill delay(s).
	Fill(ctx context.Context, orderID string, onFill func(Fill) error) (model.Order, error)

	// Cancel cancels a pending order. Returns false if the order already
	// reached a terminal status.
	Cancel(orderID string) (model.Order, bool)

	// MarkClosed marks a filled entry order whose position has been closed.
	MarkClosed(orderID string) error

	// Get returns a copy of one order.
	Get(orderID string) (model.Order, bool)

	// Orders returns copies of all orders in creation order.
	Orders() []model.Order
}
