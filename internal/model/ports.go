package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the engine from concrete feeds and storage
// (WebSocket, SQLite, Redis). Each implementation satisfies one or more.

// TickSource delivers price observations in non-decreasing timestamp order
// per instrument.
type TickSource interface {
	// Subscribe starts streaming candles for the given instruments.
	// The returned channel is closed when the source stops.
	Subscribe(ctx context.Context, instruments ...string) (<-chan Candle, error)

	// Unsubscribe stops the stream and closes the channel.
	Unsubscribe()

	// IsActive reports whether the source is currently streaming.
	IsActive() bool
}

// TradeRecorder persists orders and trades for audit.
type TradeRecorder interface {
	RecordOrder(ctx context.Context, o Order) error
	RecordTrade(ctx context.Context, t Trade) error
}

// CandleWriter stores consumed candles so they can be replayed.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads stored candles for replay, ordered by timestamp.
type CandleReader interface {
	ReadCandles(instruments []string, from time.Time) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
