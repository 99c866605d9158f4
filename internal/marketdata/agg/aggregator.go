// Package agg compacts a tick stream into fixed-width OHLCV bars, one per
// instrument per bucket. The tick recorder stores bars instead of raw ticks.
package agg

import (
	"context"
	"time"

	"autotrader-simv1/internal/model"
)

// candleState holds the in-progress bar for one instrument.
type candleState struct {
	bucket time.Time
	candle model.Candle
}

// Aggregator builds bars from a stream of ticks. It runs in a single
// goroutine and emits a bar when its instrument moves to a later bucket, or
// when the bucket has been over for a full flush interval of wall-clock time.
type Aggregator struct {
	width         time.Duration
	flushInterval time.Duration
	now           func() time.Time
	states        map[string]*candleState

	// OnDroppedTick is called for a tick older than its instrument's open bar.
	OnDroppedTick func()
}

// New creates an Aggregator with the given bar width (default 1s).
func New(width time.Duration) *Aggregator {
	if width <= 0 {
		width = time.Second
	}
	return &Aggregator{
		width:         width,
		flushInterval: 100 * time.Millisecond,
		now:           time.Now,
		states:        make(map[string]*candleState),
	}
}

// Run consumes ticks from in and sends finished bars to out. Open bars are
// flushed when in closes or ctx is done; out is closed on return.
func (a *Aggregator) Run(ctx context.Context, in <-chan model.Candle, out chan<- model.Candle) {
	defer close(out)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(context.Background(), out)
			return

		case c, ok := <-in:
			if !ok {
				a.flushAll(ctx, out)
				return
			}
			if !a.add(ctx, c, out) {
				return
			}

		case <-ticker.C:
			a.flushOld(ctx, out)
		}
	}
}

// add folds one tick into its instrument's bar. It returns false if ctx
// ended while a finished bar was being sent.
func (a *Aggregator) add(ctx context.Context, c model.Candle, out chan<- model.Candle) bool {
	bucket := c.TS.Truncate(a.width)
	state, exists := a.states[c.Instrument]

	if exists && bucket.Before(state.bucket) {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return true
	}

	if exists && bucket.After(state.bucket) {
		delete(a.states, c.Instrument)
		if !a.emit(ctx, state, out) {
			return false
		}
		exists = false
	}

	if !exists {
		bar := c
		bar.TS = bucket
		a.states[c.Instrument] = &candleState{bucket: bucket, candle: bar}
		return true
	}

	bar := &state.candle
	if c.High > bar.High {
		bar.High = c.High
	}
	if c.Low < bar.Low {
		bar.Low = c.Low
	}
	bar.Close = c.Close
	bar.Volume += c.Volume
	return true
}

// flushOld emits bars whose bucket ended at least one flush interval ago.
func (a *Aggregator) flushOld(ctx context.Context, out chan<- model.Candle) {
	cutoff := a.now().Add(-a.flushInterval)
	for key, state := range a.states {
		if !state.bucket.Add(a.width).After(cutoff) {
			delete(a.states, key)
			if !a.emit(ctx, state, out) {
				return
			}
		}
	}
}

func (a *Aggregator) flushAll(ctx context.Context, out chan<- model.Candle) {
	for key, state := range a.states {
		delete(a.states, key)
		if !a.emit(ctx, state, out) {
			return
		}
	}
}

func (a *Aggregator) emit(ctx context.Context, state *candleState, out chan<- model.Candle) bool {
	select {
	case out <- state.candle:
		return true
	case <-ctx.Done():
		return false
	}
}
