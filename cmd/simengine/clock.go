package main

import (
	"sync/atomic"
	"time"

	"autotrader-simv1/internal/model"
)

// tickClock is a clock driven by the timestamps of replayed ticks, so day
// rolls, trading windows and event times follow the recorded session.
type tickClock struct {
	ns atomic.Int64
}

func newTickClock(start time.Time) *tickClock {
	c := &tickClock{}
	c.ns.Store(start.UnixNano())
	return c
}

// Now returns the latest tick time seen.
func (c *tickClock) Now() time.Time {
	return time.Unix(0, c.ns.Load())
}

// Observe advances the clock to c.TS. The clock never goes backwards.
func (c *tickClock) Observe(candle model.Candle) {
	ts := candle.TS.UnixNano()
	for {
		cur := c.ns.Load()
		if ts <= cur || c.ns.CompareAndSwap(cur, ts) {
			return
		}
	}
}
