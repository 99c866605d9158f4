// Package tee copies the ticks of a TickSource to side channels (tick
// recording, dashboards) without slowing the primary consumer.
package tee

import (
	"context"
	"log/slog"
	"sync"

	"autotrader-simv1/internal/model"
)

// Source wraps a TickSource. The primary stream is delivered with the inner
// source's backpressure; a tap whose buffer is full loses the tick.
type Source struct {
	inner model.TickSource

	mu   sync.Mutex
	taps []chan model.Candle

	// OnDrop is called when a tick is dropped for a tap.
	// tapIdx is the 0-based index of the slow tap.
	OnDrop func(tapIdx int)

	// OnTick, if set, sees every tick before anyone else.
	OnTick func(model.Candle)
}

// New wraps inner.
func New(inner model.TickSource) *Source {
	return &Source{inner: inner}
}

// Tap creates a side channel with the given buffer. Taps added after
// Subscribe receive nothing. Every tap is closed when the stream ends.
func (s *Source) Tap(buffer int) <-chan model.Candle {
	ch := make(chan model.Candle, buffer)
	s.mu.Lock()
	s.taps = append(s.taps, ch)
	s.mu.Unlock()
	return ch
}

// Subscribe subscribes the inner source and starts copying.
func (s *Source) Subscribe(ctx context.Context, instruments ...string) (<-chan model.Candle, error) {
	in, err := s.inner.Subscribe(ctx, instruments...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	taps := append([]chan model.Candle(nil), s.taps...)
	s.mu.Unlock()

	out := make(chan model.Candle, cap(in))
	go s.run(ctx, in, out, taps)
	return out, nil
}

func (s *Source) run(ctx context.Context, in <-chan model.Candle, out chan<- model.Candle, taps []chan model.Candle) {
	defer func() {
		close(out)
		for _, ch := range taps {
			close(ch)
		}
	}()

	for c := range in {
		if s.OnTick != nil {
			s.OnTick(c)
		}
		for i, ch := range taps {
			select {
			case ch <- c:
			default:
				if s.OnDrop != nil {
					s.OnDrop(i)
				} else {
					slog.Warn("tap full, dropping tick", "tap", i, "instrument", c.Instrument)
				}
			}
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

// Unsubscribe stops the inner source.
func (s *Source) Unsubscribe() { s.inner.Unsubscribe() }

// IsActive reports whether the inner source is streaming.
func (s *Source) IsActive() bool { return s.inner.IsActive() }
