package tee

import (
	"context"
	"testing"
	"time"

	"autotrader-simv1/internal/marketdata/replay"
	"autotrader-simv1/internal/model"
)

func candles(n int) []model.Candle {
	base := time.Date(2026, 3, 3, 4, 0, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Instrument: "NIFTY", TS: base.Add(time.Duration(i) * time.Second), Close: float64(100 + i)}
	}
	return out
}

func TestTee_CopiesToTaps(t *testing.T) {
	src := New(replay.FromSlice(candles(5), 0))
	tap := src.Tap(10)

	out, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var primary []model.Candle
	for c := range out {
		primary = append(primary, c)
	}
	if len(primary) != 5 {
		t.Fatalf("primary: expected 5 ticks, got %d", len(primary))
	}

	var copied int
	for c := range tap {
		if c.Close != primary[copied].Close {
			t.Errorf("tap tick %d: expected close %v, got %v", copied, primary[copied].Close, c.Close)
		}
		copied++
	}
	if copied != 5 {
		t.Errorf("tap: expected 5 ticks, got %d", copied)
	}
}

func TestTee_FullTapDrops(t *testing.T) {
	src := New(replay.FromSlice(candles(6), 0))
	tap := src.Tap(2)
	drops := 0
	src.OnDrop = func(int) { drops++ }

	out, err := src.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	n := 0
	for range out {
		n++
	}
	if n != 6 {
		t.Fatalf("primary must not lose ticks: got %d", n)
	}
	if drops != 4 {
		t.Errorf("expected 4 drops, got %d", drops)
	}
	if len(tap) != 2 {
		t.Errorf("expected tap to hold 2 ticks, got %d", len(tap))
	}
}

func TestTee_OnTickSeesEveryTick(t *testing.T) {
	src := New(replay.FromSlice(candles(3), 0))
	var seen []float64
	src.OnTick = func(c model.Candle) { seen = append(seen, c.Close) }

	out, err := src.Subscribe(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for range out {
	}
	if len(seen) != 3 || seen[0] != 100 || seen[2] != 102 {
		t.Errorf("unexpected ticks seen: %v", seen)
	}
}
