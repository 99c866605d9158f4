package ringbuf

import (
	"testing"

	"autotrader-simv1/internal/model"
)

func TestWindow_PushSlice(t *testing.T) {
	w := New[model.Candle](4)

	w.Push(model.Candle{Instrument: "A", Close: 100})
	w.Push(model.Candle{Instrument: "B", Close: 200})

	if w.Len() != 2 {
		t.Fatalf("expected len=2, got %d", w.Len())
	}

	got := w.Slice()
	if got[0].Instrument != "A" || got[1].Instrument != "B" {
		t.Fatalf("expected [A B], got %v", got)
	}

	last, ok := w.Last()
	if !ok || last.Instrument != "B" {
		t.Fatalf("expected last=B, got %v ok=%v", last.Instrument, ok)
	}
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := New[float64](3)
	for i := 1; i <= 5; i++ {
		w.Push(float64(i))
	}

	if w.Len() != 3 {
		t.Fatalf("expected len=3, got %d", w.Len())
	}
	if w.Evicted() != 2 {
		t.Fatalf("expected evicted=2, got %d", w.Evicted())
	}

	got := w.Slice()
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestWindow_SliceIsCopy(t *testing.T) {
	w := New[float64](2)
	w.Push(1)
	s := w.Slice()
	s[0] = 99

	if got := w.Slice()[0]; got != 1 {
		t.Fatalf("mutating slice changed window: got %v", got)
	}
}

func TestWindow_EmptyAndReset(t *testing.T) {
	w := New[int](0) // clamps to 1
	if w.Cap() != 1 {
		t.Fatalf("expected cap=1, got %d", w.Cap())
	}
	if _, ok := w.Last(); ok {
		t.Fatal("last on empty window should return false")
	}

	w.Push(7)
	w.Push(8)
	if v, _ := w.Last(); v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}

	w.Reset()
	if w.Len() != 0 || len(w.Slice()) != 0 {
		t.Fatal("reset should empty the window")
	}
}
