package indicator

import (
	"math"
	"testing"
	"time"

	"autotrader-simv1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC)

func candle(close float64) model.Candle {
	return model.Candle{
		Instrument: "NSE:TEST", TS: t0,
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 100,
	}
}

// series splits prices into a trailing window and the current observation.
func series(prices ...float64) ([]model.Candle, model.Candle) {
	window := make([]model.Candle, 0, len(prices)-1)
	for i, p := range prices[:len(prices)-1] {
		c := candle(p)
		c.TS = t0.Add(time.Duration(i) * time.Minute)
		window = append(window, c)
	}
	cur := candle(prices[len(prices)-1])
	cur.TS = t0.Add(time.Duration(len(prices)) * time.Minute)
	return window, cur
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_Exact(t *testing.T) {
	// (100+102+104+106+108)/5 = 104 exactly
	got := SMA([]float64{100, 102, 104, 106, 108}, 5)
	if got != 104.0 {
		t.Fatalf("SMA(5): got %v, want 104.0", got)
	}
}

func TestSMA_UsesLastPeriodIncludingCurrent(t *testing.T) {
	window, cur := series(10, 11, 12, 13, 14, 15, 16)
	cond := model.Condition{Indicator: model.IndicatorSMA, Period: 5}
	// (12+13+14+15+16)/5 = 14
	assertClose(t, "SMA(5)", Value(cond, cur, window), 14.0, 1e-9)
}

func TestSMA_ShortWindowAveragesAvailable(t *testing.T) {
	assertClose(t, "SMA(20) over 3", SMA([]float64{100, 110, 120}, 20), 110.0, 1e-9)
	if SMA(nil, 5) != 0 {
		t.Error("SMA of empty series should be 0")
	}
}

// ────────────────────────────────────────────────────────────
// EMA / MACD
// ────────────────────────────────────────────────────────────

func TestEMA_SeededFromOldest(t *testing.T) {
	// period 3 → k = 0.5
	// seed 10; 12 → 11; 14 → 12.5; 16 → 14.25
	assertClose(t, "EMA(3)", EMA([]float64{10, 12, 14, 16}, 3), 14.25, 1e-9)
}

func TestEMA_SingleValue(t *testing.T) {
	assertClose(t, "EMA single", EMA([]float64{42}, 9), 42, 1e-9)
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 250
	}
	assertClose(t, "MACD flat", MACD(flat), 0, 1e-9)
}

func TestMACD_RisingSeriesPositive(t *testing.T) {
	var up []float64
	for i := 0; i < 60; i++ {
		up = append(up, 100+float64(i))
	}
	if m := MACD(up); m <= 0 {
		t.Errorf("MACD of rising series should be positive, got %.4f", m)
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_NeutralWithoutHistory(t *testing.T) {
	vals := []float64{100, 101, 102}
	if got := RSI(vals, 14); got != NeutralRSI {
		t.Errorf("RSI with 2 prior observations: got %.2f, want 50", got)
	}
}

func TestRSI_AllRisingIs100(t *testing.T) {
	var vals []float64
	for i := 0; i < 20; i++ {
		vals = append(vals, 100+float64(i))
	}
	assertClose(t, "RSI rising", RSI(vals, 14), 100, 1e-9)
}

func TestRSI_AllFallingIs0(t *testing.T) {
	var vals []float64
	for i := 0; i < 20; i++ {
		vals = append(vals, 200-float64(i))
	}
	assertClose(t, "RSI falling", RSI(vals, 14), 0, 1e-9)
}

func TestRSI_KnownValue(t *testing.T) {
	// period 4, deltas: +2, -1, +2, -1 → avgGain 1, avgLoss 0.5, RS 2 → 66.67
	vals := []float64{50, 10, 12, 11, 13, 12}
	assertClose(t, "RSI(4)", RSI(vals, 4), 100-100.0/3, 1e-9)
}

func TestRSI_Bounds(t *testing.T) {
	vals := []float64{100, 97, 104, 99, 101, 108, 95, 96, 103, 100, 99, 110, 90, 105, 102, 98}
	for n := 15; n <= len(vals); n++ {
		got := RSI(vals[:n], 14)
		if got < 0 || got > 100 {
			t.Fatalf("RSI out of bounds at n=%d: %.4f", n, got)
		}
	}
}

// ────────────────────────────────────────────────────────────
// ADX / VWAP
// ────────────────────────────────────────────────────────────

func TestADX_NeedsHistory(t *testing.T) {
	window, cur := series(1, 2, 3, 4, 5)
	all := append(window, cur)
	if got := ADX(all, 14); got != 0 {
		t.Errorf("ADX with 5 candles: got %.4f, want 0", got)
	}
}

func TestADX_StrongTrendHigh(t *testing.T) {
	var cs []model.Candle
	for i := 0; i < 40; i++ {
		cs = append(cs, candle(100+float64(i)*2))
	}
	got := ADX(cs, 14)
	if got < 50 || got > 100 {
		t.Errorf("ADX of a steady trend should be strong and <= 100, got %.4f", got)
	}
}

func TestVWAP(t *testing.T) {
	cs := []model.Candle{
		{High: 11, Low: 9, Close: 10, Volume: 100},  // typical 10
		{High: 21, Low: 19, Close: 20, Volume: 300}, // typical 20
	}
	assertClose(t, "VWAP", VWAP(cs), 17.5, 1e-9)

	cs[0].Volume, cs[1].Volume = 0, 0
	assertClose(t, "VWAP no volume", VWAP(cs), 20, 1e-9)
}
