// Package indicator computes technical indicators and evaluates strategy
// conditions over a trailing price window.
//
// Everything here is a pure function of its inputs: values are recomputed
// from the window plus the current observation on every call and no state
// survives between calls. The window is expected to be bounded (see
// ringbuf.DefaultCapacity), which keeps the recomputation cheap.
package indicator

import "autotrader-simv1/internal/model"

// Default lookback periods used when a condition omits one.
const (
	DefaultRSIPeriod = 14
	DefaultSMAPeriod = 20
	DefaultEMAPeriod = 9
	DefaultADXPeriod = 14

	MACDFast = 12
	MACDSlow = 26
)

// closes returns the close prices of window followed by current.
func closes(window []model.Candle, current model.Candle) []float64 {
	out := make([]float64, 0, len(window)+1)
	for _, c := range window {
		out = append(out, c.Close)
	}
	return append(out, current.Close)
}

// Value returns the indicator value a condition compares against its
// threshold.
func Value(cond model.Condition, current model.Candle, window []model.Candle) float64 {
	switch cond.Indicator {
	case model.IndicatorPrice:
		return current.Close
	case model.IndicatorVolume:
		return current.Volume
	case model.IndicatorSMA:
		return SMA(closes(window, current), periodOr(cond.Period, DefaultSMAPeriod))
	case model.IndicatorEMA:
		return EMA(closes(window, current), periodOr(cond.Period, DefaultEMAPeriod))
	case model.IndicatorRSI:
		return RSI(closes(window, current), periodOr(cond.Period, DefaultRSIPeriod))
	case model.IndicatorMACD:
		return MACD(closes(window, current))
	case model.IndicatorADX:
		series := append(append(make([]model.Candle, 0, len(window)+1), window...), current)
		return ADX(series, periodOr(cond.Period, DefaultADXPeriod))
	case model.IndicatorVWAP:
		series := append(append(make([]model.Candle, 0, len(window)+1), window...), current)
		return VWAP(series)
	}
	return current.Close
}

func periodOr(p, def int) int {
	if p <= 0 {
		return def
	}
	return p
}
