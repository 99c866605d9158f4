package indicator

import "autotrader-simv1/internal/model"

// VWAP returns the volume-weighted average typical price over candles. With
// no traded volume it falls back to the last close.
func VWAP(candles []model.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var pv, vol float64
	for i := range candles {
		pv += candles[i].Typical() * candles[i].Volume
		vol += candles[i].Volume
	}
	if vol == 0 {
		return candles[len(candles)-1].Close
	}
	return pv / vol
}
