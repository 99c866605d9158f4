package indicator

import (
	"math"

	"autotrader-simv1/internal/model"
)

// ADX returns Wilder's Average Directional Index over candles. It needs
// 2*period+1 candles (period to seed the smoothed ranges, period more to seed
// the ADX itself); with less history it returns 0, meaning "no trend".
func ADX(candles []model.Candle, period int) float64 {
	if period <= 0 {
		period = DefaultADXPeriod
	}
	if len(candles) < 2*period+1 {
		return 0
	}

	p := float64(period)
	var tr, pdm, mdm float64
	var dxs []float64

	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		var plus, minus float64
		if upMove > downMove && upMove > 0 {
			plus = upMove
		}
		if downMove > upMove && downMove > 0 {
			minus = downMove
		}
		trueRange := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))

		if i <= period {
			// Seed phase: simple averages of the first period samples.
			tr += trueRange / p
			pdm += plus / p
			mdm += minus / p
			if i < period {
				continue
			}
		} else {
			tr = smooth(tr, trueRange, p)
			pdm = smooth(pdm, plus, p)
			mdm = smooth(mdm, minus, p)
		}

		if tr == 0 {
			dxs = append(dxs, 0)
			continue
		}
		pdi := 100 * pdm / tr
		mdi := 100 * mdm / tr
		if pdi+mdi == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(pdi-mdi)/(pdi+mdi))
	}

	if len(dxs) < period {
		return 0
	}
	adx := SMA(dxs[:period], period)
	for _, dx := range dxs[period:] {
		adx = smooth(adx, dx, p)
	}
	return adx
}

// smooth applies one step of Wilder smoothing.
func smooth(prev, value, period float64) float64 {
	return (prev*(period-1) + value) / period
}
