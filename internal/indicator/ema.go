package indicator

// EMA returns the exponential moving average of values, seeded from the
// oldest value and applied forward through the newest:
//
//	ema = (v - ema) * 2/(period+1) + ema
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period <= 0 {
		period = DefaultEMAPeriod
	}
	k := 2.0 / float64(period+1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = (v-ema)*k + ema
	}
	return ema
}

// MACD returns the MACD line, EMA(12) - EMA(26), over values.
func MACD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return EMA(values, MACDFast) - EMA(values, MACDSlow)
}
