package indicator

// NeutralRSI is returned while there is not enough history.
const NeutralRSI = 50.0

// RSI returns the Relative Strength Index of the last period price changes
// in values. values holds the prior observations followed by the current
// one; with fewer than period prior observations the result is NeutralRSI.
// The result is always within [0, 100].
func RSI(values []float64, period int) float64 {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	if len(values)-1 < period {
		return NeutralRSI
	}

	var gain, loss float64
	tail := values[len(values)-period-1:]
	for i := 1; i < len(tail); i++ {
		delta := tail[i] - tail[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	if avgLoss == 0 {
		if avgGain == 0 {
			return NeutralRSI
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
