package indicators

// RSI computes a basic Relative Strength Index without Wilder smoothing.
func RSI(values []float64, period int) Value {
	if period <= 0 {
		return None("invalid period")
	}
	if len(values) < period+1 {
		return None("insufficient history")
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return Some(100)
	}
	rs := gain / loss
	return Some(100 - (100 / (1 + rs)))
}
