package indicators

// SMA calculates the simple moving average over the last period values.
func SMA(values []float64, period int) Value {
	if period <= 0 {
		return None("invalid period")
	}
	if len(values) < period {
		return None("insufficient history")
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return Some(sum / float64(period))
}

// EMA calculates an exponential moving average seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) Value {
	if period <= 0 {
		return None("invalid period")
	}
	if len(values) < period {
		return None("insufficient history")
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
	}
	return Some(ema)
}
