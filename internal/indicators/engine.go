package indicators

// Engine maintains per-symbol price windows and computes the standard set of
// indicators each bar. It is owned by a single backtest run and is not safe
// for concurrent use across runs.
type Engine struct {
	prices  map[string][]float64
	window  int
	shortMA int
	longMA  int
	rsi     int
}

// NewEngine builds an indicator engine with the given lookbacks.
func NewEngine(shortMA, longMA, rsiPeriod int) *Engine {
	window := longMA
	if rsiPeriod+1 > window {
		window = rsiPeriod + 1
	}
	return &Engine{
		prices:  make(map[string][]float64),
		window:  window,
		shortMA: shortMA,
		longMA:  longMA,
		rsi:     rsiPeriod,
	}
}

// Update ingests a close price and returns the latest computed values.
func (e *Engine) Update(symbol string, price float64) map[string]Value {
	arr := append(e.prices[symbol], price)
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.prices[symbol] = arr

	return map[string]Value{
		"sma_short": SMA(arr, e.shortMA),
		"sma_long":  SMA(arr, e.longMA),
		"ema_short": EMA(arr, e.shortMA),
		"rsi":       RSI(arr, e.rsi),
	}
}

// Reset clears all price history.
func (e *Engine) Reset() {
	e.prices = make(map[string][]float64)
}
