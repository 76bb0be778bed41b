package strategy

import (
	"fmt"
	"math"

	"backtest-core/internal/events"
	"backtest-core/internal/feed"
	"backtest-core/internal/indicators"
)

// MACross is a moving average crossover strategy. BUY on a golden cross
// (fast MA crossing above slow MA), SELL on a death cross. Repeated signals
// in the same direction are suppressed until the state flips.
type MACross struct {
	symbol     string
	fastPeriod int
	slowPeriod int

	engine     *indicators.Engine
	prevFast   indicators.Value
	prevSlow   indicators.Value
	prevSignal events.SignalType
}

// NewMACross creates an MA cross strategy for one symbol.
func NewMACross(symbol string, fastPeriod, slowPeriod int) *MACross {
	s := &MACross{
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
	}
	s.Reset()
	return s
}

func (s *MACross) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *MACross) CalculateIndicators(bar feed.Bar) (map[string]indicators.Value, error) {
	return s.engine.Update(bar.Symbol, bar.Close), nil
}

func (s *MACross) GenerateSignal(ev events.Market) *events.Signal {
	if ev.Symbol != s.symbol {
		return nil
	}

	fast, slow := ev.Indicators["sma_short"], ev.Indicators["sma_long"]
	defer func() { s.prevFast, s.prevSlow = fast, slow }()

	if !fast.Valid || !slow.Valid || !s.prevFast.Valid || !s.prevSlow.Valid {
		return nil
	}

	var signalType events.SignalType
	switch {
	case s.prevFast.Float64 <= s.prevSlow.Float64 && fast.Float64 > slow.Float64:
		signalType = events.SignalBuy
	case s.prevFast.Float64 >= s.prevSlow.Float64 && fast.Float64 < slow.Float64:
		signalType = events.SignalSell
	default:
		return nil
	}
	if signalType == s.prevSignal {
		return nil
	}
	s.prevSignal = signalType

	return &events.Signal{
		Symbol:    ev.Symbol,
		Timestamp: ev.Timestamp,
		Type:      signalType,
		Strength:  crossStrength(fast.Float64, slow.Float64),
		Strategy:  s.Name(),
		Metadata: map[string]float64{
			"fast_ma": fast.Float64,
			"slow_ma": slow.Float64,
		},
	}
}

func (s *MACross) OnFill(events.Fill) {}

func (s *MACross) Reset() {
	s.engine = indicators.NewEngine(s.fastPeriod, s.slowPeriod, 14)
	s.prevFast = indicators.None("no history")
	s.prevSlow = indicators.None("no history")
	s.prevSignal = events.SignalHold
}

// crossStrength maps the MA divergence to [0.3, 1]: a wide separation at the
// cross is a stronger trend change than a graze.
func crossStrength(fast, slow float64) float64 {
	if slow == 0 {
		return 0.3
	}
	divergence := math.Abs(fast-slow) / math.Abs(slow)
	return math.Min(1, 0.3+divergence*20)
}
