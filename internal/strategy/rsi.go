package strategy

import (
	"fmt"
	"math"

	"backtest-core/internal/events"
	"backtest-core/internal/feed"
	"backtest-core/internal/indicators"
)

// RSIStrategy trades RSI extremes: BUY below the oversold threshold, SELL
// above the overbought threshold, with the signal suppressed until RSI
// leaves the zone and re-enters.
type RSIStrategy struct {
	symbol     string
	period     int
	oversold   float64
	overbought float64

	engine     *indicators.Engine
	prevSignal events.SignalType
}

// NewRSIStrategy creates an RSI strategy with the usual 30/70 style bands.
func NewRSIStrategy(symbol string, period int, oversold, overbought float64) *RSIStrategy {
	s := &RSIStrategy{
		symbol:     symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
	}
	s.Reset()
	return s
}

func (s *RSIStrategy) Name() string {
	return fmt.Sprintf("RSI_%d", s.period)
}

func (s *RSIStrategy) CalculateIndicators(bar feed.Bar) (map[string]indicators.Value, error) {
	return s.engine.Update(bar.Symbol, bar.Close), nil
}

func (s *RSIStrategy) GenerateSignal(ev events.Market) *events.Signal {
	if ev.Symbol != s.symbol {
		return nil
	}
	rsi := ev.Indicators["rsi"]
	if !rsi.Valid {
		return nil
	}

	var signalType events.SignalType
	var strength float64
	switch {
	case rsi.Float64 < s.oversold:
		signalType = events.SignalBuy
		strength = zoneStrength(s.oversold - rsi.Float64)
	case rsi.Float64 > s.overbought:
		signalType = events.SignalSell
		strength = zoneStrength(rsi.Float64 - s.overbought)
	default:
		s.prevSignal = events.SignalHold
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
		Strength:  strength,
		Strategy:  s.Name(),
		Metadata:  map[string]float64{"rsi": rsi.Float64},
	}
}

func (s *RSIStrategy) OnFill(events.Fill) {}

func (s *RSIStrategy) Reset() {
	s.engine = indicators.NewEngine(s.period, s.period*2, s.period)
	s.prevSignal = events.SignalHold
}

// zoneStrength maps how deep RSI sits inside the extreme zone onto [0.3, 1].
func zoneStrength(depth float64) float64 {
	return math.Min(1, 0.3+depth/30)
}
