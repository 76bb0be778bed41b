// Package strategy defines the contract the backtest engine consumes and a
// couple of built-in indicator strategies.
package strategy

import (
	"backtest-core/internal/events"
	"backtest-core/internal/feed"
	"backtest-core/internal/indicators"
)

// Strategy is the engine's view of a signal generator. CalculateIndicators
// runs before the bar's MarketEvent is built; an error there aborts the run.
// GenerateSignal may return nil for "no action"; a panic or bad value from it
// is treated as no signal for that bar, not a run failure.
type Strategy interface {
	Name() string
	CalculateIndicators(bar feed.Bar) (map[string]indicators.Value, error)
	GenerateSignal(ev events.Market) *events.Signal
	OnFill(fill events.Fill)
	Reset()
}
