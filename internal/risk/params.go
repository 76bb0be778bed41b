// Package risk enforces portfolio risk limits during a backtest and provides
// the pure metric calculations used by the performance report.
package risk

// Parameters is the risk configuration snapshot for one run. It is read-only
// while the run is in flight; swap in a new set between runs.
type Parameters struct {
	MaxPositionSize  float64 `json:"max_position_size"`  // fraction of equity per position
	MaxPortfolioRisk float64 `json:"max_portfolio_risk"` // fraction of equity risked per trade
	MaxLeverage      float64 `json:"max_leverage"`
	MaxDrawdown      float64 `json:"max_drawdown"`     // fraction before trading halts
	DailyLossLimit   float64 `json:"daily_loss_limit"` // fraction of day-start equity
	PositionLimit    int     `json:"position_limit"`
	CorrelationLimit float64 `json:"correlation_limit"`

	UseDynamicSizing bool    `json:"use_dynamic_sizing"`
	KellyFraction    float64 `json:"kelly_fraction"` // fractional-Kelly multiplier
	MinKellyTrades   int     `json:"min_kelly_trades"`
	KellyLookback    int     `json:"kelly_lookback"` // most recent N closed trades

	VolatilityLookback  int     `json:"volatility_lookback"`
	TargetVolatility    float64 `json:"target_volatility"` // annualized
	CorrelationLookback int     `json:"correlation_lookback"`
}

// DefaultParameters returns a conservative baseline configuration.
func DefaultParameters() Parameters {
	return Parameters{
		MaxPositionSize:     0.1,
		MaxPortfolioRisk:    0.02,
		MaxLeverage:         10,
		MaxDrawdown:         0.2,
		DailyLossLimit:      0.05,
		PositionLimit:       10,
		CorrelationLimit:    0.7,
		UseDynamicSizing:    true,
		KellyFraction:       0.25,
		MinKellyTrades:      20,
		KellyLookback:       50,
		VolatilityLookback:  20,
		TargetVolatility:    0.15,
		CorrelationLookback: 60,
	}
}
