package risk

import (
	"math"

	"backtest-core/internal/events"
	"backtest-core/internal/portfolio"
)

// CalculatePositionSize returns the number of units to trade for a signal.
// It takes the most conservative of several independent caps rather than
// blending them: base fraction scaled by signal strength, a fractional-Kelly
// estimate from the recent closed-trade ledger, and a stop-loss-implied size
// when a stop is given (pass 0 for none). The winner is then scaled down for
// realized-vs-target volatility and for open-position heat.
func (m *Manager) CalculatePositionSize(signal events.Signal, p *portfolio.Portfolio, currentPrice, stopLoss float64) float64 {
	if currentPrice <= 0 {
		return 0
	}
	capital := p.TotalEquity()
	if capital <= 0 {
		return 0
	}

	size := capital * m.params.MaxPositionSize * signal.Strength

	if m.params.UseDynamicSizing {
		if kelly := m.KellySize(p, capital); kelly > 0 {
			size = math.Min(size, kelly)
		}
	}

	if stopLoss > 0 {
		size = math.Min(size, m.stopBasedSize(capital, currentPrice, stopLoss))
	}

	size = m.adjustForVolatility(signal.Symbol, size)
	size = m.adjustForHeat(p, size)

	return size / currentPrice
}

// KellySize estimates a position value from the win-rate and win/loss
// magnitudes of the most recent closed trades. The raw Kelly fraction is
// clamped to [0, 1] before the configured fractional multiplier is applied,
// and the estimate is zero until the minimum trade sample exists or when
// either the win or the loss sample is empty.
func (m *Manager) KellySize(p *portfolio.Portfolio, capital float64) float64 {
	trades := p.ClosedTrades()
	if len(trades) < m.params.MinKellyTrades {
		return 0
	}
	if m.params.KellyLookback > 0 && len(trades) > m.params.KellyLookback {
		trades = trades[len(trades)-m.params.KellyLookback:]
	}

	var wins, losses []float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else if t.PnL < 0 {
			losses = append(losses, t.PnL)
		}
	}
	if len(wins) == 0 || len(losses) == 0 {
		return 0
	}

	winRate := float64(len(wins)) / float64(len(trades))
	avgWin := mean(wins)
	avgLoss := math.Abs(mean(losses))
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}

	// Kelly: f = p - q/b with b the win/loss magnitude ratio.
	kelly := winRate - (1-winRate)/(avgWin/avgLoss)
	kelly = math.Max(0, math.Min(kelly, 1))

	return capital * kelly * m.params.KellyFraction
}

// stopBasedSize converts the per-trade risk budget into a position value
// implied by the distance to the stop.
func (m *Manager) stopBasedSize(capital, entryPrice, stopLoss float64) float64 {
	riskBudget := capital * m.params.MaxPortfolioRisk
	priceRisk := math.Abs(entryPrice - stopLoss)
	if priceRisk <= 0 {
		return capital * m.params.MaxPositionSize
	}
	return riskBudget * entryPrice / priceRisk
}

// adjustForVolatility scales the size down when recent realized volatility
// exceeds the target; it never scales up.
func (m *Manager) adjustForVolatility(symbol string, size float64) float64 {
	returns := m.returnsHistory[symbol]
	if len(returns) < m.params.VolatilityLookback {
		return size
	}
	recent := tailOf(returns, m.params.VolatilityLookback)
	vol := populationStd(recent) * math.Sqrt(periodsPerYear)
	if vol <= 0 {
		return size
	}
	scalar := math.Min(1, m.params.TargetVolatility/vol)
	return size * scalar
}

// adjustForHeat shrinks the size as the open-position count approaches the
// configured cap.
func (m *Manager) adjustForHeat(p *portfolio.Portfolio, size float64) float64 {
	if m.params.PositionLimit <= 0 {
		return size
	}
	n := len(p.Positions())
	if float64(n) < float64(m.params.PositionLimit)*0.8 {
		return size
	}
	reduction := 1 - float64(n)/float64(m.params.PositionLimit)*0.5
	return size * reduction
}

// populationStd is the n-denominator standard deviation used for realized
// volatility over a fixed window.
func populationStd(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
