package risk

import (
	"math"
	"sort"
)

const periodsPerYear = 252

// Metrics is the full set of risk-adjusted performance numbers computed from
// a return series and an optional trade P&L list.
type Metrics struct {
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	VaR95               float64 `json:"var_95"`
	CVaR95              float64 `json:"cvar_95"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	OmegaRatio          float64 `json:"omega_ratio"`
	DownsideDeviation   float64 `json:"downside_deviation"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	Expectancy          float64 `json:"expectancy"`
	RiskRewardRatio     float64 `json:"risk_reward_ratio"`
}

// Calculator computes risk metrics. It is pure and stateless apart from the
// configured risk-free rate; every method treats an empty or single-element
// series as a degenerate zero result, never NaN.
type Calculator struct {
	riskFreeRate float64 // annual
	dailyRFRate  float64
}

// NewCalculator creates a calculator with an annual risk-free rate.
func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{
		riskFreeRate: riskFreeRate,
		dailyRFRate:  riskFreeRate / periodsPerYear,
	}
}

// CalculateMetrics computes the full metrics set. tradePnLs may be nil.
func (c *Calculator) CalculateMetrics(returns []float64, tradePnLs []float64) Metrics {
	maxDD, maxDDDuration := c.MaxDrawdown(returns)

	m := Metrics{
		Volatility:          c.Volatility(returns),
		SharpeRatio:         c.SharpeRatio(returns),
		SortinoRatio:        c.SortinoRatio(returns),
		MaxDrawdown:         maxDD,
		MaxDrawdownDuration: maxDDDuration,
		VaR95:               c.VaR(returns, 0.95),
		CVaR95:              c.CVaR(returns, 0.95),
		CalmarRatio:         c.CalmarRatio(returns, maxDD),
		OmegaRatio:          c.OmegaRatio(returns, 0),
		DownsideDeviation:   c.DownsideDeviation(returns, 0),
	}
	if len(tradePnLs) > 0 {
		m.WinRate = WinRate(tradePnLs)
		m.ProfitFactor = ProfitFactor(tradePnLs)
		m.Expectancy = Expectancy(tradePnLs)
		m.RiskRewardRatio = RiskRewardRatio(tradePnLs)
	}
	return m
}

// Volatility is the annualized sample standard deviation of returns.
func (c *Calculator) Volatility(returns []float64) float64 {
	return stdDev(returns) * math.Sqrt(periodsPerYear)
}

// SharpeRatio is sqrt(252) * mean(excess return) / std(returns). Zero
// standard deviation yields zero, not infinity.
func (c *Calculator) SharpeRatio(returns []float64) float64 {
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(periodsPerYear) * (mean(returns) - c.dailyRFRate) / sd
}

// SortinoRatio replaces the denominator with the standard deviation of
// negative returns only.
func (c *Calculator) SortinoRatio(returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	sd := stdDev(downside)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(periodsPerYear) * (mean(returns) - c.dailyRFRate) / sd
}

// MaxDrawdown returns the deepest peak-to-trough decline of the cumulative
// return curve as a positive fraction, and the longest contiguous run of
// periods spent below a prior peak.
func (c *Calculator) MaxDrawdown(returns []float64) (float64, int) {
	if len(returns) == 0 {
		return 0, 0
	}

	cum := 1.0
	runningMax := 1.0
	maxDD := 0.0
	maxDuration, currentDuration := 0, 0

	for _, r := range returns {
		cum *= 1 + r
		if cum > runningMax {
			runningMax = cum
		}
		dd := (cum - runningMax) / runningMax
		if dd < maxDD {
			maxDD = dd
		}
		if dd < 0 {
			currentDuration++
			if currentDuration > maxDuration {
				maxDuration = currentDuration
			}
		} else {
			currentDuration = 0
		}
	}
	return math.Abs(maxDD), maxDuration
}

// VaR is the loss magnitude at the (1-confidence) percentile of the return
// distribution, as a positive number.
func (c *Calculator) VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return math.Abs(percentile(returns, (1-confidence)*100))
}

// CVaR is the mean of returns at or below the negated VaR. With no returns
// in the tail it degrades to VaR itself.
func (c *Calculator) CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	v := c.VaR(returns, confidence)

	var tail []float64
	for _, r := range returns {
		if r <= -v {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return v
	}
	return math.Abs(mean(tail))
}

// CalmarRatio is annualized return over max drawdown magnitude.
func (c *Calculator) CalmarRatio(returns []float64, maxDrawdown float64) float64 {
	if maxDrawdown == 0 || len(returns) == 0 {
		return 0
	}
	cum := 1.0
	for _, r := range returns {
		cum *= 1 + r
	}
	if cum <= 0 {
		return 0
	}
	annualReturn := math.Pow(cum, periodsPerYear/float64(len(returns))) - 1
	return annualReturn / maxDrawdown
}

// OmegaRatio is the sum of gains above the threshold over the sum of losses
// below it.
func (c *Calculator) OmegaRatio(returns []float64, threshold float64) float64 {
	var above, below float64
	for _, r := range returns {
		if r > threshold {
			above += r - threshold
		} else {
			below += threshold - r
		}
	}
	if below == 0 {
		if above > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return above / below
}

// DownsideDeviation is the annualized root-mean-square of returns below the
// threshold.
func (c *Calculator) DownsideDeviation(returns []float64, threshold float64) float64 {
	var sumSq float64
	var n int
	for _, r := range returns {
		if r < threshold {
			d := r - threshold
			sumSq += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq/float64(n)) * math.Sqrt(periodsPerYear)
}

// WinRate is the percentage of trades with positive P&L.
func WinRate(tradePnLs []float64) float64 {
	if len(tradePnLs) == 0 {
		return 0
	}
	var wins int
	for _, p := range tradePnLs {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(tradePnLs)) * 100
}

// ProfitFactor is gross profit over gross loss. With no losses it is +Inf
// when there is any profit, else zero.
func ProfitFactor(tradePnLs []float64) float64 {
	if len(tradePnLs) == 0 {
		return 0
	}
	var grossProfit, grossLoss float64
	for _, p := range tradePnLs {
		if p > 0 {
			grossProfit += p
		} else if p < 0 {
			grossLoss += -p
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}

// Expectancy is the mean P&L per trade.
func Expectancy(tradePnLs []float64) float64 {
	if len(tradePnLs) == 0 {
		return 0
	}
	return mean(tradePnLs)
}

// RiskRewardRatio is average win over average loss magnitude; zero when
// either sample is empty.
func RiskRewardRatio(tradePnLs []float64) float64 {
	var wins, losses []float64
	for _, p := range tradePnLs {
		if p > 0 {
			wins = append(wins, p)
		} else if p < 0 {
			losses = append(losses, p)
		}
	}
	if len(wins) == 0 || len(losses) == 0 {
		return 0
	}
	avgLoss := math.Abs(mean(losses))
	if avgLoss == 0 {
		return 0
	}
	return mean(wins) / avgLoss
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the sample standard deviation (n-1 denominator). Fewer than two
// samples yields zero.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// percentile computes the p-th percentile with linear interpolation between
// order statistics.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
