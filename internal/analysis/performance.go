// Package analysis turns a finished run's equity curve and trade ledger into
// a performance summary and a printable report.
package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"backtest-core/internal/engine"
	"backtest-core/internal/portfolio"
	"backtest-core/internal/risk"
)

// Summary is the post-run aggregation: headline returns, the risk metrics
// set, and trade statistics.
type Summary struct {
	TotalReturn   float64 `json:"total_return"`
	AnnualReturn  float64 `json:"annual_return"`
	MonthlyReturn float64 `json:"monthly_return"`

	Risk risk.Metrics `json:"risk"`

	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	AvgTradePnL     float64 `json:"avg_trade_pnl"`
	BestTrade       float64 `json:"best_trade"`
	WorstTrade      float64 `json:"worst_trade"`
	TotalCommission float64 `json:"total_commission"`
	AvgDuration     float64 `json:"avg_duration_hours"`
	LongestWinStreak  int   `json:"longest_winning_streak"`
	LongestLossStreak int   `json:"longest_losing_streak"`

	TimeInMarket float64 `json:"time_in_market"` // percent of bars with an open position
}

// Analyzer computes summaries from run results.
type Analyzer struct {
	calc *risk.Calculator
}

// NewAnalyzer creates an analyzer with an annual risk-free rate.
func NewAnalyzer(riskFreeRate float64) *Analyzer {
	return &Analyzer{calc: risk.NewCalculator(riskFreeRate)}
}

// Analyze aggregates a run's results into a Summary.
func (a *Analyzer) Analyze(results *engine.Results) Summary {
	pnls := make([]float64, len(results.Trades))
	for i, t := range results.Trades {
		pnls[i] = t.PnL
	}

	s := Summary{
		TotalReturn: results.TotalReturn(),
		Risk:        a.calc.CalculateMetrics(results.Returns, pnls),
		TotalTrades: len(results.Trades),
	}

	days := results.EndTime.Sub(results.StartTime).Hours() / 24
	if days > 0 {
		s.AnnualReturn = math.Pow(1+s.TotalReturn, 365/days) - 1
		s.MonthlyReturn = math.Pow(1+s.TotalReturn, 30/days) - 1
	}

	s.fillTradeStats(results.Trades)

	if n := len(results.EquityCurve); n > 0 {
		var inMarket int
		for _, p := range results.EquityCurve {
			if p.PositionsCount > 0 {
				inMarket++
			}
		}
		s.TimeInMarket = float64(inMarket) / float64(n) * 100
	}

	return s
}

func (s *Summary) fillTradeStats(trades []portfolio.Trade) {
	if len(trades) == 0 {
		return
	}

	best := math.Inf(-1)
	worst := math.Inf(1)
	var totalPnL, totalCommission, totalHours float64
	var winStreak, lossStreak int

	for _, t := range trades {
		totalPnL += t.PnL
		totalCommission += t.Commission
		totalHours += t.Duration().Hours()
		if t.PnL > best {
			best = t.PnL
		}
		if t.PnL < worst {
			worst = t.PnL
		}

		if t.PnL > 0 {
			s.WinningTrades++
			winStreak++
			lossStreak = 0
		} else {
			s.LosingTrades++
			lossStreak++
			winStreak = 0
		}
		if winStreak > s.LongestWinStreak {
			s.LongestWinStreak = winStreak
		}
		if lossStreak > s.LongestLossStreak {
			s.LongestLossStreak = lossStreak
		}
	}

	n := float64(len(trades))
	s.AvgTradePnL = totalPnL / n
	s.BestTrade = best
	s.WorstTrade = worst
	s.TotalCommission = totalCommission
	s.AvgDuration = totalHours / n
}

// Report renders a plain-text performance report for terminals and logs.
func (a *Analyzer) Report(results *engine.Results) string {
	s := a.Analyze(results)

	var b strings.Builder
	line := strings.Repeat("=", 50)

	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, "BACKTEST PERFORMANCE REPORT\n")
	fmt.Fprintf(&b, "%s\n", line)
	fmt.Fprintf(&b, "Symbol:          %s\n", results.Symbol)
	fmt.Fprintf(&b, "Strategy:        %s\n", results.Strategy)
	fmt.Fprintf(&b, "Period:          %s -> %s\n",
		results.StartTime.Format(time.DateOnly), results.EndTime.Format(time.DateOnly))
	fmt.Fprintf(&b, "Initial Capital: %.2f\n", results.InitialCapital)
	fmt.Fprintf(&b, "Final Equity:    %.2f\n", results.FinalEquity)
	if results.TradingHalted {
		fmt.Fprintf(&b, "NOTE: trading halted by a critical risk event\n")
	}

	fmt.Fprintf(&b, "\n-- Returns --\n")
	fmt.Fprintf(&b, "Total Return:    %.2f%%\n", s.TotalReturn*100)
	fmt.Fprintf(&b, "Annual Return:   %.2f%%\n", s.AnnualReturn*100)

	fmt.Fprintf(&b, "\n-- Risk --\n")
	fmt.Fprintf(&b, "Volatility:      %.2f%%\n", s.Risk.Volatility*100)
	fmt.Fprintf(&b, "Sharpe Ratio:    %.2f\n", s.Risk.SharpeRatio)
	fmt.Fprintf(&b, "Sortino Ratio:   %.2f\n", s.Risk.SortinoRatio)
	fmt.Fprintf(&b, "Max Drawdown:    %.2f%% (%d bars)\n", s.Risk.MaxDrawdown*100, s.Risk.MaxDrawdownDuration)
	fmt.Fprintf(&b, "VaR 95:          %.2f%%\n", s.Risk.VaR95*100)
	fmt.Fprintf(&b, "CVaR 95:         %.2f%%\n", s.Risk.CVaR95*100)
	fmt.Fprintf(&b, "Calmar Ratio:    %.2f\n", s.Risk.CalmarRatio)

	fmt.Fprintf(&b, "\n-- Trades --\n")
	fmt.Fprintf(&b, "Total Trades:    %d (%d W / %d L)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(&b, "Win Rate:        %.1f%%\n", s.Risk.WinRate)
	fmt.Fprintf(&b, "Profit Factor:   %s\n", formatRatio(s.Risk.ProfitFactor))
	fmt.Fprintf(&b, "Expectancy:      %.2f\n", s.Risk.Expectancy)
	fmt.Fprintf(&b, "Best / Worst:    %.2f / %.2f\n", s.BestTrade, s.WorstTrade)
	fmt.Fprintf(&b, "Commission:      %.2f\n", s.TotalCommission)
	fmt.Fprintf(&b, "Time in Market:  %.1f%%\n", s.TimeInMarket)

	fmt.Fprintf(&b, "\n-- Execution --\n")
	fmt.Fprintf(&b, "Orders:          %d (%d filled, %d rejected)\n",
		results.ExecutionStats.TotalOrders, results.ExecutionStats.FilledOrders, results.ExecutionStats.RejectedOrders)
	fmt.Fprintf(&b, "Fill Rate:       %.1f%%\n", results.ExecutionStats.FillRate*100)
	fmt.Fprintf(&b, "Slippage Cost:   %.2f\n", results.ExecutionStats.TotalSlippageCost)
	fmt.Fprintf(&b, "%s\n", line)

	return b.String()
}

func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}
