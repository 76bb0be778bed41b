package engine

import (
	"time"

	"backtest-core/internal/broker"
	"backtest-core/internal/monitor"
	"backtest-core/internal/portfolio"
	"backtest-core/internal/risk"
)

// EquityPoint is the per-bar portfolio snapshot recorded after the bar's
// events have fully resolved.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	PositionsCount int       `json:"positions_count"`
	Price          float64   `json:"price"`
}

// Results is everything a run hands back to the caller: the equity curve,
// the closed-trade ledger, per-event-type counts, execution statistics, and
// the computed performance metrics.
type Results struct {
	RunID          string              `json:"run_id"`
	Symbol         string              `json:"symbol"`
	Strategy       string              `json:"strategy"`
	StartTime      time.Time           `json:"start_time"`
	EndTime        time.Time           `json:"end_time"`
	InitialCapital float64             `json:"initial_capital"`
	FinalEquity    float64             `json:"final_equity"`
	EquityCurve    []EquityPoint       `json:"equity_curve"`
	Returns        []float64           `json:"returns"`
	Trades         []portfolio.Trade   `json:"trades"`
	EventCounts    map[string]int      `json:"event_counts"`
	Metrics        risk.Metrics        `json:"metrics"`
	ExecutionStats broker.Statistics   `json:"execution_stats"`
	BarLatency     monitor.LatencyStats `json:"bar_latency"`
	TradingHalted  bool                `json:"trading_halted"`
}

// TotalReturn is the fractional gain over initial capital.
func (r *Results) TotalReturn() float64 {
	if r.InitialCapital == 0 {
		return 0
	}
	return (r.FinalEquity - r.InitialCapital) / r.InitialCapital
}
