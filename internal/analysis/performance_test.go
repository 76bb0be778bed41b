package analysis

import (
	"math"
	"strings"
	"testing"
	"time"

	"backtest-core/internal/engine"
	"backtest-core/internal/portfolio"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func tradeWithPnL(pnl float64, hours float64) portfolio.Trade {
	entry := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return portfolio.Trade{
		ID:         "t",
		Symbol:     "BTCUSDT",
		Quantity:   1,
		EntryTime:  entry,
		ExitTime:   entry.Add(time.Duration(hours * float64(time.Hour))),
		PnL:        pnl,
		Commission: 2,
	}
}

func sampleResults() *engine.Results {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(365 * 24 * time.Hour)
	return &engine.Results{
		Symbol:         "BTCUSDT",
		Strategy:       "ma_cross",
		StartTime:      start,
		EndTime:        end,
		InitialCapital: 10000,
		FinalEquity:    12000,
		Returns:        []float64{0.01, -0.005, 0.008, 0.002},
		EquityCurve: []engine.EquityPoint{
			{Timestamp: start, Equity: 10000, PositionsCount: 0},
			{Timestamp: start.Add(24 * time.Hour), Equity: 10100, PositionsCount: 1},
			{Timestamp: start.Add(48 * time.Hour), Equity: 10050, PositionsCount: 1},
			{Timestamp: end, Equity: 12000, PositionsCount: 0},
		},
		Trades: []portfolio.Trade{
			tradeWithPnL(100, 12),
			tradeWithPnL(50, 6),
			tradeWithPnL(-30, 24),
			tradeWithPnL(-20, 6),
			tradeWithPnL(80, 12),
		},
		EventCounts: map[string]int{"market": 4},
	}
}

func TestAnalyzeReturns(t *testing.T) {
	a := NewAnalyzer(0.02)
	s := a.Analyze(sampleResults())

	if !almostEqual(s.TotalReturn, 0.2) {
		t.Errorf("total return = %v, want 0.2", s.TotalReturn)
	}
	// Exactly one year, so annual return equals total return.
	if math.Abs(s.AnnualReturn-0.2) > 1e-9 {
		t.Errorf("annual return = %v, want 0.2", s.AnnualReturn)
	}
	wantMonthly := math.Pow(1.2, 30.0/365.0) - 1
	if math.Abs(s.MonthlyReturn-wantMonthly) > 1e-9 {
		t.Errorf("monthly return = %v, want %v", s.MonthlyReturn, wantMonthly)
	}
}

func TestAnalyzeTradeStats(t *testing.T) {
	a := NewAnalyzer(0)
	s := a.Analyze(sampleResults())

	if s.TotalTrades != 5 || s.WinningTrades != 3 || s.LosingTrades != 2 {
		t.Errorf("trade counts = %d/%d/%d, want 5/3/2",
			s.TotalTrades, s.WinningTrades, s.LosingTrades)
	}
	if !almostEqual(s.AvgTradePnL, 36) {
		t.Errorf("avg pnl = %v, want 36", s.AvgTradePnL)
	}
	if s.BestTrade != 100 || s.WorstTrade != -30 {
		t.Errorf("best/worst = %v/%v, want 100/-30", s.BestTrade, s.WorstTrade)
	}
	if !almostEqual(s.TotalCommission, 10) {
		t.Errorf("commission = %v, want 10", s.TotalCommission)
	}
	if !almostEqual(s.AvgDuration, 12) {
		t.Errorf("avg duration = %v hours, want 12", s.AvgDuration)
	}
	// PnL signs: + + - - +  → longest win run 2, longest loss run 2.
	if s.LongestWinStreak != 2 {
		t.Errorf("win streak = %d, want 2", s.LongestWinStreak)
	}
	if s.LongestLossStreak != 2 {
		t.Errorf("loss streak = %d, want 2", s.LongestLossStreak)
	}
}

func TestAnalyzeTimeInMarket(t *testing.T) {
	a := NewAnalyzer(0)
	s := a.Analyze(sampleResults())

	// 2 of 4 equity points carry an open position.
	if !almostEqual(s.TimeInMarket, 50) {
		t.Errorf("time in market = %v, want 50", s.TimeInMarket)
	}
}

func TestAnalyzeEmptyRun(t *testing.T) {
	a := NewAnalyzer(0)
	s := a.Analyze(&engine.Results{InitialCapital: 10000, FinalEquity: 10000})

	if s.TotalReturn != 0 || s.TotalTrades != 0 || s.TimeInMarket != 0 {
		t.Errorf("empty run summary not zeroed: %+v", s)
	}
	if math.IsNaN(s.AnnualReturn) || math.IsNaN(s.Risk.SharpeRatio) {
		t.Error("empty run produced NaN")
	}
}

func TestReportContainsSections(t *testing.T) {
	a := NewAnalyzer(0.02)
	report := a.Report(sampleResults())

	for _, want := range []string{
		"BACKTEST PERFORMANCE REPORT",
		"Symbol:          BTCUSDT",
		"Strategy:        ma_cross",
		"Total Return:    20.00%",
		"-- Risk --",
		"-- Trades --",
		"Time in Market:  50.0%",
		"-- Execution --",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
