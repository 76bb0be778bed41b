package risk

import (
	"testing"
	"time"

	"backtest-core/internal/events"
	"backtest-core/internal/portfolio"
)

func wideParams() Parameters {
	p := DefaultParameters()
	p.MaxDrawdown = 0.9
	p.DailyLossLimit = 0.9
	p.MaxLeverage = 100
	p.MaxPositionSize = 0.9
	return p
}

func barAt(ts time.Time, symbol string, close float64) events.Market {
	return events.Market{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1000,
	}
}

func buyFill(ts time.Time, symbol string, qty, price float64) events.Fill {
	return events.Fill{
		Symbol:    symbol,
		Timestamp: ts,
		Direction: events.Buy,
		Quantity:  qty,
		Price:     price,
		OrderType: events.OrderMarket,
	}
}

func sellFill(ts time.Time, symbol string, qty, price float64) events.Fill {
	f := buyFill(ts, symbol, qty, price)
	f.Direction = events.Sell
	return f
}

func findRisk(evs []events.Risk, riskType string) *events.Risk {
	for i := range evs {
		if evs[i].Type == riskType {
			return &evs[i]
		}
	}
	return nil
}

func TestDrawdownLimits(t *testing.T) {
	params := wideParams()
	params.MaxDrawdown = 0.2

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
	m := NewManager(params)

	// Establish the peak at full equity, then open a position.
	m.CheckRiskLimits(p, barAt(now, "BTCUSDT", 100))
	p.UpdateFill(buyFill(now, "BTCUSDT", 50, 100))

	tests := []struct {
		name         string
		price        float64
		wantSeverity events.Severity
		wantEvent    bool
	}{
		{"small dip is quiet", 95, "", false},
		{"80% of cap is HIGH", 66, events.SeverityHigh, true},   // dd = 17%
		{"beyond cap is CRITICAL", 55, events.SeverityCritical, true}, // dd = 22.5%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.UpdateMarketPrice("BTCUSDT", tt.price)
			evs := m.CheckRiskLimits(p, barAt(now.Add(time.Hour), "BTCUSDT", tt.price))
			ev := findRisk(evs, "DRAWDOWN")
			if !tt.wantEvent {
				if ev != nil {
					t.Fatalf("unexpected drawdown event: %+v", ev)
				}
				return
			}
			if ev == nil {
				t.Fatal("expected drawdown event")
			}
			if ev.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", ev.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestDrawdownUsesRunningPeak(t *testing.T) {
	params := wideParams()
	params.MaxDrawdown = 0.2

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
	m := NewManager(params)

	p.UpdateFill(buyFill(now, "BTCUSDT", 50, 100))

	// Ride equity up to 12500, then fall back to 10250: an 18% drop from
	// the new peak even though it is above initial capital.
	p.UpdateMarketPrice("BTCUSDT", 150)
	m.CheckRiskLimits(p, barAt(now, "BTCUSDT", 150))
	p.UpdateMarketPrice("BTCUSDT", 105)
	evs := m.CheckRiskLimits(p, barAt(now.Add(time.Hour), "BTCUSDT", 105))

	ev := findRisk(evs, "DRAWDOWN")
	if ev == nil {
		t.Fatal("expected drawdown event measured from the running peak")
	}
	if ev.Severity != events.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", ev.Severity)
	}
}

func TestDailyLossResetsAtUTCRollover(t *testing.T) {
	params := wideParams()
	params.DailyLossLimit = 0.05

	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
	m := NewManager(params)

	m.CheckRiskLimits(p, barAt(day1, "BTCUSDT", 100))
	p.UpdateFill(buyFill(day1, "BTCUSDT", 50, 100))

	// 6% down on the day.
	p.UpdateMarketPrice("BTCUSDT", 88)
	evs := m.CheckRiskLimits(p, barAt(day1.Add(2*time.Hour), "BTCUSDT", 88))
	if findRisk(evs, "DAILY_LOSS") == nil {
		t.Fatal("expected daily loss event")
	}

	// Same equity the next UTC day: the window restarts, no event.
	day2 := day1.Add(24 * time.Hour)
	evs = m.CheckRiskLimits(p, barAt(day2, "BTCUSDT", 88))
	if findRisk(evs, "DAILY_LOSS") != nil {
		t.Error("daily loss should reset at the UTC date rollover")
	}
}

func TestConcentrationLimit(t *testing.T) {
	params := wideParams()
	params.MaxPositionSize = 0.1

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
	m := NewManager(params)

	// 20% of equity in one symbol, above the 15% concentration bound.
	p.UpdateFill(buyFill(now, "BTCUSDT", 20, 100))
	evs := m.CheckRiskLimits(p, barAt(now, "BTCUSDT", 100))

	ev := findRisk(evs, "POSITION_SIZE")
	if ev == nil {
		t.Fatal("expected concentration event")
	}
	if ev.Severity != events.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", ev.Severity)
	}
}

func TestLeverageLimit(t *testing.T) {
	params := wideParams()
	params.MaxLeverage = 10

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
	m := NewManager(params)

	// 200k notional on 10k equity: 20x.
	p.UpdateFill(buyFill(now, "BTCUSDT", 2000, 100))
	evs := m.CheckRiskLimits(p, barAt(now, "BTCUSDT", 100))

	ev := findRisk(evs, "LEVERAGE")
	if ev == nil {
		t.Fatal("expected leverage event")
	}
	if ev.Severity != events.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", ev.Severity)
	}
}

func TestApproveSignal(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	signal := events.Signal{Symbol: "ETHUSDT", Timestamp: now, Type: events.SignalBuy, Strength: 1}

	t.Run("clean state approves", func(t *testing.T) {
		m := NewManager(wideParams())
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
		if !m.ApproveSignal(signal, p) {
			t.Error("expected approval")
		}
	})

	t.Run("position limit vetoes", func(t *testing.T) {
		params := wideParams()
		params.PositionLimit = 1
		m := NewManager(params)
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
		p.UpdateFill(buyFill(now, "BTCUSDT", 1, 100))
		if m.ApproveSignal(signal, p) {
			t.Error("expected veto at position limit")
		}
	})

	t.Run("drawdown proximity vetoes", func(t *testing.T) {
		params := wideParams()
		params.MaxDrawdown = 0.2
		m := NewManager(params)
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})

		m.CheckRiskLimits(p, barAt(now, "BTCUSDT", 100))
		p.UpdateFill(buyFill(now, "BTCUSDT", 50, 100))
		p.UpdateMarketPrice("BTCUSDT", 66) // 17% drawdown, inside the 80% band
		m.CheckRiskLimits(p, barAt(now.Add(time.Hour), "BTCUSDT", 66))

		if m.ApproveSignal(signal, p) {
			t.Error("expected veto near max drawdown")
		}
	})
}

func TestCorrelationVeto(t *testing.T) {
	params := wideParams()
	params.CorrelationLimit = 0.9

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := portfolio.New(portfolio.Config{InitialCapital: 100000, MaxPositionSize: 0.5})
	m := NewManager(params)

	// Feed both symbols an identical price path: correlation 1.0.
	prices := []float64{100, 101, 99, 102, 98, 103, 97, 104, 96, 105, 95, 106, 94, 107, 93, 108}
	for i, price := range prices {
		ts := start.Add(time.Duration(i) * time.Hour)
		m.CheckRiskLimits(p, barAt(ts, "AAAUSDT", price))
		m.CheckRiskLimits(p, barAt(ts, "BBBUSDT", price))
	}

	p.UpdateFill(buyFill(start, "AAAUSDT", 1, 100))

	signal := events.Signal{Symbol: "BBBUSDT", Timestamp: start, Type: events.SignalBuy, Strength: 1}
	if m.ApproveSignal(signal, p) {
		t.Error("expected veto for perfectly correlated symbol")
	}

	// An uncorrelated (unknown) symbol passes.
	other := events.Signal{Symbol: "CCCUSDT", Timestamp: start, Type: events.SignalBuy, Strength: 1}
	if !m.ApproveSignal(other, p) {
		t.Error("expected approval for symbol without correlated history")
	}
}

func TestKellySize(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Build a ledger by opening and closing single-unit positions.
	buildTrades := func(p *portfolio.Portfolio, wins, losses int) {
		ts := now
		for i := 0; i < wins; i++ {
			p.UpdateFill(buyFill(ts, "BTCUSDT", 1, 100))
			p.UpdateFill(sellFill(ts.Add(time.Minute), "BTCUSDT", 1, 110))
			ts = ts.Add(time.Hour)
		}
		for i := 0; i < losses; i++ {
			p.UpdateFill(buyFill(ts, "BTCUSDT", 1, 100))
			p.UpdateFill(sellFill(ts.Add(time.Minute), "BTCUSDT", 1, 95))
			ts = ts.Add(time.Hour)
		}
	}

	t.Run("below minimum sample returns zero", func(t *testing.T) {
		m := NewManager(DefaultParameters())
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
		buildTrades(p, 5, 5)
		if size := m.KellySize(p, 10000); size != 0 {
			t.Errorf("size = %.2f, want 0 with only 10 trades", size)
		}
	})

	t.Run("clamped within the fractional cap", func(t *testing.T) {
		m := NewManager(DefaultParameters())
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
		buildTrades(p, 18, 7)

		size := m.KellySize(p, 10000)
		if size < 0 {
			t.Errorf("size = %.2f, must be non-negative", size)
		}
		cap := 10000 * m.Parameters().KellyFraction
		if size > cap {
			t.Errorf("size = %.2f, exceeds fractional cap %.2f", size, cap)
		}
		if size == 0 {
			t.Error("favorable ledger should produce a positive Kelly size")
		}
	})

	t.Run("zero when either sample is empty", func(t *testing.T) {
		m := NewManager(DefaultParameters())
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
		buildTrades(p, 25, 0)
		if size := m.KellySize(p, 10000); size != 0 {
			t.Errorf("size = %.2f, want 0 with no losing trades", size)
		}
	})
}

func TestCalculatePositionSize(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("base size without history", func(t *testing.T) {
		params := wideParams()
		params.MaxPositionSize = 0.1
		params.UseDynamicSizing = false
		m := NewManager(params)
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.1})

		signal := events.Signal{Symbol: "BTCUSDT", Timestamp: now, Type: events.SignalBuy, Strength: 1}
		units := m.CalculatePositionSize(signal, p, 100, 0)
		if units != 10 {
			t.Errorf("units = %.4f, want 10 (10%% of 10k at price 100)", units)
		}

		signal.Strength = 0.5
		units = m.CalculatePositionSize(signal, p, 100, 0)
		if units != 5 {
			t.Errorf("units = %.4f, want 5 at half strength", units)
		}
	})

	t.Run("stop loss caps the size", func(t *testing.T) {
		params := wideParams()
		params.MaxPositionSize = 0.5
		params.MaxPortfolioRisk = 0.02
		params.UseDynamicSizing = false
		m := NewManager(params)
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})

		signal := events.Signal{Symbol: "BTCUSDT", Timestamp: now, Type: events.SignalBuy, Strength: 1}
		// Risk budget 200; stop 10 away from entry 100 → 2000 value → 20 units.
		units := m.CalculatePositionSize(signal, p, 100, 90)
		if units != 20 {
			t.Errorf("units = %.4f, want 20", units)
		}
	})

	t.Run("zero price yields zero", func(t *testing.T) {
		m := NewManager(wideParams())
		p := portfolio.New(portfolio.Config{InitialCapital: 10000, MaxPositionSize: 0.5})
		signal := events.Signal{Symbol: "BTCUSDT", Timestamp: now, Type: events.SignalBuy, Strength: 1}
		if units := m.CalculatePositionSize(signal, p, 0, 0); units != 0 {
			t.Errorf("units = %.4f, want 0", units)
		}
	})
}
