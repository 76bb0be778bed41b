package risk

import (
	"fmt"
	"log"
	"math"
	"time"

	"backtest-core/internal/events"
	"backtest-core/internal/portfolio"
)

// Manager evaluates portfolio state against the configured limits each bar
// and vets candidate signals before they become orders. It keeps its own
// rolling price/return history per symbol; nothing else mutates it.
type Manager struct {
	params Parameters

	peakEquity         float64
	currentDrawdown    float64
	maxDrawdownReached float64

	dailyLoss      float64
	dayStartEquity float64
	currentDay     time.Time // UTC midnight of the bar day

	priceHistory   map[string][]float64
	returnsHistory map[string][]float64
}

// NewManager creates a manager with the given parameters.
func NewManager(params Parameters) *Manager {
	m := &Manager{params: params}
	m.Reset()
	return m
}

// Parameters returns the active configuration.
func (m *Manager) Parameters() Parameters { return m.params }

// CurrentDrawdown returns the drawdown fraction as of the last check.
func (m *Manager) CurrentDrawdown() float64 { return m.currentDrawdown }

// MaxDrawdownReached returns the worst drawdown seen this run.
func (m *Manager) MaxDrawdownReached() float64 { return m.maxDrawdownReached }

// Reset clears all rolling state for a fresh run.
func (m *Manager) Reset() {
	m.peakEquity = 0
	m.currentDrawdown = 0
	m.maxDrawdownReached = 0
	m.dailyLoss = 0
	m.dayStartEquity = 0
	m.currentDay = time.Time{}
	m.priceHistory = make(map[string][]float64)
	m.returnsHistory = make(map[string][]float64)
}

// CheckRiskLimits runs the per-bar sweep: drawdown, daily loss,
// concentration, leverage. Each check is independently gated and the
// returned events carry the bar's timestamp.
func (m *Manager) CheckRiskLimits(p *portfolio.Portfolio, bar events.Market) []events.Risk {
	m.updatePriceHistory(bar.Symbol, bar.Close)
	m.rollDailyWindow(p, bar.Timestamp)

	var out []events.Risk
	if ev := m.checkDrawdown(p, bar.Timestamp); ev != nil {
		out = append(out, *ev)
	}
	if ev := m.checkDailyLoss(p, bar.Timestamp); ev != nil {
		out = append(out, *ev)
	}
	if ev := m.checkConcentration(p, bar.Timestamp); ev != nil {
		out = append(out, *ev)
	}
	if ev := m.checkLeverage(p, bar.Timestamp); ev != nil {
		out = append(out, *ev)
	}
	return out
}

// ApproveSignal is the pre-trade veto: drawdown proximity, position-count
// cap, daily-loss proximity, and return correlation against held symbols.
func (m *Manager) ApproveSignal(signal events.Signal, p *portfolio.Portfolio) bool {
	if m.currentDrawdown > m.params.MaxDrawdown*0.8 {
		log.Printf("Signal rejected: near max drawdown (%.2f%%)", m.currentDrawdown*100)
		return false
	}
	if len(p.Positions()) >= m.params.PositionLimit {
		log.Printf("Signal rejected: position limit reached (%d)", m.params.PositionLimit)
		return false
	}
	if m.dailyLoss > m.params.DailyLossLimit*0.8 {
		log.Printf("Signal rejected: near daily loss limit (%.2f%%)", m.dailyLoss*100)
		return false
	}
	if !m.correlationOK(signal.Symbol, p) {
		log.Printf("Signal rejected: correlation limit exceeded for %s", signal.Symbol)
		return false
	}
	return true
}

// rollDailyWindow resets the daily-loss tracker at a UTC-date rollover.
func (m *Manager) rollDailyWindow(p *portfolio.Portfolio, ts time.Time) {
	day := ts.UTC().Truncate(24 * time.Hour)
	if m.currentDay.IsZero() || day.After(m.currentDay) {
		m.currentDay = day
		m.dayStartEquity = p.TotalEquity()
		m.dailyLoss = 0
	}
}

func (m *Manager) checkDrawdown(p *portfolio.Portfolio, ts time.Time) *events.Risk {
	equity := p.TotalEquity()
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity <= 0 {
		return nil
	}

	drawdown := (m.peakEquity - equity) / m.peakEquity
	m.currentDrawdown = drawdown
	if drawdown > m.maxDrawdownReached {
		m.maxDrawdownReached = drawdown
	}

	switch {
	case drawdown > m.params.MaxDrawdown:
		return &events.Risk{
			Timestamp: ts,
			Type:      "DRAWDOWN",
			Severity:  events.SeverityCritical,
			Message:   fmt.Sprintf("maximum drawdown exceeded: %.2f%%", drawdown*100),
			Action:    "HALT_TRADING",
			Metadata:  map[string]float64{"drawdown": drawdown, "limit": m.params.MaxDrawdown},
		}
	case drawdown > m.params.MaxDrawdown*0.8:
		return &events.Risk{
			Timestamp: ts,
			Type:      "DRAWDOWN",
			Severity:  events.SeverityHigh,
			Message:   fmt.Sprintf("approaching max drawdown: %.2f%%", drawdown*100),
			Action:    "REDUCE_RISK",
			Metadata:  map[string]float64{"drawdown": drawdown, "limit": m.params.MaxDrawdown},
		}
	}
	return nil
}

func (m *Manager) checkDailyLoss(p *portfolio.Portfolio, ts time.Time) *events.Risk {
	if m.dayStartEquity <= 0 {
		return nil
	}
	pnl := (p.TotalEquity() - m.dayStartEquity) / m.dayStartEquity
	if pnl < 0 {
		m.dailyLoss = -pnl
	}

	if m.dailyLoss > m.params.DailyLossLimit {
		return &events.Risk{
			Timestamp: ts,
			Type:      "DAILY_LOSS",
			Severity:  events.SeverityHigh,
			Message:   fmt.Sprintf("daily loss limit exceeded: %.2f%%", m.dailyLoss*100),
			Action:    "HALT_TRADING_TODAY",
			Metadata:  map[string]float64{"daily_loss": m.dailyLoss, "limit": m.params.DailyLossLimit},
		}
	}
	return nil
}

func (m *Manager) checkConcentration(p *portfolio.Portfolio, ts time.Time) *events.Risk {
	equity := p.TotalEquity()
	if equity <= 0 {
		return nil
	}
	for symbol, pos := range p.Positions() {
		concentration := pos.MarketValue() / equity
		if concentration > m.params.MaxPositionSize*1.5 {
			return &events.Risk{
				Timestamp: ts,
				Type:      "POSITION_SIZE",
				Severity:  events.SeverityHigh,
				Message:   fmt.Sprintf("position concentration too high: %s = %.2f%%", symbol, concentration*100),
				Action:    "REDUCE_POSITION",
				Metadata:  map[string]float64{"concentration": concentration},
			}
		}
	}
	return nil
}

func (m *Manager) checkLeverage(p *portfolio.Portfolio, ts time.Time) *events.Risk {
	equity := p.TotalEquity()
	if equity <= 0 {
		return nil
	}
	leverage := p.PositionsValue() / equity
	if leverage > m.params.MaxLeverage {
		return &events.Risk{
			Timestamp: ts,
			Type:      "LEVERAGE",
			Severity:  events.SeverityCritical,
			Message:   fmt.Sprintf("leverage limit exceeded: %.1fx", leverage),
			Action:    "REDUCE_LEVERAGE",
			Metadata:  map[string]float64{"leverage": leverage, "limit": m.params.MaxLeverage},
		}
	}
	return nil
}

// correlationOK checks the candidate symbol's trailing-window return
// correlation against every held symbol. Too little history to compute a
// correlation means allow.
func (m *Manager) correlationOK(symbol string, p *portfolio.Portfolio) bool {
	if len(p.Positions()) == 0 {
		return true
	}
	candidate, ok := m.returnsHistory[symbol]
	if !ok {
		return true
	}
	candidate = tailOf(candidate, m.params.CorrelationLookback)

	for held := range p.Positions() {
		if held == symbol {
			continue
		}
		heldReturns, ok := m.returnsHistory[held]
		if !ok {
			continue
		}
		heldReturns = tailOf(heldReturns, m.params.CorrelationLookback)

		const minSamples = 10
		if len(candidate) <= minSamples || len(heldReturns) <= minSamples {
			continue
		}
		corr := correlation(candidate, heldReturns)
		if math.IsNaN(corr) {
			continue
		}
		if math.Abs(corr) > m.params.CorrelationLimit {
			log.Printf("High correlation: %s vs %s = %.2f", symbol, held, corr)
			return false
		}
	}
	return true
}

func (m *Manager) updatePriceHistory(symbol string, price float64) {
	prices := m.priceHistory[symbol]
	if n := len(prices); n > 0 && prices[n-1] != 0 {
		ret := (price - prices[n-1]) / prices[n-1]
		m.returnsHistory[symbol] = append(m.returnsHistory[symbol], ret)
	}
	m.priceHistory[symbol] = append(prices, price)

	maxLookback := m.params.VolatilityLookback
	if m.params.CorrelationLookback > maxLookback {
		maxLookback = m.params.CorrelationLookback
	}
	if len(m.priceHistory[symbol]) > maxLookback+1 {
		m.priceHistory[symbol] = m.priceHistory[symbol][1:]
	}
	if len(m.returnsHistory[symbol]) > maxLookback {
		m.returnsHistory[symbol] = m.returnsHistory[symbol][1:]
	}
}

// correlation is the Pearson coefficient over the trailing overlap of the
// two series.
func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return math.NaN()
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	meanA, meanB := mean(a), mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}

func tailOf(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
