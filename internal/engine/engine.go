// Package engine drives the event loop of a backtest: one MarketEvent per
// bar, a FIFO queue drained to empty before the next bar, and a fixed
// dispatch order so runs are exactly reproducible.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"backtest-core/internal/broker"
	"backtest-core/internal/events"
	"backtest-core/internal/feed"
	"backtest-core/internal/monitor"
	"backtest-core/internal/portfolio"
	"backtest-core/internal/risk"
	"backtest-core/internal/strategy"
)

// Deps are the collaborators of one run. Parallel runs must each get their
// own full set; nothing here is shared.
type Deps struct {
	Feed      feed.Feed
	Strategy  strategy.Strategy
	Portfolio *portfolio.Portfolio
	Broker    *broker.SimulatedBroker
	Risk      *risk.Manager

	Bus          *events.Bus            // optional progress fan-out
	Telemetry    *monitor.RunTelemetry  // optional; created if nil
	RiskFreeRate float64                // annual, for the metrics pass
}

// Engine is the single-threaded simulation orchestrator. It owns the event
// queue; every component it touches is confined to the goroutine that calls
// Run.
type Engine struct {
	feed      feed.Feed
	strategy  strategy.Strategy
	portfolio *portfolio.Portfolio
	broker    *broker.SimulatedBroker
	risk      *risk.Manager
	bus       *events.Bus
	telemetry *monitor.RunTelemetry
	calc      *risk.Calculator

	queue      events.Queue
	lastPrices map[string]float64
	halted     bool
}

// New assembles an engine. Bus may be nil when nobody is watching.
func New(d Deps) *Engine {
	if d.Telemetry == nil {
		d.Telemetry = monitor.NewRunTelemetry()
	}
	return &Engine{
		feed:      d.Feed,
		strategy:  d.Strategy,
		portfolio: d.Portfolio,
		broker:    d.Broker,
		risk:      d.Risk,
		bus:       d.Bus,
		telemetry: d.Telemetry,
		calc:      risk.NewCalculator(d.RiskFreeRate),
	}
}

// Run executes the backtest over [start, end]. Bad bar data is fatal; a
// cancelled context stops iteration and discards the partially drained
// queue.
func (e *Engine) Run(ctx context.Context, start, end time.Time) (*Results, error) {
	e.reset()

	bars, err := e.feed.Bars(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	if err := feed.Validate(bars); err != nil {
		return nil, fmt.Errorf("validate bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s in [%s, %s]", e.feed.Symbol(), start, end)
	}

	log.Printf("Backtest start: %s %s, %d bars, capital %.2f",
		e.feed.Symbol(), e.strategy.Name(), len(bars), e.portfolio.InitialCapital())

	curve := make([]EquityPoint, 0, len(bars))
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			e.queue.Reset()
			return nil, err
		}

		barStart := time.Now()
		indicatorValues, err := e.strategy.CalculateIndicators(bar)
		if err != nil {
			return nil, fmt.Errorf("indicators for bar %s: %w", bar.Timestamp, err)
		}

		e.queue.Push(events.Market{
			Symbol:     bar.Symbol,
			Timestamp:  bar.Timestamp,
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			Volume:     bar.Volume,
			Indicators: indicatorValues,
		})
		e.drain()

		point := e.snapshot(bar.Timestamp, bar.Close)
		curve = append(curve, point)
		e.publish(events.TopicEquityPoint, point)
		e.telemetry.RecordBar(time.Since(barStart))
	}

	// End of run: every open position realizes into the ledger at the last
	// seen prices.
	last := bars[len(bars)-1]
	e.closeAll(last.Timestamp)
	if len(curve) > 0 {
		curve[len(curve)-1] = e.snapshot(last.Timestamp, last.Close)
	}

	results := e.assembleResults(bars, curve)
	e.publish(events.TopicRunFinished, results)
	log.Printf("Backtest done: final equity %.2f, %d trades", results.FinalEquity, len(results.Trades))
	return results, nil
}

func (e *Engine) reset() {
	e.strategy.Reset()
	e.portfolio.Reset()
	e.broker.Reset()
	e.risk.Reset()
	e.telemetry.Reset()
	e.queue.Reset()
	e.lastPrices = make(map[string]float64)
	e.halted = false
}

// drain empties the queue, dispatching each event to exactly one handler.
// Handlers may enqueue further events; they are processed in FIFO order
// within the same drain.
func (e *Engine) drain() {
	for e.queue.Len() > 0 {
		switch ev := e.queue.Pop().(type) {
		case events.Market:
			e.handleMarket(ev)
		case events.Signal:
			e.handleSignal(ev)
		case events.Order:
			e.handleOrder(ev)
		case events.Fill:
			e.handleFill(ev)
		case events.Risk:
			e.handleRisk(ev)
		}
	}
}

// handleMarket updates prices and risk state before the strategy is asked
// for a signal, so the signal sees a risk picture that reflects this bar.
func (e *Engine) handleMarket(ev events.Market) {
	e.telemetry.CountEvent("market")
	e.lastPrices[ev.Symbol] = ev.Close

	e.broker.UpdateMarketPrice(ev.Symbol, ev.Close)
	for _, fill := range e.broker.CheckPendingOrders(ev.Symbol) {
		e.queue.Push(fill)
	}

	e.portfolio.UpdateMarketPrice(ev.Symbol, ev.Close)

	for _, riskEvent := range e.risk.CheckRiskLimits(e.portfolio, ev) {
		e.queue.Push(riskEvent)
	}

	if e.halted {
		return
	}
	if signal := e.generateSignal(ev); signal != nil && signal.Type != events.SignalHold {
		e.queue.Push(*signal)
	}
}

// generateSignal isolates the strategy: a panic during signal generation is
// logged and treated as no signal for this bar.
func (e *Engine) generateSignal(ev events.Market) (signal *events.Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Strategy %s panicked on %s: %v", e.strategy.Name(), ev.Timestamp, r)
			signal = nil
		}
	}()
	return e.strategy.GenerateSignal(ev)
}

func (e *Engine) handleSignal(ev events.Signal) {
	e.telemetry.CountEvent("signal")
	if e.halted {
		return
	}
	if !e.risk.ApproveSignal(ev, e.portfolio) {
		return
	}
	if order := e.portfolio.GenerateOrder(ev, e.lastPrices[ev.Symbol]); order != nil {
		e.queue.Push(*order)
	}
}

func (e *Engine) handleOrder(ev events.Order) {
	e.telemetry.CountEvent("order")
	if fill := e.broker.ExecuteOrder(ev); fill != nil {
		e.queue.Push(*fill)
	}
}

func (e *Engine) handleFill(ev events.Fill) {
	e.telemetry.CountEvent("fill")
	e.portfolio.UpdateFill(ev)
	e.strategy.OnFill(ev)
	e.publish(events.TopicFill, ev)
}

// handleRisk reacts to a limit breach. CRITICAL halts trading for the rest
// of the run and closes every position in the same drain cycle.
func (e *Engine) handleRisk(ev events.Risk) {
	e.telemetry.CountEvent("risk")
	e.publish(events.TopicRiskAlert, ev)
	log.Printf("Risk event [%s/%s]: %s", ev.Type, ev.Severity, ev.Message)

	if ev.Severity != events.SeverityCritical || e.halted {
		return
	}
	e.halted = true
	e.broker.CancelPending()
	for _, order := range e.portfolio.CloseAllPositions(ev.Timestamp) {
		e.queue.Push(order)
	}
}

// closeAll force-liquidates at the given timestamp using last seen prices.
func (e *Engine) closeAll(ts time.Time) {
	for _, order := range e.portfolio.CloseAllPositions(ts) {
		e.queue.Push(order)
	}
	e.drain()
}

func (e *Engine) snapshot(ts time.Time, price float64) EquityPoint {
	return EquityPoint{
		Timestamp:      ts,
		Equity:         e.portfolio.TotalEquity(),
		Cash:           e.portfolio.Cash(),
		PositionsValue: e.portfolio.PositionsValue(),
		PositionsCount: len(e.portfolio.Positions()),
		Price:          price,
	}
}

func (e *Engine) assembleResults(bars []feed.Bar, curve []EquityPoint) *Results {
	trades := e.portfolio.ClosedTrades()
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}

	returns := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity != 0 {
			returns = append(returns, (curve[i].Equity-curve[i-1].Equity)/curve[i-1].Equity)
		}
	}

	return &Results{
		RunID:          uuid.NewString(),
		Symbol:         e.feed.Symbol(),
		Strategy:       e.strategy.Name(),
		StartTime:      bars[0].Timestamp,
		EndTime:        bars[len(bars)-1].Timestamp,
		InitialCapital: e.portfolio.InitialCapital(),
		FinalEquity:    e.portfolio.TotalEquity(),
		EquityCurve:    curve,
		Returns:        returns,
		Trades:         trades,
		EventCounts:    e.telemetry.EventCounts(),
		Metrics:        e.calc.CalculateMetrics(returns, pnls),
		ExecutionStats: e.broker.ExecutionStatistics(),
		BarLatency:     e.telemetry.BarLatency(),
		TradingHalted:  e.halted,
	}
}

func (e *Engine) publish(topic events.Topic, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}
