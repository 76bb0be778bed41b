// Package events defines the closed set of simulation events that flow
// through the backtest engine, plus the FIFO queue and pub/sub bus that
// carry them.
package events

import (
	"time"

	"backtest-core/internal/indicators"
)

// SignalType is the direction a strategy wants to trade.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// OrderType distinguishes immediate from resting orders.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// Direction is the side of an order or fill.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Severity grades a risk event.
type Severity string

const (
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Event is the closed union of simulation events. Only the five concrete
// types in this package implement it; the unexported method keeps the set
// closed so the engine's dispatcher can match exhaustively.
type Event interface {
	When() time.Time
	sealed()
}

// Market carries one OHLCV bar plus the indicators computed for it.
type Market struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Indicators map[string]indicators.Value
}

// Signal is a strategy's trading decision for a bar.
type Signal struct {
	Symbol    string
	Timestamp time.Time
	Type      SignalType
	Strength  float64 // [0, 1]
	Strategy  string
	Metadata  map[string]float64
}

// Order is a request for the broker to execute.
type Order struct {
	Symbol     string
	Timestamp  time.Time
	Type       OrderType
	Direction  Direction
	Quantity   float64
	LimitPrice float64 // 0 for market orders
	Reason     string  // e.g. "signal", "close_all"
}

// Fill is a simulated execution, costs included.
type Fill struct {
	Symbol     string
	Timestamp  time.Time
	Direction  Direction
	Quantity   float64
	Price      float64
	Commission float64
	Slippage   float64
	OrderID    string
	OrderType  OrderType
}

// Risk reports a breached portfolio limit.
type Risk struct {
	Timestamp time.Time
	Type      string // DRAWDOWN, DAILY_LOSS, POSITION_SIZE, LEVERAGE
	Severity  Severity
	Message   string
	Action    string
	Metadata  map[string]float64
}

func (e Market) When() time.Time { return e.Timestamp }
func (e Signal) When() time.Time { return e.Timestamp }
func (e Order) When() time.Time  { return e.Timestamp }
func (e Fill) When() time.Time   { return e.Timestamp }
func (e Risk) When() time.Time   { return e.Timestamp }

func (Market) sealed() {}
func (Signal) sealed() {}
func (Order) sealed()  {}
func (Fill) sealed()   {}
func (Risk) sealed()   {}

// TotalCost is notional plus commission, what a buy deducts from cash.
func (e Fill) TotalCost() float64 {
	return e.Quantity*e.Price + e.Commission
}

// Queue is the engine's FIFO event queue. It is deliberately not safe for
// concurrent use: the engine is single-threaded and drains it to empty
// before reading the next bar.
type Queue struct {
	items []Event
}

// Push appends an event.
func (q *Queue) Push(e Event) {
	q.items = append(q.items, e)
}

// Pop removes and returns the oldest event, or nil when empty.
func (q *Queue) Pop() Event {
	if len(q.items) == 0 {
		return nil
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.items) }

// Reset discards all queued events.
func (q *Queue) Reset() { q.items = nil }
