// Package portfolio owns the cash balance, open positions, and the
// closed-trade ledger of a backtest run. It is the only place position and
// trade records are mutated; everything else reads.
//
// The portfolio is confined to the engine goroutine, so it takes no locks.
// Cross-goroutine consumers (the API layer) observe runs through the event
// bus and the archived results, never through a live Portfolio.
package portfolio

import (
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"backtest-core/internal/events"
)

// Position is one open holding. Quantity is signed: positive long, negative
// short. A position with quantity zero is removed, never kept as a zero row,
// and Side is always derived from the sign.
type Position struct {
	Symbol         string
	Quantity       float64
	EntryPrice     float64 // size-weighted average
	EntryTime      time.Time
	CurrentPrice   float64
	UnrealizedPnL  float64
	CommissionPaid float64
}

// Side reports LONG or SHORT from the quantity sign.
func (p *Position) Side() events.Direction {
	if p.Quantity > 0 {
		return events.Buy
	}
	return events.Sell
}

// MarketValue is the absolute notional at the current price.
func (p *Position) MarketValue() float64 {
	return math.Abs(p.Quantity) * p.CurrentPrice
}

// UpdatePrice marks the position to market.
func (p *Position) UpdatePrice(price float64) {
	p.CurrentPrice = price
	if p.Quantity > 0 {
		p.UnrealizedPnL = p.Quantity * (price - p.EntryPrice)
	} else {
		p.UnrealizedPnL = math.Abs(p.Quantity) * (p.EntryPrice - price)
	}
}

// Trade is an immutable record of a fully closed position (or a closed slice
// of one). Once appended to the ledger it is never mutated.
type Trade struct {
	ID         string
	Symbol     string
	Side       events.Direction
	Quantity   float64 // always positive
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	PnL        float64 // net of commission on both legs
	PnLPercent float64
	Commission float64
}

// Duration is the holding time of the trade.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// IsWinner reports whether the trade made money after costs.
func (t Trade) IsWinner() bool { return t.PnL > 0 }

// Config holds the portfolio's sizing knobs.
type Config struct {
	InitialCapital  float64
	MaxPositionSize float64 // fraction of equity per position, e.g. 0.1
}

// Portfolio is the aggregate root for one run's holdings and ledger.
type Portfolio struct {
	cfg Config

	cash         float64
	positions    map[string]*Position
	closedTrades []Trade
}

// New creates a portfolio with the full initial capital in cash.
func New(cfg Config) *Portfolio {
	p := &Portfolio{cfg: cfg}
	p.Reset()
	return p
}

// Reset returns the portfolio to its initial state for a fresh run.
func (p *Portfolio) Reset() {
	p.cash = p.cfg.InitialCapital
	p.positions = make(map[string]*Position)
	p.closedTrades = nil
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// InitialCapital returns the configured starting capital.
func (p *Portfolio) InitialCapital() float64 { return p.cfg.InitialCapital }

// Positions returns the live position map. Callers must not mutate it.
func (p *Portfolio) Positions() map[string]*Position { return p.positions }

// Position returns the open position for a symbol, or nil.
func (p *Portfolio) Position(symbol string) *Position { return p.positions[symbol] }

// ClosedTrades returns the ledger in close order.
func (p *Portfolio) ClosedTrades() []Trade { return p.closedTrades }

// UpdateMarketPrice marks the symbol's position (if any) to the new price.
func (p *Portfolio) UpdateMarketPrice(symbol string, price float64) {
	if pos, ok := p.positions[symbol]; ok {
		pos.UpdatePrice(price)
	}
}

// TotalEquity is cash plus the signed marked value of every open position.
// Sell proceeds are already credited to cash, so a short contributes its
// (negative) buy-back liability and the formula holds for both sides.
// O(#positions).
func (p *Portfolio) TotalEquity() float64 {
	equity := p.cash
	for _, pos := range p.positions {
		equity += pos.Quantity * pos.CurrentPrice
	}
	return equity
}

// PositionsValue is the summed absolute notional of open positions.
func (p *Portfolio) PositionsValue() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// GenerateOrder converts a signal into a market order, or nil when the
// signal is not actionable. Sizing: max-position-size fraction of current
// equity, scaled linearly by signal strength. Adding to a same-direction
// position halves the increment (pyramiding); a signal against an existing
// position nets out the full existing quantity first, so the order closes
// the position and any residual flips it.
func (p *Portfolio) GenerateOrder(signal events.Signal, price float64) *events.Order {
	if signal.Type == events.SignalHold || price <= 0 {
		return nil
	}

	quantity := p.cfg.MaxPositionSize * p.TotalEquity() * signal.Strength / price

	if pos, ok := p.positions[signal.Symbol]; ok {
		sameDirection := (signal.Type == events.SignalBuy && pos.Quantity > 0) ||
			(signal.Type == events.SignalSell && pos.Quantity < 0)
		if sameDirection {
			quantity *= 0.5
		} else {
			quantity += math.Abs(pos.Quantity)
		}
	}

	if quantity <= 0 {
		return nil
	}

	direction := events.Buy
	if signal.Type == events.SignalSell {
		direction = events.Sell
	}

	return &events.Order{
		Symbol:    signal.Symbol,
		Timestamp: signal.Timestamp,
		Type:      events.OrderMarket,
		Direction: direction,
		Quantity:  quantity,
		Reason:    "signal",
	}
}

// UpdateFill applies an execution to cash and positions. Buys deduct
// notional plus commission; sells credit notional minus commission. The
// position transition is one of: create, same-direction add (entry price
// re-averaged by size weighting), partial close, exact close, or partial
// close plus flip.
func (p *Portfolio) UpdateFill(fill events.Fill) {
	if fill.Direction == events.Buy {
		p.cash -= fill.TotalCost()
	} else {
		p.cash += fill.Quantity*fill.Price - fill.Commission
	}

	pos, ok := p.positions[fill.Symbol]
	if !ok {
		p.createPosition(fill)
		return
	}

	signedQty := fill.Quantity
	if fill.Direction == events.Sell {
		signedQty = -fill.Quantity
	}
	newQty := pos.Quantity + signedQty

	switch {
	case sameSign(pos.Quantity, signedQty):
		// Adding to the position: re-average the entry by notional weight.
		pos.EntryPrice = (pos.EntryPrice*math.Abs(pos.Quantity) + fill.Price*math.Abs(signedQty)) /
			(math.Abs(pos.Quantity) + math.Abs(signedQty))
		pos.Quantity = newQty
		pos.CommissionPaid += fill.Commission

	case newQty == 0:
		p.closePosition(fill, math.Abs(pos.Quantity), fill.Commission, true)

	case sameSign(pos.Quantity, newQty):
		// Partial close: the fill consumes part of the position.
		p.closePosition(fill, math.Abs(signedQty), fill.Commission, false)

	default:
		// The fill overshoots the position: close it fully, then open the
		// remainder in the new direction. The remainder leg carries zero
		// commission; the whole fill's commission is charged to the closing
		// trade so costs are never counted twice.
		p.closePosition(fill, math.Abs(pos.Quantity), fill.Commission, true)

		remainder := fill
		remainder.Quantity = math.Abs(newQty)
		remainder.Commission = 0
		remainder.Slippage = 0
		remainder.OrderID = fill.OrderID + "_flip"
		if newQty > 0 {
			remainder.Direction = events.Buy
		} else {
			remainder.Direction = events.Sell
		}
		p.createPosition(remainder)
	}

	pos = p.positions[fill.Symbol]
	if pos != nil {
		pos.UpdatePrice(fill.Price)
	}
}

// CloseAllPositions returns one opposite-direction market order per open
// position for the full quantity. Used on a critical risk halt and at the
// end of a run.
func (p *Portfolio) CloseAllPositions(timestamp time.Time) []events.Order {
	orders := make([]events.Order, 0, len(p.positions))
	for symbol, pos := range p.positions {
		direction := events.Sell
		if pos.Quantity < 0 {
			direction = events.Buy
		}
		orders = append(orders, events.Order{
			Symbol:    symbol,
			Timestamp: timestamp,
			Type:      events.OrderMarket,
			Direction: direction,
			Quantity:  math.Abs(pos.Quantity),
			Reason:    "close_all",
		})
	}
	return orders
}

func (p *Portfolio) createPosition(fill events.Fill) {
	quantity := fill.Quantity
	if fill.Direction == events.Sell {
		quantity = -fill.Quantity
	}
	pos := &Position{
		Symbol:         fill.Symbol,
		Quantity:       quantity,
		EntryPrice:     fill.Price,
		EntryTime:      fill.Timestamp,
		CurrentPrice:   fill.Price,
		CommissionPaid: fill.Commission,
	}
	p.positions[fill.Symbol] = pos
	log.Printf("Opened position: %s %s %.6f @ %.4f", pos.Symbol, pos.Side(), math.Abs(quantity), fill.Price)
}

// closePosition realizes P&L on closeQty units against the fill price and
// appends a Trade. full removes the position; otherwise the position shrinks
// and keeps a proportional share of its entry commission.
func (p *Portfolio) closePosition(fill events.Fill, closeQty, exitCommission float64, full bool) {
	pos := p.positions[fill.Symbol]

	var gross float64
	if pos.Quantity > 0 {
		gross = closeQty * (fill.Price - pos.EntryPrice)
	} else {
		gross = closeQty * (pos.EntryPrice - fill.Price)
	}

	entryCommission := pos.CommissionPaid
	if !full && math.Abs(pos.Quantity) > 0 {
		entryCommission = pos.CommissionPaid * closeQty / math.Abs(pos.Quantity)
	}
	totalCommission := entryCommission + exitCommission

	var pnlPercent float64
	if pos.EntryPrice > 0 && closeQty > 0 {
		pnlPercent = gross / (pos.EntryPrice * closeQty) * 100
	}

	trade := Trade{
		ID:         uuid.NewString(),
		Symbol:     pos.Symbol,
		Side:       pos.Side(),
		Quantity:   closeQty,
		EntryTime:  pos.EntryTime,
		ExitTime:   fill.Timestamp,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		PnL:        gross - totalCommission,
		PnLPercent: pnlPercent,
		Commission: totalCommission,
	}
	p.closedTrades = append(p.closedTrades, trade)

	if full {
		delete(p.positions, fill.Symbol)
		log.Printf("Closed position: %s P&L: %.2f (%.2f%%)", trade.Symbol, trade.PnL, trade.PnLPercent)
		return
	}

	if pos.Quantity > 0 {
		pos.Quantity -= closeQty
	} else {
		pos.Quantity += closeQty
	}
	pos.CommissionPaid -= entryCommission
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
