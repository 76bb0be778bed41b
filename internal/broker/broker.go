// Package broker simulates order execution for backtests: slippage, market
// impact, maker/taker commission, limit-order queuing, and execution
// statistics. Rejection is an expected simulation outcome and is counted,
// never returned as an error.
package broker

import (
	"log"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"backtest-core/internal/events"
)

// Config holds the execution cost model.
type Config struct {
	Slippage      float64 // max random slippage fraction, e.g. 0.001
	Commission    float64 // flat commission rate
	MinCommission float64 // commission floor per fill
	MakerFee      float64 // limit-order fee when the maker/taker model is on
	TakerFee      float64 // market-order fee when the maker/taker model is on
	UseMakerTaker bool
	Seed          int64 // RNG seed; runs with the same seed reproduce exactly

	// TypicalOrderSize and ImpactCoefficient parameterize the square-root
	// market impact model.
	TypicalOrderSize  float64
	ImpactCoefficient float64
}

func (c Config) withDefaults() Config {
	if c.TypicalOrderSize <= 0 {
		c.TypicalOrderSize = 1000
	}
	if c.ImpactCoefficient <= 0 {
		c.ImpactCoefficient = 0.0001
	}
	return c
}

// Statistics are the broker's cumulative execution counters, reset only by
// Reset.
type Statistics struct {
	TotalOrders         int     `json:"total_orders"`
	FilledOrders        int     `json:"filled_orders"`
	RejectedOrders      int     `json:"rejected_orders"`
	PendingOrders       int     `json:"pending_orders"`
	FillRate            float64 `json:"fill_rate"`
	TotalSlippageCost   float64 `json:"total_slippage_cost"`
	TotalCommissionPaid float64 `json:"total_commission_paid"`
	AvgSlippagePerFill  float64 `json:"avg_slippage_per_fill"`
	AvgCommissionPerFill float64 `json:"avg_commission_per_fill"`
}

// SimulatedBroker executes orders against the latest known market prices.
// Like the rest of the simulation kernel it is confined to the engine
// goroutine and holds no locks.
type SimulatedBroker struct {
	cfg Config
	rng *rand.Rand

	totalOrders    int
	filledOrders   int
	rejectedOrders int
	totalSlippage  float64
	totalCommission float64

	currentPrices map[string]float64
	pendingOrders map[string]events.Order
}

// New creates a broker with a seeded RNG so slippage draws are reproducible.
func New(cfg Config) *SimulatedBroker {
	b := &SimulatedBroker{cfg: cfg.withDefaults()}
	b.Reset()
	return b
}

// Reset clears all counters, prices, and pending orders for a fresh run.
// The RNG is reseeded so back-to-back runs draw identical slippage.
func (b *SimulatedBroker) Reset() {
	b.rng = rand.New(rand.NewSource(b.cfg.Seed))
	b.totalOrders = 0
	b.filledOrders = 0
	b.rejectedOrders = 0
	b.totalSlippage = 0
	b.totalCommission = 0
	b.currentPrices = make(map[string]float64)
	b.pendingOrders = make(map[string]events.Order)
}

// UpdateMarketPrice records the latest price for a symbol.
func (b *SimulatedBroker) UpdateMarketPrice(symbol string, price float64) {
	b.currentPrices[symbol] = price
}

// ExecuteOrder attempts to fill an order at current prices. Returns nil when
// the order is rejected (counted) or when a limit order is not yet
// marketable (queued for CheckPendingOrders).
func (b *SimulatedBroker) ExecuteOrder(order events.Order) *events.Fill {
	b.totalOrders++

	if !b.validate(order) {
		b.rejectedOrders++
		log.Printf("Order rejected: %s %s qty=%.6f", order.Symbol, order.Direction, order.Quantity)
		return nil
	}

	marketPrice, ok := b.currentPrices[order.Symbol]
	if !ok {
		b.rejectedOrders++
		log.Printf("Order rejected, no market price for %s", order.Symbol)
		return nil
	}

	var fillPrice float64
	if order.Type == events.OrderMarket {
		fillPrice = b.marketFillPrice(order, marketPrice)
	} else {
		limitPrice, ok := b.limitFillPrice(order, marketPrice)
		if !ok {
			b.pendingOrders[uuid.NewString()] = order
			return nil
		}
		fillPrice = limitPrice
	}

	slippageCost := slippageCost(order.Direction, marketPrice, fillPrice, order.Quantity)
	commission := b.commission(order.Type, fillPrice, order.Quantity)

	fill := &events.Fill{
		Symbol:     order.Symbol,
		Timestamp:  order.Timestamp,
		Direction:  order.Direction,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Commission: commission,
		Slippage:   slippageCost,
		OrderID:    uuid.NewString(),
		OrderType:  order.Type,
	}

	b.filledOrders++
	b.totalSlippage += slippageCost
	b.totalCommission += commission

	return fill
}

// CheckPendingOrders re-tests queued limit orders for a symbol against the
// latest price and returns any resulting fills. Called by the engine on
// every price update.
func (b *SimulatedBroker) CheckPendingOrders(symbol string) []events.Fill {
	marketPrice, ok := b.currentPrices[symbol]
	if !ok {
		return nil
	}

	var fills []events.Fill
	for id, order := range b.pendingOrders {
		if order.Symbol != symbol {
			continue
		}
		marketable := (order.Direction == events.Buy && marketPrice <= order.LimitPrice) ||
			(order.Direction == events.Sell && marketPrice >= order.LimitPrice)
		if !marketable {
			continue
		}
		delete(b.pendingOrders, id)
		if fill := b.ExecuteOrder(order); fill != nil {
			fills = append(fills, *fill)
		}
	}
	return fills
}

// CancelPending drops all queued limit orders.
func (b *SimulatedBroker) CancelPending() {
	b.pendingOrders = make(map[string]events.Order)
}

// ExecutionStatistics returns the cumulative counters.
func (b *SimulatedBroker) ExecutionStatistics() Statistics {
	stats := Statistics{
		TotalOrders:         b.totalOrders,
		FilledOrders:        b.filledOrders,
		RejectedOrders:      b.rejectedOrders,
		PendingOrders:       len(b.pendingOrders),
		TotalSlippageCost:   b.totalSlippage,
		TotalCommissionPaid: b.totalCommission,
	}
	if b.totalOrders > 0 {
		stats.FillRate = float64(b.filledOrders) / float64(b.totalOrders)
	}
	if b.filledOrders > 0 {
		stats.AvgSlippagePerFill = b.totalSlippage / float64(b.filledOrders)
		stats.AvgCommissionPerFill = b.totalCommission / float64(b.filledOrders)
	}
	return stats
}

func (b *SimulatedBroker) validate(order events.Order) bool {
	if order.Quantity <= 0 {
		return false
	}
	if order.Type == events.OrderLimit && order.LimitPrice <= 0 {
		return false
	}
	return true
}

// marketFillPrice applies a uniform random slippage draw in [0, max] plus a
// square-root market impact term, both adverse to the trader.
func (b *SimulatedBroker) marketFillPrice(order events.Order, marketPrice float64) float64 {
	slip := b.rng.Float64() * b.cfg.Slippage
	impact := b.marketImpact(order.Quantity, marketPrice)

	if order.Direction == events.Buy {
		return marketPrice*(1+slip) + impact
	}
	return marketPrice*(1-slip) - impact
}

// limitFillPrice fills a marketable limit at the limit-or-better price, or
// reports the order as not yet fillable.
func (b *SimulatedBroker) limitFillPrice(order events.Order, marketPrice float64) (float64, bool) {
	if order.Direction == events.Buy {
		if marketPrice <= order.LimitPrice {
			return math.Min(order.LimitPrice, marketPrice), true
		}
		return 0, false
	}
	if marketPrice >= order.LimitPrice {
		return math.Max(order.LimitPrice, marketPrice), true
	}
	return 0, false
}

func (b *SimulatedBroker) commission(orderType events.OrderType, fillPrice, quantity float64) float64 {
	tradeValue := fillPrice * quantity

	var commission float64
	if b.cfg.UseMakerTaker {
		if orderType == events.OrderMarket {
			commission = tradeValue * b.cfg.TakerFee
		} else {
			commission = tradeValue * b.cfg.MakerFee
		}
	} else {
		commission = tradeValue * b.cfg.Commission
	}
	return math.Max(commission, b.cfg.MinCommission)
}

func (b *SimulatedBroker) marketImpact(quantity, price float64) float64 {
	relativeSize := quantity / b.cfg.TypicalOrderSize
	return b.cfg.ImpactCoefficient * math.Sqrt(relativeSize) * price
}

func slippageCost(direction events.Direction, marketPrice, fillPrice, quantity float64) float64 {
	var perUnit float64
	if direction == events.Buy {
		perUnit = fillPrice - marketPrice
	} else {
		perUnit = marketPrice - fillPrice
	}
	return math.Max(0, perUnit*quantity)
}
