package broker

import (
	"math"
	"testing"
	"time"

	"backtest-core/internal/events"
)

func marketOrder(symbol string, dir events.Direction, qty float64) events.Order {
	return events.Order{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Type:      events.OrderMarket,
		Direction: dir,
		Quantity:  qty,
	}
}

func limitOrder(symbol string, dir events.Direction, qty, limit float64) events.Order {
	o := marketOrder(symbol, dir, qty)
	o.Type = events.OrderLimit
	o.LimitPrice = limit
	return o
}

func TestRejectsInvalidOrders(t *testing.T) {
	b := New(Config{Slippage: 0.001, Commission: 0.001})
	b.UpdateMarketPrice("BTCUSDT", 100)

	tests := []struct {
		name  string
		order events.Order
	}{
		{"zero quantity", marketOrder("BTCUSDT", events.Buy, 0)},
		{"negative quantity", marketOrder("BTCUSDT", events.Buy, -5)},
		{"limit without price", limitOrder("BTCUSDT", events.Buy, 10, 0)},
		{"unknown symbol", marketOrder("NOPE", events.Buy, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if fill := b.ExecuteOrder(tt.order); fill != nil {
				t.Errorf("expected rejection, got fill %+v", fill)
			}
		})
	}

	stats := b.ExecutionStatistics()
	if stats.RejectedOrders != len(tests) {
		t.Errorf("rejected = %d, want %d", stats.RejectedOrders, len(tests))
	}
	if stats.FilledOrders != 0 {
		t.Errorf("filled = %d, want 0", stats.FilledOrders)
	}
}

func TestMarketFillSlippageIsAdverse(t *testing.T) {
	b := New(Config{Slippage: 0.01, Commission: 0})
	b.UpdateMarketPrice("BTCUSDT", 100)

	for i := 0; i < 50; i++ {
		buy := b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, 1))
		if buy == nil {
			t.Fatal("expected buy fill")
		}
		if buy.Price < 100 {
			t.Errorf("buy filled at %.6f, below market", buy.Price)
		}
		sell := b.ExecuteOrder(marketOrder("BTCUSDT", events.Sell, 1))
		if sell == nil {
			t.Fatal("expected sell fill")
		}
		if sell.Price > 100 {
			t.Errorf("sell filled at %.6f, above market", sell.Price)
		}
		if buy.Slippage < 0 || sell.Slippage < 0 {
			t.Error("slippage cost must be non-negative")
		}
	}
}

func TestZeroSlippageFillsNearMarket(t *testing.T) {
	b := New(Config{Slippage: 0, Commission: 0, ImpactCoefficient: 1e-12})
	b.UpdateMarketPrice("BTCUSDT", 100)

	fill := b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, 50))
	if fill == nil {
		t.Fatal("expected fill")
	}
	if math.Abs(fill.Price-100) > 1e-6 {
		t.Errorf("fill price = %.8f, want ~100", fill.Price)
	}
}

func TestSeededRunsReproduce(t *testing.T) {
	run := func() []float64 {
		b := New(Config{Slippage: 0.01, Commission: 0.001, Seed: 42})
		b.UpdateMarketPrice("BTCUSDT", 100)
		var prices []float64
		for i := 0; i < 10; i++ {
			fill := b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, 1))
			prices = append(prices, fill.Price)
		}
		return prices
	}

	a, c := run(), run()
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("fill %d: %.10f != %.10f, seeded runs must match", i, a[i], c[i])
		}
	}
}

func TestMarketImpactGrowsWithSize(t *testing.T) {
	b := New(Config{Slippage: 0, Commission: 0})
	b.UpdateMarketPrice("BTCUSDT", 100)

	small := b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, 10))
	large := b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, 4000))

	if large.Price <= small.Price {
		t.Errorf("large order price %.8f should exceed small order price %.8f", large.Price, small.Price)
	}
	// Square-root scaling: 400x the size, 20x the impact.
	smallImpact := small.Price - 100
	largeImpact := large.Price - 100
	if math.Abs(largeImpact/smallImpact-20) > 1e-6 {
		t.Errorf("impact ratio = %.4f, want 20", largeImpact/smallImpact)
	}
}

func TestLimitOrderMarketability(t *testing.T) {
	t.Run("marketable buy fills at limit or better", func(t *testing.T) {
		b := New(Config{})
		b.UpdateMarketPrice("BTCUSDT", 95)
		fill := b.ExecuteOrder(limitOrder("BTCUSDT", events.Buy, 10, 100))
		if fill == nil {
			t.Fatal("expected immediate fill")
		}
		if fill.Price != 95 {
			t.Errorf("fill price = %.2f, want 95 (market better than limit)", fill.Price)
		}
	})

	t.Run("unmarketable buy queues until price drops", func(t *testing.T) {
		b := New(Config{})
		b.UpdateMarketPrice("BTCUSDT", 105)

		if fill := b.ExecuteOrder(limitOrder("BTCUSDT", events.Buy, 10, 100)); fill != nil {
			t.Fatalf("order should queue, got fill %+v", fill)
		}
		if b.ExecutionStatistics().PendingOrders != 1 {
			t.Fatal("expected one pending order")
		}

		b.UpdateMarketPrice("BTCUSDT", 102)
		if fills := b.CheckPendingOrders("BTCUSDT"); len(fills) != 0 {
			t.Fatalf("still unmarketable, got %d fills", len(fills))
		}

		b.UpdateMarketPrice("BTCUSDT", 99)
		fills := b.CheckPendingOrders("BTCUSDT")
		if len(fills) != 1 {
			t.Fatalf("fills = %d, want 1", len(fills))
		}
		if fills[0].Price != 99 {
			t.Errorf("fill price = %.2f, want 99", fills[0].Price)
		}
		if b.ExecutionStatistics().PendingOrders != 0 {
			t.Error("pending queue should be empty after fill")
		}
	})

	t.Run("unmarketable sell queues until price rises", func(t *testing.T) {
		b := New(Config{})
		b.UpdateMarketPrice("BTCUSDT", 95)

		if fill := b.ExecuteOrder(limitOrder("BTCUSDT", events.Sell, 10, 100)); fill != nil {
			t.Fatalf("order should queue, got fill %+v", fill)
		}
		b.UpdateMarketPrice("BTCUSDT", 101)
		fills := b.CheckPendingOrders("BTCUSDT")
		if len(fills) != 1 || fills[0].Price != 101 {
			t.Fatalf("fills = %+v, want one at 101", fills)
		}
	})

	t.Run("cancel drops queued orders", func(t *testing.T) {
		b := New(Config{})
		b.UpdateMarketPrice("BTCUSDT", 105)
		b.ExecuteOrder(limitOrder("BTCUSDT", events.Buy, 10, 100))
		b.CancelPending()
		b.UpdateMarketPrice("BTCUSDT", 90)
		if fills := b.CheckPendingOrders("BTCUSDT"); len(fills) != 0 {
			t.Errorf("cancelled order filled: %+v", fills)
		}
	})
}

func TestCommissionModels(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		order events.Order
		want  float64
	}{
		{
			"flat rate",
			Config{Commission: 0.001, ImpactCoefficient: 1e-12},
			marketOrder("BTCUSDT", events.Buy, 10),
			10 * 100 * 0.001,
		},
		{
			"taker fee on market orders",
			Config{UseMakerTaker: true, TakerFee: 0.001, MakerFee: 0.0006, ImpactCoefficient: 1e-12},
			marketOrder("BTCUSDT", events.Buy, 10),
			10 * 100 * 0.001,
		},
		{
			"maker fee on limit orders",
			Config{UseMakerTaker: true, TakerFee: 0.001, MakerFee: 0.0006},
			limitOrder("BTCUSDT", events.Buy, 10, 100),
			10 * 100 * 0.0006,
		},
		{
			"minimum commission floors the fee",
			Config{Commission: 0.0001, MinCommission: 5, ImpactCoefficient: 1e-12},
			marketOrder("BTCUSDT", events.Buy, 1),
			5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.cfg)
			b.UpdateMarketPrice("BTCUSDT", 100)
			fill := b.ExecuteOrder(tt.order)
			if fill == nil {
				t.Fatal("expected fill")
			}
			if math.Abs(fill.Commission-tt.want) > 1e-6 {
				t.Errorf("commission = %.6f, want %.6f", fill.Commission, tt.want)
			}
		})
	}
}

func TestStatisticsAccumulateAndReset(t *testing.T) {
	b := New(Config{Slippage: 0.001, Commission: 0.001})
	b.UpdateMarketPrice("BTCUSDT", 100)

	b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, 10))
	b.ExecuteOrder(marketOrder("BTCUSDT", events.Sell, 10))
	b.ExecuteOrder(marketOrder("BTCUSDT", events.Buy, -1))

	stats := b.ExecutionStatistics()
	if stats.TotalOrders != 3 || stats.FilledOrders != 2 || stats.RejectedOrders != 1 {
		t.Errorf("stats = %+v, want 3 total / 2 filled / 1 rejected", stats)
	}
	if math.Abs(stats.FillRate-2.0/3.0) > 1e-9 {
		t.Errorf("fill rate = %.4f, want 2/3", stats.FillRate)
	}
	if stats.TotalCommissionPaid <= 0 {
		t.Error("commission should accumulate")
	}

	b.Reset()
	stats = b.ExecutionStatistics()
	if stats.TotalOrders != 0 || stats.TotalCommissionPaid != 0 || stats.PendingOrders != 0 {
		t.Errorf("stats after reset = %+v, want zeros", stats)
	}
}
