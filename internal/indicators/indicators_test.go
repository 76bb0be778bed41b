package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSMA(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		period int
		want   float64
		valid  bool
	}{
		{"simple average", []float64{1, 2, 3, 4, 5}, 5, 3, true},
		{"uses trailing window", []float64{10, 1, 2, 3}, 3, 2, true},
		{"insufficient history", []float64{1, 2}, 3, 0, false},
		{"invalid period", []float64{1, 2, 3}, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SMA(tc.values, tc.period)
			if got.Valid != tc.valid {
				t.Fatalf("valid = %v (%s), want %v", got.Valid, got.Reason, tc.valid)
			}
			if tc.valid && !almostEqual(got.Float64, tc.want) {
				t.Errorf("sma = %v, want %v", got.Float64, tc.want)
			}
		})
	}
}

func TestEMAConvergesTowardRecentPrices(t *testing.T) {
	// Flat then a jump: EMA must sit between the old level and the new one,
	// closer to recent prices than the SMA.
	values := []float64{100, 100, 100, 100, 100, 110, 110, 110}
	ema := EMA(values, 5)
	sma := SMA(values, 5)
	if !ema.Valid || !sma.Valid {
		t.Fatal("expected valid values")
	}
	if ema.Float64 <= 100 || ema.Float64 >= 110 {
		t.Errorf("ema = %v, want within (100, 110)", ema.Float64)
	}
	if ema.Float64 <= sma.Float64 {
		t.Errorf("ema %v should lead sma %v after an upward jump", ema.Float64, sma.Float64)
	}
}

func TestEMAInsufficientHistory(t *testing.T) {
	if got := EMA([]float64{1, 2}, 5); got.Valid {
		t.Errorf("expected invalid, got %v", got.Float64)
	}
}

func TestRSI(t *testing.T) {
	t.Run("all gains is 100", func(t *testing.T) {
		got := RSI([]float64{1, 2, 3, 4, 5, 6}, 5)
		if !got.Valid || got.Float64 != 100 {
			t.Errorf("rsi = %+v, want 100", got)
		}
	})
	t.Run("all losses is 0", func(t *testing.T) {
		got := RSI([]float64{6, 5, 4, 3, 2, 1}, 5)
		if !got.Valid || !almostEqual(got.Float64, 0) {
			t.Errorf("rsi = %+v, want 0", got)
		}
	})
	t.Run("balanced moves are 50", func(t *testing.T) {
		got := RSI([]float64{100, 101, 100, 101, 100}, 4)
		if !got.Valid || !almostEqual(got.Float64, 50) {
			t.Errorf("rsi = %+v, want 50", got)
		}
	})
	t.Run("needs period plus one", func(t *testing.T) {
		if got := RSI([]float64{1, 2, 3}, 3); got.Valid {
			t.Errorf("expected invalid, got %v", got.Float64)
		}
	})
}

func TestEngineWindowAndReset(t *testing.T) {
	e := NewEngine(2, 3, 3)

	var last map[string]Value
	for _, p := range []float64{100, 101, 102, 103} {
		last = e.Update("BTCUSDT", p)
	}

	if v := last["sma_short"]; !v.Valid || !almostEqual(v.Float64, 102.5) {
		t.Errorf("sma_short = %+v, want 102.5", v)
	}
	if v := last["sma_long"]; !v.Valid || !almostEqual(v.Float64, 102) {
		t.Errorf("sma_long = %+v, want 102", v)
	}
	if v := last["rsi"]; !v.Valid || v.Float64 != 100 {
		t.Errorf("rsi = %+v, want 100", v)
	}

	// Symbols are tracked independently.
	other := e.Update("ETHUSDT", 50)
	if other["sma_long"].Valid {
		t.Error("fresh symbol should not have enough history")
	}

	e.Reset()
	fresh := e.Update("BTCUSDT", 100)
	if fresh["sma_short"].Valid {
		t.Error("reset should clear price history")
	}
}
