// Package feed supplies historical OHLCV bars to the backtest engine and
// enforces the data contract the engine depends on: chronological order, no
// duplicates, and sane OHLC relationships.
package feed

import (
	"context"
	"fmt"
	"time"
)

// Bar is one OHLCV sample for a fixed interval.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Feed produces bars for a date range. Implementations must return bars
// already sorted; the engine still validates before trusting them.
type Feed interface {
	Symbol() string
	Bars(ctx context.Context, start, end time.Time) ([]Bar, error)
}

// Validate checks the data contract for a bar sequence. Any violation is
// fatal to a run: a backtest over bad data produces confidently wrong
// numbers, which is worse than no result.
func Validate(bars []Bar) error {
	var prev time.Time
	for i, b := range bars {
		if b.Timestamp.IsZero() {
			return fmt.Errorf("bar %d: missing timestamp", i)
		}
		if i > 0 && !b.Timestamp.After(prev) {
			return fmt.Errorf("bar %d (%s): timestamps not strictly increasing", i, b.Timestamp)
		}
		prev = b.Timestamp

		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return fmt.Errorf("bar %d (%s): non-positive price", i, b.Timestamp)
		}
		if b.Volume < 0 {
			return fmt.Errorf("bar %d (%s): negative volume", i, b.Timestamp)
		}
		if b.High < b.Low {
			return fmt.Errorf("bar %d (%s): high %.8f below low %.8f", i, b.Timestamp, b.High, b.Low)
		}
		if b.Open > b.High || b.Open < b.Low {
			return fmt.Errorf("bar %d (%s): open outside [low, high]", i, b.Timestamp)
		}
		if b.Close > b.High || b.Close < b.Low {
			return fmt.Errorf("bar %d (%s): close outside [low, high]", i, b.Timestamp)
		}
	}
	return nil
}

// SliceFeed serves bars from memory. Used by tests and the API layer when a
// caller submits bars inline.
type SliceFeed struct {
	symbol string
	bars   []Bar
}

// NewSliceFeed creates a feed over a pre-loaded bar slice.
func NewSliceFeed(symbol string, bars []Bar) *SliceFeed {
	return &SliceFeed{symbol: symbol, bars: bars}
}

func (f *SliceFeed) Symbol() string { return f.symbol }

func (f *SliceFeed) Bars(_ context.Context, start, end time.Time) ([]Bar, error) {
	var out []Bar
	for _, b := range f.bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
