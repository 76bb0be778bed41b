package feed

import (
	"context"
	"fmt"
	"time"

	"backtest-core/pkg/db"
)

// SQLiteFeed serves bars previously gathered into the local database.
type SQLiteFeed struct {
	database *db.Database
	symbol   string
}

// NewSQLiteFeed creates a feed over the bars table.
func NewSQLiteFeed(database *db.Database, symbol string) *SQLiteFeed {
	return &SQLiteFeed{database: database, symbol: symbol}
}

func (f *SQLiteFeed) Symbol() string { return f.symbol }

func (f *SQLiteFeed) Bars(ctx context.Context, start, end time.Time) ([]Bar, error) {
	rows, err := f.database.GetBars(ctx, f.symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", f.symbol, err)
	}
	bars := make([]Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, Bar{
			Symbol:    r.Symbol,
			Timestamp: r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return bars, nil
}

// StoreBars writes bars into the local database so later runs can use a
// SQLiteFeed without refetching.
func StoreBars(ctx context.Context, database *db.Database, bars []Bar) error {
	rows := make([]db.BarRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, db.BarRow{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	if err := database.UpsertBars(ctx, rows); err != nil {
		return fmt.Errorf("store bars: %w", err)
	}
	return nil
}
