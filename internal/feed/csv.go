package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CSVFeed reads bars from a CSV file with a header row of
// timestamp,open,high,low,close,volume. Timestamps are RFC 3339 or Unix
// seconds.
type CSVFeed struct {
	symbol string
	path   string

	cache []Bar
}

// NewCSVFeed creates a feed over the given file.
func NewCSVFeed(symbol, path string) *CSVFeed {
	return &CSVFeed{symbol: symbol, path: path}
}

func (f *CSVFeed) Symbol() string { return f.symbol }

func (f *CSVFeed) Bars(_ context.Context, start, end time.Time) ([]Bar, error) {
	if f.cache == nil {
		bars, err := f.load()
		if err != nil {
			return nil, err
		}
		f.cache = bars
	}

	var out []Bar
	for _, b := range f.cache {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *CSVFeed) load() ([]Bar, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open bar file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read bar file: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("bar file %s has no data rows", f.path)
	}

	bars := make([]Bar, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("bar file row %d: want 6 columns, got %d", i+2, len(row))
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, fmt.Errorf("bar file row %d: %w", i+2, err)
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("bar file row %d col %d: %w", i+2, j+2, err)
			}
			vals[j] = v
		}
		bars = append(bars, Bar{
			Symbol:    f.symbol,
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}
