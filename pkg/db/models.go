package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no rows.
	ErrNotFound = errors.New("record not found")
)

// parseSQLiteTime handles the text format CURRENT_TIMESTAMP produces.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// BarRow is one OHLCV bar stored in the DB.
type BarRow struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// RunRow is an archived backtest run summary.
type RunRow struct {
	ID             string
	Symbol         string
	Strategy       string
	StartTime      time.Time
	EndTime        time.Time
	InitialCapital float64
	FinalEquity    float64
	TotalTrades    int
	MetricsJSON    string
	CreatedAt      time.Time
}

// TradeRow is one closed trade belonging to an archived run.
type TradeRow struct {
	ID         string
	RunID      string
	Symbol     string
	Side       string
	Qty        float64
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Commission float64
}

// EquityRow is one equity-curve point belonging to an archived run.
type EquityRow struct {
	RunID          string
	Timestamp      time.Time
	Equity         float64
	Cash           float64
	PositionsValue float64
	PositionsCount int
	Price          float64
}

// UpsertBars writes bars in a single transaction, replacing duplicates.
func (d *Database) UpsertBars(ctx context.Context, bars []BarRow) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bar tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`)
	if err != nil {
		return fmt.Errorf("prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.Symbol, b.Timestamp.UTC().Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		); err != nil {
			return fmt.Errorf("insert bar %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// GetBars returns bars for a symbol in [start, end], oldest first.
func (d *Database) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]BarRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []BarRow
	for rows.Next() {
		var b BarRow
		var ts int64
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// SaveRun archives a completed run with its trades and equity curve in one
// transaction.
func (d *Database) SaveRun(ctx context.Context, run RunRow, trades []TradeRow, equity []EquityRow) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, strategy, start_time, end_time,
			initial_capital, final_equity, total_trades, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Symbol, run.Strategy,
		run.StartTime.UTC().Unix(), run.EndTime.UTC().Unix(),
		run.InitialCapital, run.FinalEquity, run.TotalTrades, run.MetricsJSON,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, t := range trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_trades (id, run_id, symbol, side, qty,
				entry_time, exit_time, entry_price, exit_price, pnl, commission)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, run.ID, t.Symbol, t.Side, t.Qty,
			t.EntryTime.UTC().Unix(), t.ExitTime.UTC().Unix(),
			t.EntryPrice, t.ExitPrice, t.PnL, t.Commission,
		); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}

	for _, e := range equity {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_equity (run_id, timestamp, equity, cash,
				positions_value, positions_count, price)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, e.Timestamp.UTC().Unix(), e.Equity, e.Cash,
			e.PositionsValue, e.PositionsCount, e.Price,
		); err != nil {
			return fmt.Errorf("insert equity point: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun returns an archived run summary.
func (d *Database) GetRun(ctx context.Context, id string) (*RunRow, error) {
	var run RunRow
	var start, end int64
	var created string
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, strategy, start_time, end_time,
			initial_capital, final_equity, total_trades, metrics, created_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Symbol, &run.Strategy, &start, &end,
		&run.InitialCapital, &run.FinalEquity, &run.TotalTrades,
		&run.MetricsJSON, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	run.StartTime = time.Unix(start, 0).UTC()
	run.EndTime = time.Unix(end, 0).UTC()
	run.CreatedAt = parseSQLiteTime(created)
	return &run, nil
}

// ListRuns returns archived run summaries, newest first.
func (d *Database) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, strategy, start_time, end_time,
			initial_capital, final_equity, total_trades, metrics, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var run RunRow
		var start, end int64
		var created string
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Strategy, &start, &end,
			&run.InitialCapital, &run.FinalEquity, &run.TotalTrades,
			&run.MetricsJSON, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartTime = time.Unix(start, 0).UTC()
		run.EndTime = time.Unix(end, 0).UTC()
		run.CreatedAt = parseSQLiteTime(created)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRunTrades returns the closed trades of an archived run, oldest first.
func (d *Database) GetRunTrades(ctx context.Context, runID string) ([]TradeRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, run_id, symbol, side, qty, entry_time, exit_time,
			entry_price, exit_price, pnl, commission
		FROM run_trades WHERE run_id = ? ORDER BY exit_time ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var t TradeRow
		var entry, exit int64
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &t.Side, &t.Qty,
			&entry, &exit, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Commission); err != nil {
			return nil, fmt.Errorf("scan run trade: %w", err)
		}
		t.EntryTime = time.Unix(entry, 0).UTC()
		t.ExitTime = time.Unix(exit, 0).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
