// Package export writes finished run artifacts (equity curve, trade ledger)
// to Parquet files for offline analysis.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"backtest-core/internal/engine"
)

// EquityRecord is the Parquet schema for one equity curve point.
type EquityRecord struct {
	RunID          string  `parquet:"run_id"`
	Timestamp      int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Equity         float64 `parquet:"equity"`
	Cash           float64 `parquet:"cash"`
	PositionsValue float64 `parquet:"positions_value"`
	PositionsCount int32   `parquet:"positions_count"`
	Price          float64 `parquet:"price"`
}

// TradeRecord is the Parquet schema for one closed trade.
type TradeRecord struct {
	RunID      string  `parquet:"run_id"`
	TradeID    string  `parquet:"trade_id"`
	Symbol     string  `parquet:"symbol"`
	Side       string  `parquet:"side"`
	Quantity   float64 `parquet:"quantity"`
	EntryTime  int64   `parquet:"entry_time,timestamp(millisecond)"`
	ExitTime   int64   `parquet:"exit_time,timestamp(millisecond)"`
	EntryPrice float64 `parquet:"entry_price"`
	ExitPrice  float64 `parquet:"exit_price"`
	PnL        float64 `parquet:"pnl"`
	PnLPercent float64 `parquet:"pnl_percent"`
	Commission float64 `parquet:"commission"`
}

// ParquetExporter writes run artifacts under a data directory:
//
//	<DataDir>/runs/<RUN_ID>/equity.parquet
//	<DataDir>/runs/<RUN_ID>/trades.parquet
type ParquetExporter struct {
	DataDir string
}

// NewParquetExporter creates an exporter rooted at dataDir.
func NewParquetExporter(dataDir string) *ParquetExporter {
	return &ParquetExporter{DataDir: dataDir}
}

// Export writes the run's equity curve and trade ledger. Both files are
// written even when empty so a run directory is always complete.
func (x *ParquetExporter) Export(results *engine.Results) error {
	dir := x.runDir(results.RunID)

	equity := make([]EquityRecord, len(results.EquityCurve))
	for i, p := range results.EquityCurve {
		equity[i] = EquityRecord{
			RunID:          results.RunID,
			Timestamp:      p.Timestamp.UnixMilli(),
			Equity:         p.Equity,
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			PositionsCount: int32(p.PositionsCount),
			Price:          p.Price,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "equity.parquet"), equity); err != nil {
		return fmt.Errorf("writing equity curve for run %s: %w", results.RunID, err)
	}

	trades := make([]TradeRecord, len(results.Trades))
	for i, t := range results.Trades {
		trades[i] = TradeRecord{
			RunID:      results.RunID,
			TradeID:    t.ID,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			EntryTime:  t.EntryTime.UnixMilli(),
			ExitTime:   t.ExitTime.UnixMilli(),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			PnL:        t.PnL,
			PnLPercent: t.PnLPercent,
			Commission: t.Commission,
		}
	}
	if err := writeParquetFile(filepath.Join(dir, "trades.parquet"), trades); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", results.RunID, err)
	}
	return nil
}

// ReadEquity loads a previously exported equity curve.
func (x *ParquetExporter) ReadEquity(runID string) ([]EquityRecord, error) {
	return parquet.ReadFile[EquityRecord](filepath.Join(x.runDir(runID), "equity.parquet"))
}

// ReadTrades loads a previously exported trade ledger.
func (x *ParquetExporter) ReadTrades(runID string) ([]TradeRecord, error) {
	return parquet.ReadFile[TradeRecord](filepath.Join(x.runDir(runID), "trades.parquet"))
}

func (x *ParquetExporter) runDir(runID string) string {
	return filepath.Join(x.DataDir, "runs", runID)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
