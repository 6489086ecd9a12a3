// Package journal persists one row per completed decision cycle, always to a
// local CSV file and optionally as parquet batches exported to S3.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// Column order is a compatibility contract with downstream spreadsheets;
// new columns go at the end.
var csvHeader = []string{
	"timestamp", "action", "side", "qty", "price",
	"realized_pnl", "funding_paid", "fees_paid",
	"pos_qty", "pos_notional", "equity",
}

// CSVWriter appends cycle rows to a local CSV file. The header is written
// only when the file is created or empty.
type CSVWriter struct {
	path string
	file *os.File
	out  *csv.Writer
}

// NewCSVWriter opens (or creates) the journal file at path.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	info, err := os.Stat(path)
	needHeader := err != nil || info.Size() == 0

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	w := &CSVWriter{path: path, file: file, out: csv.NewWriter(file)}

	if needHeader {
		if err := w.out.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write journal header: %w", err)
		}
		w.out.Flush()
		if err := w.out.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write journal header: %w", err)
		}
	}

	return w, nil
}

// Append writes one record and flushes it to disk.
func (w *CSVWriter) Append(rec models.CycleRecord) error {
	if err := w.out.Write(csvRow(rec)); err != nil {
		return err
	}
	w.out.Flush()
	return w.out.Error()
}

// Close flushes pending rows and closes the underlying file.
func (w *CSVWriter) Close() error {
	w.out.Flush()
	if err := w.out.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Path returns the journal file location.
func (w *CSVWriter) Path() string { return w.path }

func csvRow(rec models.CycleRecord) []string {
	side := string(rec.Side)
	if side == "" {
		side = string(models.SideNone)
	}

	return []string{
		rec.Timestamp.Format("2006-01-02 15:04:05"),
		rec.Action,
		side,
		strconv.FormatFloat(rec.Qty, 'f', 6, 64),
		strconv.FormatFloat(rec.Price, 'f', 2, 64),
		strconv.FormatFloat(rec.RealizedPnL, 'f', 6, 64),
		strconv.FormatFloat(rec.FundingPaid, 'f', 6, 64),
		strconv.FormatFloat(rec.FeesPaid, 'f', 6, 64),
		strconv.FormatFloat(rec.PositionQty, 'f', 6, 64),
		strconv.FormatFloat(rec.PositionNotional, 'f', 2, 64),
		strconv.FormatFloat(rec.Equity, 'f', 2, 64),
	}
}
