package journal

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

func testRecord() models.CycleRecord {
	return models.CycleRecord{
		Timestamp:        time.Date(2026, 8, 25, 14, 3, 0, 0, time.UTC),
		Symbol:           "BTCUSDT",
		Action:           models.ActionOrderPlaced,
		Side:             models.SideBuy,
		Qty:              0.1,
		Price:            30000.5,
		RealizedPnL:      12.5,
		FundingPaid:      -1.25,
		FeesPaid:         0.3,
		PositionQty:      0.1,
		PositionNotional: 3000.05,
		Equity:           1500,
	}
}

func TestCSVRowFormats(t *testing.T) {
	row := csvRow(testRecord())

	expected := []string{
		"2026-08-25 14:03:00",
		"order_placed",
		"buy",
		"0.100000",
		"30000.50",
		"12.500000",
		"-1.250000",
		"0.300000",
		"0.100000",
		"3000.05",
		"1500.00",
	}

	if len(row) != len(expected) {
		t.Fatalf("expected %d columns, got %d", len(expected), len(row))
	}
	for i := range expected {
		if row[i] != expected[i] {
			t.Errorf("column %s: expected %q, got %q", csvHeader[i], expected[i], row[i])
		}
	}
}

func TestCSVRowMapsEmptySideToNone(t *testing.T) {
	rec := testRecord()
	rec.Side = ""
	rec.Action = models.ActionNoAction

	row := csvRow(rec)
	if row[2] != "none" {
		t.Fatalf("expected empty side to render as none, got %q", row[2])
	}
}

func TestCSVWriterWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.csv")

	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	if err := w.Append(testRecord()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening an existing journal must append without a second header.
	w, err = NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter reopen: %v", err)
	}
	if err := w.Append(testRecord()); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close after reopen: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d rows", len(rows))
	}
	for i, col := range csvHeader {
		if rows[0][i] != col {
			t.Fatalf("unexpected header: %v", rows[0])
		}
	}
	if rows[1][0] != "2026-08-25 14:03:00" {
		t.Errorf("unexpected timestamp cell: %q", rows[1][0])
	}
}

func TestGenerateS3Key(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Exchange.Symbol = "BTCUSDT"
	cfg.Exchange.Category = "linear"
	cfg.Journal.Partitioning.TimeFormat = "year={year}/month={month}/day={day}/hour={hour}"
	cfg.Journal.Partitioning.AdditionalKeys = []string{"symbol"}

	w := &Writer{config: cfg}
	ts := time.Date(2026, 8, 25, 14, 3, 7, 0, time.UTC)

	key := w.generateS3Key(ts)
	expected := "symbol=BTCUSDT/year=2026/month=08/day=25/hour=14/bybit_cycles_BTCUSDT_20260825140307.parquet"
	if key != expected {
		t.Fatalf("expected key %q, got %q", expected, key)
	}
}

func TestGenerateS3KeyCategoryPartition(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Exchange.Symbol = "ETHUSDT"
	cfg.Exchange.Category = "linear"
	cfg.Journal.Partitioning.TimeFormat = "{year}/{month}/{day}"
	cfg.Journal.Partitioning.AdditionalKeys = []string{"category", "symbol"}

	w := &Writer{config: cfg}
	ts := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	key := w.generateS3Key(ts)
	if !strings.HasPrefix(key, "category=linear/symbol=ETHUSDT/2026/01/02/") {
		t.Fatalf("unexpected key layout: %q", key)
	}
}

func TestCreateParquetFile(t *testing.T) {
	for _, compression := range []string{"snappy", ""} {
		cfg := &appconfig.Config{}
		cfg.Journal.Compression = compression

		w := &Writer{config: cfg}
		rec := testRecord()
		other := testRecord()
		other.Side = ""
		other.Action = models.ActionNoAction

		data, size, err := w.createParquetFile([]models.CycleRecord{rec, other})
		if err != nil {
			t.Fatalf("compression %q: createParquetFile: %v", compression, err)
		}
		if size != int64(len(data)) || size == 0 {
			t.Fatalf("compression %q: inconsistent size %d for %d bytes", compression, size, len(data))
		}
		if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
			t.Fatalf("compression %q: output is not a parquet file", compression)
		}
	}
}

func TestWriterConsumesRecordChannel(t *testing.T) {
	dir := t.TempDir()
	cfg := &appconfig.Config{}
	cfg.Journal.CSVPath = filepath.Join(dir, "journal.csv")

	records := make(chan models.CycleRecord, 4)
	w, err := NewWriter(cfg, records)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail while running")
	}

	records <- testRecord()
	records <- testRecord()
	close(records)

	w.Stop()

	f, err := os.Open(cfg.Journal.CSVPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
}
