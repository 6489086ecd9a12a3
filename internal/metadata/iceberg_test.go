package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGeneratorCreatesMetadata(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "rebalance_journal")

	df := DataFile{
		Path:        "s3://bucket/symbol=BTCUSDT/year=2026/month=08/day=25/hour=14/bybit_cycles_BTCUSDT_20260825140000.parquet",
		FileSize:    100,
		RecordCount: 10,
		Partition: map[string]any{
			"symbol": "BTCUSDT",
			"date":   "2026-08-25",
		},
		Timestamp: time.Unix(1_756_000_000, 0).UTC(),
	}
	if err := gen.AddFile(df); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	metaPath := filepath.Join(dir, "metadata", "metadata.json")
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}

	var tm TableMetadata
	if err := json.Unmarshal(raw, &tm); err != nil {
		t.Fatalf("metadata not valid JSON: %v", err)
	}
	if tm.FormatVersion != 2 {
		t.Errorf("expected format version 2, got %d", tm.FormatVersion)
	}
	if len(tm.Snapshots) != 1 || tm.CurrentSnapshotID != tm.Snapshots[0].SnapshotID {
		t.Errorf("current snapshot not tracked: %+v", tm)
	}

	manifestPath := filepath.Join(dir, "metadata", tm.Snapshots[0].Manifest)
	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}

	catalogDir := filepath.Join(dir, "catalog")
	if err := gen.WriteCatalogEntry(catalogDir); err != nil {
		t.Fatalf("catalog entry: %v", err)
	}
	if _, err := os.Stat(filepath.Join(catalogDir, "rebalance_journal.json")); err != nil {
		t.Fatalf("catalog entry not written: %v", err)
	}
}

func TestGeneratorAppendsSnapshots(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(dir, "rebalance_journal")

	first := DataFile{Path: "s3://bucket/a.parquet", FileSize: 1, RecordCount: 1, Timestamp: time.Unix(100, 0)}
	second := DataFile{Path: "s3://bucket/b.parquet", FileSize: 2, RecordCount: 2, Timestamp: time.Unix(200, 0)}

	if err := gen.AddFile(first); err != nil {
		t.Fatalf("AddFile first: %v", err)
	}
	if err := gen.AddFile(second); err != nil {
		t.Fatalf("AddFile second: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "metadata", "metadata.json"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}

	var tm TableMetadata
	if err := json.Unmarshal(raw, &tm); err != nil {
		t.Fatalf("metadata not valid JSON: %v", err)
	}
	if len(tm.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(tm.Snapshots))
	}
	if tm.CurrentSnapshotID != second.Timestamp.UnixNano() {
		t.Errorf("expected current snapshot to follow the latest file, got %d", tm.CurrentSnapshotID)
	}
}
