package statestore

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/yanapattin-source/bybit-rebalance-perp/internal/ledger"
)

func TestLoadMissingFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	state, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing state file")
	}
	if len(state.SeenIDs) != 0 || state.Realized != 0 {
		t.Fatalf("expected zero state, got %+v", state)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	saved := ledger.State{
		SeenIDs:     []string{"a", "b", "c"},
		Realized:    12.5,
		FundingPaid: -0.75,
		FeesPaid:    0.3,
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after Save")
	}
	if !reflect.DeepEqual(loaded, saved) {
		t.Fatalf("expected %+v, got %+v", saved, loaded)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	store := New(path)

	if err := store.Save(ledger.State{Realized: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file not created: %v", err)
	}
}

func TestSaveOverwritesPrevious(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "state.json"))

	if err := store.Save(ledger.State{Realized: 1}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(ledger.State{Realized: 2, SeenIDs: []string{"x"}}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if loaded.Realized != 2 || len(loaded.SeenIDs) != 1 {
		t.Fatalf("expected latest snapshot, got %+v", loaded)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, _, err := New(path).Load(); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}
