// Package ledger accumulates realized PnL, funding and fees from exchange
// transaction-log entries, deduplicating by entry ID so overlapping fetch
// windows never double count.
package ledger

import (
	"sort"
	"strings"

	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// Tracker folds transaction-log entries into running totals. It is owned by
// the engine loop and is not safe for concurrent use.
type Tracker struct {
	seen        map[string]struct{}
	realized    float64
	fundingPaid float64
	feesPaid    float64
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Ingest applies a single entry and reports whether it was new. Entry types
// are matched case-insensitively; unrecognized types are remembered but do
// not move any total.
func (t *Tracker) Ingest(entry models.LedgerEntry) bool {
	if _, dup := t.seen[entry.ID]; dup {
		return false
	}
	t.seen[entry.ID] = struct{}{}

	switch strings.ToLower(entry.Type) {
	case "realized_pnl", "pnl", "profit_and_loss", "settlement":
		t.realized += entry.Amount
	case "funding_fee":
		t.fundingPaid += entry.Amount
	case "trade_fee", "fee":
		if entry.Amount < 0 {
			t.feesPaid -= entry.Amount
		} else {
			t.feesPaid += entry.Amount
		}
	}
	return true
}

// IngestBatch applies entries in order and returns how many were new.
func (t *Tracker) IngestBatch(entries []models.LedgerEntry) int {
	applied := 0
	for _, e := range entries {
		if t.Ingest(e) {
			applied++
		}
	}
	return applied
}

func (t *Tracker) Realized() float64 {
	return t.realized
}

func (t *Tracker) FundingPaid() float64 {
	return t.fundingPaid
}

func (t *Tracker) FeesPaid() float64 {
	return t.feesPaid
}

// State is the persistable form of a tracker.
type State struct {
	SeenIDs     []string `json:"seen_ids"`
	Realized    float64  `json:"realized"`
	FundingPaid float64  `json:"funding_paid"`
	FeesPaid    float64  `json:"fees_paid"`
}

// Snapshot captures the tracker state with deterministically ordered IDs.
func (t *Tracker) Snapshot() State {
	ids := make([]string, 0, len(t.seen))
	for id := range t.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return State{
		SeenIDs:     ids,
		Realized:    t.realized,
		FundingPaid: t.fundingPaid,
		FeesPaid:    t.feesPaid,
	}
}

// Restore replaces the tracker state with a previously captured snapshot.
func (t *Tracker) Restore(s State) {
	t.seen = make(map[string]struct{}, len(s.SeenIDs))
	for _, id := range s.SeenIDs {
		t.seen[id] = struct{}{}
	}
	t.realized = s.Realized
	t.fundingPaid = s.FundingPaid
	t.feesPaid = s.FeesPaid
}
