package models

import (
	"time"
)

// LedgerEntry is one exchange-reported accounting event (trade fee,
// funding settlement, realized pnl). Entries are append-only at the
// source and may be delivered more than once across overlapping polls;
// ID is the sole deduplication key.
type LedgerEntry struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	Time     time.Time `json:"time"`
}
