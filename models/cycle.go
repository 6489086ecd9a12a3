package models

import (
	"time"
)

// Action notes recorded in the per-cycle journal row.
const (
	ActionNoAction           = "no_action"
	ActionDryRun             = "dry_run"
	ActionOrderPlaced        = "order_placed"
	ActionOrderFailed        = "order_failed"
	ActionInsufficientMargin = "skip_insufficient_margin"
)

// CycleRecord is the journal row emitted once per completed decision
// cycle. Skipped ticks (missing market data) emit no record at all.
// PositionQty is signed; the ledger totals are cumulative over the
// tracker's lifetime.
type CycleRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Symbol           string    `json:"symbol"`
	Action           string    `json:"action"`
	Side             OrderSide `json:"side"`
	Qty              float64   `json:"qty"`
	Price            float64   `json:"price"`
	RealizedPnL      float64   `json:"realized_pnl"`
	FundingPaid      float64   `json:"funding_paid"`
	FeesPaid         float64   `json:"fees_paid"`
	PositionQty      float64   `json:"pos_qty"`
	PositionNotional float64   `json:"pos_notional"`
	Equity           float64   `json:"equity"`
}
