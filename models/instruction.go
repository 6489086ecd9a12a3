package models

// OrderSide is the direction of a trade instruction.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
	SideNone OrderSide = "none"
)

// TradeInstruction is the output of one decision cycle: what to trade,
// how much, and whether the order may only reduce the existing
// position. Qty is always a non-negative multiple of the configured
// quantity step. Instructions are produced fresh each tick and not
// retained.
type TradeInstruction struct {
	Side       OrderSide `json:"side"`
	Qty        float64   `json:"qty"`
	ReduceOnly bool      `json:"reduce_only"`
}

// Actionable reports whether the instruction calls for an order.
func (t TradeInstruction) Actionable() bool {
	return (t.Side == SideBuy || t.Side == SideSell) && t.Qty > 0
}
