package models

// PositionSide labels the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

// Position is a point-in-time snapshot of the tracked perpetual
// position. Qty is an unsigned magnitude; the direction lives in Side
// so an inconsistent (side, quantity) pair cannot be represented. Use
// the constructors below rather than building the struct by hand.
type Position struct {
	Side       PositionSide `json:"side"`
	Qty        float64      `json:"qty"`
	EntryPrice float64      `json:"entry_price"`
}

// LongPosition returns a long position of the given magnitude. A
// non-positive quantity collapses to flat.
func LongPosition(qty, entryPrice float64) Position {
	if qty <= 0 {
		return FlatPosition()
	}
	return Position{Side: PositionLong, Qty: qty, EntryPrice: entryPrice}
}

// ShortPosition returns a short position of the given magnitude. A
// non-positive quantity collapses to flat.
func ShortPosition(qty, entryPrice float64) Position {
	if qty <= 0 {
		return FlatPosition()
	}
	return Position{Side: PositionShort, Qty: qty, EntryPrice: entryPrice}
}

// FlatPosition returns the empty position.
func FlatPosition() Position {
	return Position{Side: PositionFlat}
}

// SignedQty returns +Qty for longs, -Qty for shorts and 0 when flat.
func (p Position) SignedQty() float64 {
	switch p.Side {
	case PositionLong:
		return p.Qty
	case PositionShort:
		return -p.Qty
	default:
		return 0
	}
}

// Notional returns the unsigned exposure |qty| x price.
func (p Position) Notional(price float64) float64 {
	if p.Side == PositionFlat {
		return 0
	}
	return p.Qty * price
}

// IsFlat reports whether the position carries no exposure.
func (p Position) IsFlat() bool {
	return p.Side == PositionFlat || p.Qty == 0
}
