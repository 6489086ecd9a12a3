// Package strategy holds the rebalancing decision logic. Each cycle the
// decider compares the position's notional value against the target band and
// produces at most one trade instruction, scaled down when it would fight the
// prevailing trend.
package strategy

import (
	"fmt"
	"math"

	"github.com/yanapattin-source/bybit-rebalance-perp/internal/indicator"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// Config carries the sizing parameters of the rebalancing strategy.
type Config struct {
	TargetNotional   float64
	Leverage         float64
	BaseTolerancePct float64
	QtyStep          float64
	MinTradeValue    float64
	AllowShort       bool
	VolReferencePct  float64
	VolScaleMin      float64
	VolScaleMax      float64
}

func (c Config) validate() error {
	if c.TargetNotional <= 0 {
		return fmt.Errorf("target notional must be greater than 0, got %v", c.TargetNotional)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("leverage must be at least 1, got %v", c.Leverage)
	}
	if c.QtyStep <= 0 {
		return fmt.Errorf("qty step must be greater than 0, got %v", c.QtyStep)
	}
	if c.BaseTolerancePct < 0 {
		return fmt.Errorf("base tolerance must not be negative, got %v", c.BaseTolerancePct)
	}
	if c.MinTradeValue < 0 {
		return fmt.Errorf("min trade value must not be negative, got %v", c.MinTradeValue)
	}
	if c.VolReferencePct <= 0 {
		return fmt.Errorf("vol reference must be greater than 0, got %v", c.VolReferencePct)
	}
	if c.VolScaleMin <= 0 || c.VolScaleMax < c.VolScaleMin {
		return fmt.Errorf("vol scale bounds must satisfy 0 < min <= max, got [%v, %v]", c.VolScaleMin, c.VolScaleMax)
	}
	return nil
}

// Decider is a stateless rule evaluator; all inputs arrive per call.
type Decider struct {
	cfg Config
}

func New(cfg Config) (*Decider, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	return &Decider{cfg: cfg}, nil
}

// Decision is the full outcome of one evaluation, including the intermediate
// values the journal records.
type Decision struct {
	Instruction      models.TradeInstruction
	VolScale         float64
	Tolerance        float64
	Deviation        float64
	PositionQty      float64
	PositionNotional float64
	Equity           float64
}

// Quantize floors qty to the configured step so every order size is a step
// multiple the exchange accepts.
func (d *Decider) Quantize(qty float64) float64 {
	return Quantize(qty, d.cfg.QtyStep)
}

// Quantize floors qty down to a multiple of step.
func Quantize(qty, step float64) float64 {
	return math.Floor(qty/step) * step
}

// MarginRequired returns the margin an order of the given size would consume
// at the configured leverage.
func (d *Decider) MarginRequired(qty, price float64) float64 {
	return qty * price / d.cfg.Leverage
}

// Decide evaluates the rebalancing rules against the current market state.
// The snapshot must be Ready and price must be greater than 0. A decision
// with a SideNone instruction means leave the position alone this cycle.
func (d *Decider) Decide(price float64, snap indicator.Snapshot, pos models.Position, availableMargin float64) Decision {
	cfg := d.cfg

	volScale := snap.ATRPct / cfg.VolReferencePct
	if volScale < cfg.VolScaleMin {
		volScale = cfg.VolScaleMin
	}
	if volScale > cfg.VolScaleMax {
		volScale = cfg.VolScaleMax
	}

	tolerance := cfg.TargetNotional * (cfg.BaseTolerancePct / 100) * volScale

	posQty := pos.SignedQty()
	posNotional := math.Abs(posQty) * price
	deviation := posNotional - cfg.TargetNotional
	deviationAbs := math.Abs(deviation)

	roundedQty := d.Quantize(deviationAbs / price)
	if roundedQty < 0 {
		roundedQty = 0
	}

	sellScale, buyScale := 1.0, 1.0
	if snap.TrendUp {
		sellScale = dampingScale(snap.TrendStrength)
	}
	if snap.TrendDown {
		buyScale = dampingScale(snap.TrendStrength)
	}

	decision := Decision{
		Instruction:      models.TradeInstruction{Side: models.SideNone},
		VolScale:         volScale,
		Tolerance:        tolerance,
		Deviation:        deviation,
		PositionQty:      posQty,
		PositionNotional: posNotional,
		Equity:           availableMargin * cfg.Leverage,
	}

	// Both gates use the pre-damping size: a deviation large enough to act on
	// stays actionable even when trend damping shrinks the resulting order.
	if deviationAbs <= tolerance || roundedQty*price < cfg.MinTradeValue {
		return decision
	}

	var side models.OrderSide
	var qty float64
	reduceOnly := false

	switch {
	case deviation > 0 && posQty > 0:
		qty = roundedQty * sellScale
		if !cfg.AllowShort {
			qty = math.Min(qty, math.Abs(posQty))
		}
		side = models.SideSell
		reduceOnly = true
	case deviation > 0 && posQty < 0:
		qty = roundedQty * buyScale
		if !cfg.AllowShort {
			qty = math.Min(qty, math.Abs(posQty))
		}
		side = models.SideBuy
		reduceOnly = true
	case deviation > 0:
		// flat position cannot be overweight; nothing to unwind
		return decision
	default:
		qty = roundedQty * buyScale
		side = models.SideBuy
	}

	qty = d.Quantize(qty)
	if qty <= 0 || qty*price < cfg.MinTradeValue {
		return decision
	}

	decision.Instruction = models.TradeInstruction{Side: side, Qty: qty, ReduceOnly: reduceOnly}
	return decision
}

// dampingScale converts a trend strength percentage into the factor applied
// to orders that trade against the trend. Strength is capped at 100 and the
// factor never drops below 0.1.
func dampingScale(strength float64) float64 {
	if strength > 100 {
		strength = 100
	}
	scale := 1 / (1 + strength/10)
	if scale < 0.1 {
		scale = 0.1
	}
	if scale > 1 {
		scale = 1
	}
	return scale
}
