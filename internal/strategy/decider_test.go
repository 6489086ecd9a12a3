package strategy

import (
	"testing"

	"github.com/yanapattin-source/bybit-rebalance-perp/internal/indicator"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

func baseConfig() Config {
	return Config{
		TargetNotional:   3000,
		Leverage:         3,
		BaseTolerancePct: 1.0,
		QtyStep:          0.0001,
		MinTradeValue:    10,
		AllowShort:       false,
		VolReferencePct:  1.0,
		VolScaleMin:      0.5,
		VolScaleMax:      3.0,
	}
}

func newDecider(t *testing.T, cfg Config) *Decider {
	t.Helper()
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func calmSnap(atrPct float64) indicator.Snapshot {
	return indicator.Snapshot{ATRPct: atrPct, Ready: true}
}

func trendSnap(atrPct float64, up bool, strength float64) indicator.Snapshot {
	return indicator.Snapshot{
		ATRPct:        atrPct,
		TrendUp:       up,
		TrendDown:     !up,
		TrendStrength: strength,
		Ready:         true,
	}
}

func TestDecideBuysTowardTargetWhenFlat(t *testing.T) {
	d := newDecider(t, baseConfig())

	dec := d.Decide(30000, calmSnap(1.0), models.FlatPosition(), 2000)

	if dec.Instruction.Side != models.SideBuy {
		t.Fatalf("side = %s, want buy", dec.Instruction.Side)
	}
	if dec.Instruction.Qty != 0.1 {
		t.Errorf("qty = %v, want 0.1", dec.Instruction.Qty)
	}
	if dec.Instruction.ReduceOnly {
		t.Errorf("opening buy must not be reduce-only")
	}
	if dec.VolScale != 1 {
		t.Errorf("vol scale = %v, want 1", dec.VolScale)
	}
	if dec.Tolerance != 30 {
		t.Errorf("tolerance = %v, want 30", dec.Tolerance)
	}
	if dec.Deviation != -3000 {
		t.Errorf("deviation = %v, want -3000", dec.Deviation)
	}
	if dec.Equity != 6000 {
		t.Errorf("equity = %v, want 6000", dec.Equity)
	}
}

func TestDecideReduceOnlySellWhenOverweight(t *testing.T) {
	d := newDecider(t, baseConfig())
	pos := models.LongPosition(0.12, 29000)

	dec := d.Decide(30000, calmSnap(1.0), pos, 2000)

	if dec.Instruction.Side != models.SideSell {
		t.Fatalf("side = %s, want sell", dec.Instruction.Side)
	}
	if dec.Instruction.Qty != 0.02 {
		t.Errorf("qty = %v, want 0.02", dec.Instruction.Qty)
	}
	if !dec.Instruction.ReduceOnly {
		t.Errorf("trimming a long must be reduce-only")
	}
	if dec.PositionNotional != 3600 {
		t.Errorf("position notional = %v, want 3600", dec.PositionNotional)
	}
}

func TestDecideReduceOnlyBuyWhenShortOverweight(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowShort = true
	d := newDecider(t, cfg)
	pos := models.ShortPosition(0.12, 29000)

	dec := d.Decide(30000, calmSnap(1.0), pos, 2000)

	if dec.Instruction.Side != models.SideBuy {
		t.Fatalf("side = %s, want buy", dec.Instruction.Side)
	}
	if dec.Instruction.Qty != 0.02 {
		t.Errorf("qty = %v, want 0.02", dec.Instruction.Qty)
	}
	if !dec.Instruction.ReduceOnly {
		t.Errorf("covering a short must be reduce-only")
	}
	if dec.PositionQty != -0.12 {
		t.Errorf("position qty = %v, want -0.12", dec.PositionQty)
	}
}

func TestDecideDampsAgainstTrend(t *testing.T) {
	d := newDecider(t, baseConfig())

	// Selling into an up trend with strength 10 halves the order.
	sell := d.Decide(30000, trendSnap(1.0, true, 10), models.LongPosition(0.12, 29000), 2000)
	if sell.Instruction.Side != models.SideSell || sell.Instruction.Qty != 0.01 {
		t.Errorf("damped sell = %+v, want sell 0.01", sell.Instruction)
	}

	// Buying into a down trend with strength 10 halves the order too.
	buy := d.Decide(30000, trendSnap(1.0, false, 10), models.FlatPosition(), 2000)
	if buy.Instruction.Side != models.SideBuy || buy.Instruction.Qty != 0.05 {
		t.Errorf("damped buy = %+v, want buy 0.05", buy.Instruction)
	}

	// A buy with the trend is not damped.
	withTrend := d.Decide(30000, trendSnap(1.0, true, 10), models.FlatPosition(), 2000)
	if withTrend.Instruction.Qty != 0.1 {
		t.Errorf("buy with the trend = %v, want full 0.1", withTrend.Instruction.Qty)
	}
}

func TestDecideHoldsInsideTolerance(t *testing.T) {
	d := newDecider(t, baseConfig())
	pos := models.LongPosition(0.1, 30000)

	dec := d.Decide(30000, calmSnap(1.0), pos, 2000)

	if dec.Instruction.Side != models.SideNone {
		t.Fatalf("expected no action, got %+v", dec.Instruction)
	}
	if dec.Deviation != 0 {
		t.Errorf("deviation = %v, want 0", dec.Deviation)
	}
	if dec.PositionNotional != 3000 {
		t.Errorf("position notional = %v, want 3000", dec.PositionNotional)
	}
}

func TestDecideMinTradeValueGate(t *testing.T) {
	cfg := baseConfig()
	cfg.MinTradeValue = 50
	d := newDecider(t, cfg)

	// Deviation ~45 clears the tolerance band (30) but the order value stays
	// below the 50 USDT minimum.
	dec := d.Decide(30000, calmSnap(1.0), models.LongPosition(0.1015, 29000), 2000)

	if dec.Instruction.Side != models.SideNone {
		t.Fatalf("expected no action below min trade value, got %+v", dec.Instruction)
	}
}

func TestDecideRequantizesAfterDamping(t *testing.T) {
	cfg := baseConfig()
	cfg.TargetNotional = 1000
	cfg.BaseTolerancePct = 0.1
	cfg.QtyStep = 0.01
	cfg.MinTradeValue = 0.5
	d := newDecider(t, cfg)

	pos := models.LongPosition(10.05, 99)

	// Max-strength damping shrinks the 0.05 sell to 0.005, which floors to
	// zero at a 0.01 step: the cycle holds rather than sending a sub-step qty.
	held := d.Decide(100, trendSnap(1.0, true, 100), pos, 2000)
	if held.Instruction.Side != models.SideNone {
		t.Fatalf("expected hold when the damped qty floors to zero, got %+v", held.Instruction)
	}

	// Moderate damping leaves 0.025, which floors to a valid 0.02 order.
	dec := d.Decide(100, trendSnap(1.0, true, 10), pos, 2000)
	if dec.Instruction.Side != models.SideSell || dec.Instruction.Qty != 0.02 {
		t.Fatalf("damped sell = %+v, want sell 0.02", dec.Instruction)
	}
}

func TestDecideToleranceScalesWithVolatility(t *testing.T) {
	d := newDecider(t, baseConfig())
	pos := models.LongPosition(0.1015, 29000) // deviation ~45 at price 30000

	cases := []struct {
		name   string
		atrPct float64
		act    bool
	}{
		{"reference volatility", 1.0, true},
		{"double volatility widens band", 2.0, false},
		{"calm market clamps to min scale", 0.1, true},
		{"extreme volatility clamps to max scale", 10.0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dec := d.Decide(30000, calmSnap(c.atrPct), pos, 2000)
			acted := dec.Instruction.Side != models.SideNone
			if acted != c.act {
				t.Errorf("atrPct %v: acted=%v, want %v (tolerance %v)", c.atrPct, acted, c.act, dec.Tolerance)
			}
		})
	}
}

func TestQuantize(t *testing.T) {
	cases := []struct {
		qty, step, want float64
	}{
		{0.1, 0.0001, 0.1},
		{0.02, 0.0001, 0.02},
		{0.00005, 0.0001, 0},
		{0.025, 0.01, 0.02},
	}
	for _, c := range cases {
		if got := Quantize(c.qty, c.step); got != c.want {
			t.Errorf("Quantize(%v, %v) = %v, want %v", c.qty, c.step, got, c.want)
		}
	}
}

func TestMarginRequired(t *testing.T) {
	d := newDecider(t, baseConfig())
	if got := d.MarginRequired(0.1, 30000); got != 1000 {
		t.Errorf("margin required = %v, want 1000", got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero target", func(c *Config) { c.TargetNotional = 0 }},
		{"sub-1 leverage", func(c *Config) { c.Leverage = 0.5 }},
		{"zero step", func(c *Config) { c.QtyStep = 0 }},
		{"negative tolerance", func(c *Config) { c.BaseTolerancePct = -1 }},
		{"negative min trade", func(c *Config) { c.MinTradeValue = -1 }},
		{"zero vol reference", func(c *Config) { c.VolReferencePct = 0 }},
		{"inverted vol scale bounds", func(c *Config) { c.VolScaleMin = 2; c.VolScaleMax = 1 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := baseConfig()
			c.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Errorf("expected error for %s", c.name)
			}
		})
	}
}
