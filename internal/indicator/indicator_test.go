package indicator

import (
	"math"
	"testing"

	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestATR(t *testing.T) {
	candles := []models.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 15, Low: 14, Close: 14.5},
		{High: 14, Low: 12, Close: 13},
	}

	// newest candle: range 2, close gap 2.5 -> TR 2.5
	// middle candle: range 1, gap up from close 9 -> TR 6
	atr, ok := ATR(candles, 2)
	if !ok {
		t.Fatalf("expected ATR to be computable")
	}
	if !almostEqual(atr, 4.25) {
		t.Errorf("ATR = %v, want 4.25", atr)
	}
}

func TestATRFlatSeries(t *testing.T) {
	flat := []models.Candle{
		{High: 100, Low: 100, Close: 100},
		{High: 100, Low: 100, Close: 100},
		{High: 100, Low: 100, Close: 100},
	}
	atr, ok := ATR(flat, 2)
	if !ok {
		t.Fatalf("expected ATR to be computable")
	}
	if atr != 0 {
		t.Errorf("ATR of a flat series = %v, want 0", atr)
	}
}

func TestATRInsufficientData(t *testing.T) {
	candles := []models.Candle{{High: 10, Low: 9, Close: 9.5}}
	if _, ok := ATR(candles, 1); ok {
		t.Errorf("ATR over one candle should not be computable (needs the prior close)")
	}
	if _, ok := ATR(nil, 14); ok {
		t.Errorf("ATR over empty series should not be computable")
	}
}

func TestEMA(t *testing.T) {
	ema, ok := EMA([]float64{1, 2, 3, 4}, 2)
	if !ok {
		t.Fatalf("expected EMA to be computable")
	}
	// seed (1+2)/2 = 1.5, then 3 and 4 folded in with k = 2/3
	if !almostEqual(ema, 3.5) {
		t.Errorf("EMA = %v, want 3.5", ema)
	}

	flat, ok := EMA([]float64{5, 5, 5, 5, 5}, 3)
	if !ok || !almostEqual(flat, 5) {
		t.Errorf("EMA of constant series = %v (ok=%v), want 5", flat, ok)
	}

	// exactly length values: the SMA seed is the answer
	seed, ok := EMA([]float64{1, 2}, 2)
	if !ok || !almostEqual(seed, 1.5) {
		t.Errorf("EMA over exactly length values = %v (ok=%v), want 1.5", seed, ok)
	}

	if _, ok := EMA([]float64{1}, 2); ok {
		t.Errorf("EMA with fewer values than the length should not be computable")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{ATRLength: 14, EMAShortLength: 10, EMALongLength: 50, TrendStrengthMultiplier: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []Config{
		{ATRLength: 0, EMAShortLength: 10, EMALongLength: 50, TrendStrengthMultiplier: 1},
		{ATRLength: 14, EMAShortLength: 0, EMALongLength: 50, TrendStrengthMultiplier: 1},
		{ATRLength: 14, EMAShortLength: 50, EMALongLength: 50, TrendStrengthMultiplier: 1},
		{ATRLength: 14, EMAShortLength: 10, EMALongLength: 50, TrendStrengthMultiplier: 0},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, c)
		}
	}
}

func TestComputeTrendUp(t *testing.T) {
	cfg := Config{ATRLength: 2, EMAShortLength: 2, EMALongLength: 3, TrendStrengthMultiplier: 1}
	candles := []models.Candle{
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
	}

	snap := Compute(candles, 12, cfg)
	if !snap.Ready {
		t.Fatalf("snapshot should be ready")
	}
	if !snap.TrendUp || snap.TrendDown {
		t.Errorf("rising closes should report an up trend: %+v", snap)
	}
	if !almostEqual(snap.ATR, 2) {
		t.Errorf("ATR = %v, want 2", snap.ATR)
	}
	if !almostEqual(snap.ATRPct, 2.0/12*100) {
		t.Errorf("ATRPct = %v, want %v", snap.ATRPct, 2.0/12*100)
	}
	// short EMA 11.5 vs long EMA 11 -> strength |0.5|/11*100
	if !almostEqual(snap.TrendStrength, 0.5/11*100) {
		t.Errorf("TrendStrength = %v, want %v", snap.TrendStrength, 0.5/11*100)
	}
}

func TestComputeNotReady(t *testing.T) {
	cfg := Config{ATRLength: 14, EMAShortLength: 10, EMALongLength: 50, TrendStrengthMultiplier: 1}

	if snap := Compute(nil, 100, cfg); snap.Ready {
		t.Errorf("empty series should not be ready")
	}

	candles := []models.Candle{{High: 11, Low: 9, Close: 10}}
	if snap := Compute(candles, 0, cfg); snap.Ready {
		t.Errorf("non-positive price should not be ready")
	}
}
