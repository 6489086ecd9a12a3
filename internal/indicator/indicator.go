// Package indicator computes the volatility and trend measures that drive
// rebalancing decisions: a simple-averaged ATR and a pair of EMAs over the
// candle close series.
package indicator

import (
	"fmt"
	"math"

	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// Config holds the indicator lengths shared by the engine and the decider.
type Config struct {
	ATRLength               int
	EMAShortLength          int
	EMALongLength           int
	TrendStrengthMultiplier float64
}

func (c Config) Validate() error {
	if c.ATRLength < 1 {
		return fmt.Errorf("atr length must be at least 1, got %d", c.ATRLength)
	}
	if c.EMAShortLength < 1 {
		return fmt.Errorf("ema short length must be at least 1, got %d", c.EMAShortLength)
	}
	if c.EMALongLength <= c.EMAShortLength {
		return fmt.Errorf("ema long length must exceed the short length (%d <= %d)", c.EMALongLength, c.EMAShortLength)
	}
	if c.TrendStrengthMultiplier <= 0 {
		return fmt.Errorf("trend strength multiplier must be greater than 0, got %v", c.TrendStrengthMultiplier)
	}
	return nil
}

// Snapshot is one cycle's indicator state. Ready is false until the candle
// series is long enough for every measure.
type Snapshot struct {
	ATR           float64
	ATRPct        float64
	EMAShort      float64
	EMALong       float64
	TrendUp       bool
	TrendDown     bool
	TrendStrength float64
	Ready         bool
}

// ATR returns the average true range over the most recent length periods.
// Candles are expected oldest first. The boolean is false when the series is
// shorter than length+1 candles.
func ATR(candles []models.Candle, length int) (float64, bool) {
	if length < 1 || len(candles) < length+1 {
		return 0, false
	}
	n := len(candles)
	var sum float64
	for i := 1; i <= length; i++ {
		cur := candles[n-i]
		prev := candles[n-i-1]
		tr := cur.High - cur.Low
		if hc := math.Abs(cur.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(cur.Low - prev.Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(length), true
}

// EMA returns the exponential moving average of values with the given length.
// The seed is the simple mean of the first length values. The boolean is
// false when fewer than length values are available.
func EMA(values []float64, length int) (float64, bool) {
	if length < 1 || len(values) < length {
		return 0, false
	}
	var seed float64
	for _, v := range values[:length] {
		seed += v
	}
	ema := seed / float64(length)
	k := 2 / (float64(length) + 1)
	for _, v := range values[length:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// Compute evaluates every indicator against the candle series and the current
// price. The snapshot is not Ready when the series is too short or the price
// is unusable.
func Compute(candles []models.Candle, price float64, cfg Config) Snapshot {
	if price <= 0 {
		return Snapshot{}
	}

	atr, ok := ATR(candles, cfg.ATRLength)
	if !ok {
		return Snapshot{}
	}

	closes := models.Closes(candles)
	emaShort, okShort := EMA(closes, cfg.EMAShortLength)
	emaLong, okLong := EMA(closes, cfg.EMALongLength)
	if !okShort || !okLong || emaLong == 0 {
		return Snapshot{}
	}

	diffPct := math.Abs(emaShort-emaLong) / emaLong * 100
	return Snapshot{
		ATR:           atr,
		ATRPct:        atr / price * 100,
		EMAShort:      emaShort,
		EMALong:       emaLong,
		TrendUp:       emaShort > emaLong,
		TrendDown:     emaShort < emaLong,
		TrendStrength: diffPct * cfg.TrendStrengthMultiplier,
		Ready:         true,
	}
}
