// Package refprice cross-checks the exchange price against independent venues
// before the engine acts on it.
package refprice

import (
	"context"
	"math"
	"sort"

	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
)

// Source supplies a reference price for the traded instrument from one venue.
type Source interface {
	Name() string
	Price(ctx context.Context) (float64, error)
}

// Guard compares a candidate price against the median of the configured
// reference sources.
type Guard struct {
	sources          []Source
	maxDivergencePct float64
	log              *logger.Log
}

// NewGuard wires the given sources into a divergence check.
func NewGuard(maxDivergencePct float64, sources ...Source) *Guard {
	return &Guard{
		sources:          sources,
		maxDivergencePct: maxDivergencePct,
		log:              logger.GetLogger(),
	}
}

// Check reports whether price stays within the allowed divergence of the
// reference median, along with the observed divergence percentage. Sources
// that fail to answer are skipped; when none answer the check passes.
func (g *Guard) Check(ctx context.Context, price float64) (bool, float64) {
	if len(g.sources) == 0 {
		return true, 0
	}

	log := g.log.WithComponent("refprice")

	prices := make([]float64, 0, len(g.sources))
	for _, src := range g.sources {
		ref, err := src.Price(ctx)
		if err != nil {
			log.WithFields(logger.Fields{"source": src.Name()}).WithError(err).Warn("reference price unavailable")
			continue
		}
		if ref <= 0 {
			continue
		}
		prices = append(prices, ref)
	}

	if len(prices) == 0 {
		return true, 0
	}

	med := median(prices)
	divergence := math.Abs(price-med) / med * 100

	if divergence > g.maxDivergencePct {
		log.WithFields(logger.Fields{
			"price":          price,
			"median":         med,
			"divergence_pct": divergence,
			"max_pct":        g.maxDivergencePct,
			"sources":        len(prices),
		}).Warn("price diverges from reference venues")
		return false, divergence
	}

	return true, divergence
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
