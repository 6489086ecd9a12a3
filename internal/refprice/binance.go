package refprice

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
)

// BinanceSource reads the Binance USD-M futures price via the REST API.
type BinanceSource struct {
	client  *futures.Client
	symbol  string
	limiter *rate.Limiter
}

// NewBinanceSource builds a read-only futures client for the given symbol.
func NewBinanceSource(cfg appconfig.RefSourceConfig, timeout time.Duration) *BinanceSource {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		client.SetApiEndpoint(cfg.BaseURL)
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &BinanceSource{
		client:  client,
		symbol:  strings.ToUpper(cfg.Symbol),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name identifies the venue in logs.
func (s *BinanceSource) Name() string { return "binance" }

// Price returns the latest futures trade price for the configured symbol.
func (s *BinanceSource) Price(ctx context.Context) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	prices, err := s.client.NewListPricesService().Symbol(s.symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if strings.EqualFold(p.Symbol, s.symbol) {
			return strconv.ParseFloat(p.Price, 64)
		}
	}
	return 0, fmt.Errorf("symbol %s missing from binance price response", s.symbol)
}
