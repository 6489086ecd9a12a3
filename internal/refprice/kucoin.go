package refprice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
)

// KucoinSource reads the KuCoin futures contract price via the universal SDK.
type KucoinSource struct {
	marketAPI futuresmarket.MarketAPI
	symbol    string
	limiter   *rate.Limiter
}

// NewKucoinSource builds a public futures client for the given contract.
func NewKucoinSource(cfg appconfig.RefSourceConfig, timeout time.Duration) *KucoinSource {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api-futures.kucoin.com"
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(4).
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()

	client := sdkapi.NewClient(option)

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &KucoinSource{
		marketAPI: client.RestService().GetFuturesService().GetMarketAPI(),
		symbol:    cfg.Symbol,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name identifies the venue in logs.
func (s *KucoinSource) Name() string { return "kucoin" }

// Price returns the mark price of the configured contract, falling back to
// the last trade price when the mark is absent.
func (s *KucoinSource) Price(ctx context.Context) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req := futuresmarket.NewGetSymbolReqBuilder().SetSymbol(s.symbol).Build()
	resp, err := s.marketAPI.GetSymbol(req, ctx)
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, fmt.Errorf("empty response for contract %s", s.symbol)
	}

	// The generated model marshals with the wire field names.
	raw, err := json.Marshal(resp)
	if err != nil {
		return 0, err
	}
	var detail struct {
		MarkPrice      float64 `json:"markPrice"`
		LastTradePrice float64 `json:"lastTradePrice"`
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return 0, err
	}

	if detail.MarkPrice > 0 {
		return detail.MarkPrice, nil
	}
	if detail.LastTradePrice > 0 {
		return detail.LastTradePrice, nil
	}
	return 0, fmt.Errorf("contract %s carries no usable price", s.symbol)
}
