// Package bybit wraps the Bybit V5 unified-trading API behind the narrow
// surface the rebalancing engine needs: candles, prices, the position, the
// wallet, the transaction log and order placement.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appconfig "github.com/yanapattin-source/bybit-rebalance-perp/config"
	"github.com/yanapattin-source/bybit-rebalance-perp/logger"
	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// leverage already set to the requested value
const retCodeLeverageNotModified = 110043

// APIError is a non-zero retCode returned by the exchange.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit retCode %d: %s", e.Code, e.Message)
}

// Client talks to the Bybit REST API for a single configured symbol. All
// requests flow through one rate limiter.
type Client struct {
	api          *bybit.Client
	cfg          appconfig.ExchangeConfig
	limiter      *rate.Limiter
	log          *logger.Log
	qtyPrecision int
}

// NewClient builds a client for the configured symbol. The qty step decides
// how many decimals order quantities are formatted with.
func NewClient(cfg appconfig.ExchangeConfig, qtyStep float64) *Client {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	api := bybit.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit.WithBaseURL(cfg.RestBaseURL()))
	api.HTTPClient = httpClient

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = rps
	}

	c := &Client{
		api:          api,
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		log:          log,
		qtyPrecision: precisionForStep(qtyStep),
	}

	log.WithComponent("bybit_client").WithFields(logger.Fields{
		"base_url": cfg.RestBaseURL(),
		"symbol":   cfg.Symbol,
		"timeout":  cfg.Timeout,
	}).Info("bybit client initialized")

	return c
}

// Klines returns up to limit candles for the configured symbol and
// timeframe, oldest first.
func (c *Client) Klines(ctx context.Context, limit int) ([]models.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   c.cfg.Symbol,
		"interval": c.cfg.Timeframe,
		"limit":    limit,
	}

	start := time.Now()
	resp, err := c.api.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	logger.LogPerformanceEntry(c.log.WithComponent("bybit_client"), "bybit_client", "get_kline", time.Since(start), logger.Fields{
		"symbol": c.cfg.Symbol,
	})

	var result klineResult
	if err := decodeResult(resp, &result); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return candlesFromKline(result)
}

// LastPrice returns the latest traded price of the configured symbol.
func (c *Client) LastPrice(ctx context.Context) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   c.cfg.Symbol,
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch tickers: %w", err)
	}

	var result tickersResult
	if err := decodeResult(resp, &result); err != nil {
		return 0, fmt.Errorf("decode tickers: %w", err)
	}
	return lastPriceFromTickers(result, c.cfg.Symbol)
}

// Position returns the current position for the configured symbol. A symbol
// without an open position reports flat.
func (c *Client) Position(ctx context.Context) (models.Position, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.FlatPosition(), err
	}

	params := map[string]interface{}{
		"category": c.cfg.Category,
		"symbol":   c.cfg.Symbol,
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return models.FlatPosition(), fmt.Errorf("fetch position: %w", err)
	}

	var result positionResult
	if err := decodeResult(resp, &result); err != nil {
		return models.FlatPosition(), fmt.Errorf("decode position: %w", err)
	}
	return positionFromResult(result, c.cfg.Symbol), nil
}

// AvailableMargin returns the free margin-coin balance of the unified
// account.
func (c *Client) AvailableMargin(ctx context.Context) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        c.cfg.MarginCoin,
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch wallet: %w", err)
	}

	var result walletResult
	if err := decodeResult(resp, &result); err != nil {
		return 0, fmt.Errorf("decode wallet: %w", err)
	}
	return availableMarginFromWallet(result, c.cfg.MarginCoin), nil
}

// TransactionLog returns margin-coin ledger entries since the given time,
// newest first, capped at limit.
func (c *Client) TransactionLog(ctx context.Context, since time.Time, limit int) ([]models.LedgerEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"category":    c.cfg.Category,
		"currency":    c.cfg.MarginCoin,
		"startTime":   since.UnixMilli(),
		"limit":       limit,
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(params).GetTransactionLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction log: %w", err)
	}

	var result transactionLogResult
	if err := decodeResult(resp, &result); err != nil {
		return nil, fmt.Errorf("decode transaction log: %w", err)
	}
	return ledgerEntriesFromResult(result), nil
}

// PlaceOrder submits the instruction as a market or GTC limit order and
// returns the exchange order ID.
func (c *Client) PlaceOrder(ctx context.Context, instr models.TradeInstruction, price float64, market bool) (string, error) {
	if !instr.Actionable() {
		return "", fmt.Errorf("instruction %+v is not actionable", instr)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	side := "Buy"
	if instr.Side == models.SideSell {
		side = "Sell"
	}

	params := map[string]interface{}{
		"category":    c.cfg.Category,
		"symbol":      c.cfg.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         c.FormatQty(instr.Qty),
		"reduceOnly":  instr.ReduceOnly,
		"orderLinkId": uuid.New().String(),
	}
	if !market {
		params["orderType"] = "Limit"
		params["price"] = strconv.FormatFloat(price, 'f', -1, 64)
		params["timeInForce"] = "GTC"
	}

	start := time.Now()
	resp, err := c.api.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	logger.LogPerformanceEntry(c.log.WithComponent("bybit_client"), "bybit_client", "place_order", time.Since(start), logger.Fields{
		"symbol": c.cfg.Symbol,
		"side":   side,
	})

	var result orderResult
	if err := decodeResult(resp, &result); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	return result.OrderID, nil
}

// SetLeverage applies the same leverage to both sides of the symbol. The
// exchange rejecting an unchanged value is not an error.
func (c *Client) SetLeverage(ctx context.Context, leverage float64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	lev := strconv.FormatFloat(leverage, 'f', -1, 64)
	params := map[string]interface{}{
		"category":     c.cfg.Category,
		"symbol":       c.cfg.Symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	if resp != nil && resp.RetCode == retCodeLeverageNotModified {
		return nil
	}
	if err := decodeResult(resp, &struct{}{}); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// FormatQty renders a quantity with the precision of the configured step.
func (c *Client) FormatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', c.qtyPrecision, 64)
}

// decodeResult checks the response envelope and unmarshals Result into out.
func decodeResult(resp *bybit.ServerResponse, out interface{}) error {
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.RetCode != 0 {
		return &APIError{Code: resp.RetCode, Message: resp.RetMsg}
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

// precisionForStep counts the decimals of a quantity step, e.g. 0.0001 -> 4.
func precisionForStep(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
