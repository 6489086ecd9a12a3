package bybit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/yanapattin-source/bybit-rebalance-perp/models"
)

// Wire shapes for the V5 result payloads this client consumes. Every numeric
// field arrives as a string.

type klineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

type tickersResult struct {
	Category string        `json:"category"`
	List     []tickerEntry `json:"list"`
}

type tickerEntry struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

type positionResult struct {
	Category string          `json:"category"`
	List     []positionEntry `json:"list"`
}

type positionEntry struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Size     string `json:"size"`
	AvgPrice string `json:"avgPrice"`
}

type walletResult struct {
	List []walletAccount `json:"list"`
}

type walletAccount struct {
	AccountType           string       `json:"accountType"`
	TotalAvailableBalance string       `json:"totalAvailableBalance"`
	Coin                  []walletCoin `json:"coin"`
}

type walletCoin struct {
	Coin                string `json:"coin"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
	WalletBalance       string `json:"walletBalance"`
}

type transactionLogResult struct {
	List           []transactionLogEntry `json:"list"`
	NextPageCursor string                `json:"nextPageCursor"`
}

type transactionLogEntry struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Change          string `json:"change"`
	Currency        string `json:"currency"`
	TransactionTime string `json:"transactionTime"`
}

type orderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// candlesFromKline converts a kline result into an oldest-first candle
// series. The exchange returns rows newest first.
func candlesFromKline(res klineResult) ([]models.Candle, error) {
	candles := make([]models.Candle, 0, len(res.List))
	for i := len(res.List) - 1; i >= 0; i-- {
		row := res.List[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline start %q: %w", row[0], err)
		}
		open, err := parseField("open", row[1])
		if err != nil {
			return nil, err
		}
		high, err := parseField("high", row[2])
		if err != nil {
			return nil, err
		}
		low, err := parseField("low", row[3])
		if err != nil {
			return nil, err
		}
		closePrice, err := parseField("close", row[4])
		if err != nil {
			return nil, err
		}
		volume, err := parseField("volume", row[5])
		if err != nil {
			return nil, err
		}
		candles = append(candles, models.Candle{
			Start:  time.UnixMilli(startMs).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return candles, nil
}

func parseField(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse kline %s %q: %w", field, value, err)
	}
	return f, nil
}

func lastPriceFromTickers(res tickersResult, symbol string) (float64, error) {
	for _, t := range res.List {
		if t.Symbol != symbol {
			continue
		}
		price := parseNumber(t.LastPrice)
		if price <= 0 {
			price = parseNumber(t.MarkPrice)
		}
		if price <= 0 {
			return 0, fmt.Errorf("ticker for %s carries no usable price", symbol)
		}
		return price, nil
	}
	return 0, fmt.Errorf("symbol %s missing from tickers response", symbol)
}

// positionFromResult maps the position list onto the symbol's position. A
// missing row or an unrecognized side both mean flat.
func positionFromResult(res positionResult, symbol string) models.Position {
	for _, p := range res.List {
		if p.Symbol != symbol {
			continue
		}
		size := parseNumber(p.Size)
		entry := parseNumber(p.AvgPrice)
		switch p.Side {
		case "Buy":
			return models.LongPosition(size, entry)
		case "Sell":
			return models.ShortPosition(size, entry)
		}
		return models.FlatPosition()
	}
	return models.FlatPosition()
}

// availableMarginFromWallet picks the withdrawable balance of the margin
// coin, falling back to the account-level available balance.
func availableMarginFromWallet(res walletResult, coin string) float64 {
	for _, acct := range res.List {
		for _, c := range acct.Coin {
			if c.Coin != coin {
				continue
			}
			if v := parseNumber(c.AvailableToWithdraw); v > 0 {
				return v
			}
		}
		if v := parseNumber(acct.TotalAvailableBalance); v > 0 {
			return v
		}
	}
	return 0
}

func ledgerEntriesFromResult(res transactionLogResult) []models.LedgerEntry {
	entries := make([]models.LedgerEntry, 0, len(res.List))
	for _, e := range res.List {
		var ts time.Time
		if ms, err := strconv.ParseInt(e.TransactionTime, 10, 64); err == nil {
			ts = time.UnixMilli(ms).UTC()
		}
		entries = append(entries, models.LedgerEntry{
			ID:       e.ID,
			Type:     e.Type,
			Amount:   parseNumber(e.Change),
			Currency: e.Currency,
			Time:     ts,
		})
	}
	return entries
}

func parseNumber(value string) float64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}
